package catalog

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Store publishes the current catalog snapshot to concurrent readers.
// Readers take a snapshot once per request and score against it; Swap
// replaces the whole snapshot in one atomic step (there is never a moment
// where a reader can see drugs from one version and interactions from
// another).
type Store struct {
	current atomic.Pointer[Snapshot]
	logger  *logrus.Logger
}

// NewStore creates a store primed with an initial snapshot.
func NewStore(initial *Snapshot, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{logger: logger}
	s.current.Store(initial)
	logger.WithFields(logrus.Fields{
		"catalog_version": initial.Version(),
		"drugs":           initial.Len(),
		"interactions":    initial.InteractionCount(),
	}).Info("Catalog snapshot published")
	return s
}

// Current returns the snapshot requests should score against. Callers hold
// on to the returned pointer for the duration of one request.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Swap atomically publishes a new snapshot and returns the previous one.
func (s *Store) Swap(next *Snapshot) *Snapshot {
	prev := s.current.Swap(next)
	s.logger.WithFields(logrus.Fields{
		"catalog_version":  next.Version(),
		"previous_version": prev.Version(),
		"drugs":            next.Len(),
		"interactions":     next.InteractionCount(),
	}).Info("Catalog snapshot swapped")
	return prev
}
