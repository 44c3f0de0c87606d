package imaging

import (
	"sync"
	"time"

	"github.com/oncorec-server/internal/domain"
)

// ProgressEvent is one job status update delivered to subscribers.
type ProgressEvent struct {
	JobID      string                `json:"job_id"`
	Status     domain.AnalysisStatus `json:"status"`
	TotalCells int                   `json:"total_cells,omitempty"`
	Error      string                `json:"error,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

// subscriberBuffer sizes each subscriber channel. A job emits a handful of
// transitions, so a small buffer absorbs a slow reader without blocking
// the analysis goroutine.
const subscriberBuffer = 8

// ProgressHub fans job progress events out to per-job subscribers.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string]map[chan ProgressEvent]struct{}
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[string]map[chan ProgressEvent]struct{}),
	}
}

// Subscribe registers for a job's events. The cancel func removes the
// subscription and closes the channel; calling it twice is safe.
func (h *ProgressHub) Subscribe(jobID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan ProgressEvent]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[jobID]; ok {
				if _, subscribed := set[ch]; subscribed {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
			h.mu.Unlock()
		})
	}

	return ch, cancel
}

// Publish delivers an event to every subscriber of its job. A subscriber
// that cannot keep up loses the event rather than stalling publication.
func (h *ProgressHub) Publish(event ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// CloseJob closes and removes every subscription for a finished job.
func (h *ProgressHub) CloseJob(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[jobID] {
		close(ch)
	}
	delete(h.subs, jobID)
}
