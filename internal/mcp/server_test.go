package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncorec-server/internal/config"
	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/internal/feedback"
	"github.com/oncorec-server/internal/imaging"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testLiteConfig(t *testing.T) *config.LiteConfig {
	t.Helper()
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = t.TempDir()
	cfg.LogLevel = "error"
	return cfg
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	opts = append([]ServerOption{WithLogger(testLogger())}, opts...)
	server, err := NewServer(testLiteConfig(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return server
}

func testPatient() domain.PatientProfile {
	age := 62
	ecog := domain.ECOGStatus(1)
	return domain.PatientProfile{
		PatientID:  "PT-001",
		Age:        &age,
		CancerType: domain.COLORECTAL,
		Stage:      domain.STAGE_III,
		ECOG:       &ecog,
		KRAS:       domain.KRAS_WILD_TYPE,
	}
}

type stubResolver struct {
	summary *domain.MorphologySummary
	err     error
	images  int
}

func (s *stubResolver) ResolveMorphology(ctx context.Context, image []byte) (*domain.MorphologySummary, error) {
	s.images++
	if s.err != nil {
		return nil, s.err
	}
	return s.summary, nil
}

func (s *stubResolver) BatchResolve(ctx context.Context, images [][]byte) (map[string]*domain.MorphologySummary, error) {
	return nil, nil
}

func (s *stubResolver) InvalidateImage(ctx context.Context, imageDigest string) error {
	return nil
}

func (s *stubResolver) GetCacheStats() imaging.CacheStats {
	return imaging.CacheStats{}
}

func TestNewServer_SeedCatalog(t *testing.T) {
	server := newTestServer(t)

	snap := server.CatalogStore().Current()
	assert.Equal(t, 11, snap.Len())
	assert.NotEmpty(t, snap.Version())
	assert.NotNil(t, server.FeedbackStore())
	assert.NotNil(t, server.Cache())
}

func TestNewServer_CreatesDataDir(t *testing.T) {
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = t.TempDir() + "/nested/data"
	cfg.LogLevel = "error"

	server, err := NewServer(cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	defer server.Close()

	info, err := os.Stat(cfg.ExportDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStart_RejectsUnsupportedTransport(t *testing.T) {
	cfg := testLiteConfig(t)
	cfg.Transport = "http"
	server, err := NewServer(cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	defer server.Close()

	err = server.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdio only")
}

func TestHandleListDrugs(t *testing.T) {
	server := newTestServer(t)

	res, structured, err := server.handleListDrugs(context.Background(), nil, ListDrugsParams{})

	require.NoError(t, err)
	assert.False(t, res.IsError)
	result, ok := structured.(ListDrugsResult)
	require.True(t, ok)
	assert.Equal(t, 11, result.Count)
	require.NotEmpty(t, result.Drugs)
	// Drugs() is id-sorted; the ranking tie-break depends on it.
	for i := 1; i < len(result.Drugs); i++ {
		assert.Less(t, result.Drugs[i-1].ID, result.Drugs[i].ID)
	}
}

func TestHandleLookupDrug(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name    string
		drugID  string
		wantID  string
		wantErr bool
	}{
		{name: "canonical id", drugID: "OXALIPLATIN", wantID: "OXALIPLATIN"},
		{name: "alias", drugID: "5-FU", wantID: "FLUOROURACIL"},
		{name: "lowercase", drugID: "cisplatin", wantID: "CISPLATIN"},
		{name: "unknown", drugID: "NOSUCHDRUG", wantErr: true},
		{name: "empty", drugID: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, structured, err := server.handleLookupDrug(context.Background(), nil, LookupDrugParams{DrugID: tt.drugID})

			require.NoError(t, err)
			if tt.wantErr {
				assert.True(t, res.IsError)
				return
			}
			require.False(t, res.IsError)
			drug, ok := structured.(domain.Drug)
			require.True(t, ok)
			assert.Equal(t, tt.wantID, drug.ID)
		})
	}
}

func TestHandleRecommend_Deterministic(t *testing.T) {
	server := newTestServer(t)
	params := RecommendParams{Patient: testPatient(), RegimenSize: 2, TopN: 5}

	_, first, err := server.handleRecommend(context.Background(), nil, params)
	require.NoError(t, err)
	_, second, err := server.handleRecommend(context.Background(), nil, params)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	result, ok := first.(RecommendResult)
	require.True(t, ok)
	require.Len(t, result.Results, 5)
	for i, r := range result.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.Len(t, r.Regimen.DrugIDs, 2)
	}
}

// versionPinnedRecommender returns results stamped with a fixed catalog
// version, standing in for a recommender whose snapshot moved past the
// handler's version read.
type versionPinnedRecommender struct {
	version string
}

func (r *versionPinnedRecommender) Recommend(ctx context.Context, req *domain.RecommendationRequest) ([]domain.ScoredRegimen, error) {
	reg, err := domain.NewRegimen("CISPLATIN", "GEMCITABINE")
	if err != nil {
		return nil, err
	}
	return []domain.ScoredRegimen{{Regimen: reg, Rank: 1, CatalogVersion: r.version}}, nil
}

func (r *versionPinnedRecommender) ScoreRegimen(ctx context.Context, reg domain.Regimen, patient domain.PatientProfile) (*domain.ScoredRegimen, error) {
	return &domain.ScoredRegimen{Regimen: reg, Rank: 1, CatalogVersion: r.version}, nil
}

func TestHandleRecommend_LabelsVersionFromResults(t *testing.T) {
	scored := "reloaded-2025.1"
	server := newTestServer(t, WithRecommender(&versionPinnedRecommender{version: scored}))

	res, structured, err := server.handleRecommend(context.Background(), nil, RecommendParams{Patient: testPatient()})
	require.NoError(t, err)
	require.False(t, res.IsError)

	result, ok := structured.(RecommendResult)
	require.True(t, ok)
	assert.Equal(t, scored, result.CatalogVersion)
	assert.NotEqual(t, server.catalogStore.Current().Version(), result.CatalogVersion)

	// The cache entry lands under the scored version, not the one read
	// before the call.
	req := &domain.RecommendationRequest{
		Patient:     testPatient(),
		RegimenSize: defaultRegimenSize,
		TopN:        defaultTopN,
	}
	var cached RecommendResult
	hit, err := server.cache.GetJSON(recommendCacheKey(req, scored), &cached)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, scored, cached.CatalogVersion)

	staleHit, err := server.cache.GetJSON(recommendCacheKey(req, server.catalogStore.Current().Version()), &cached)
	require.NoError(t, err)
	assert.False(t, staleHit)
}

func TestHandleRecommend_Defaults(t *testing.T) {
	server := newTestServer(t)

	res, structured, err := server.handleRecommend(context.Background(), nil, RecommendParams{Patient: testPatient()})

	require.NoError(t, err)
	require.False(t, res.IsError)
	result, ok := structured.(RecommendResult)
	require.True(t, ok)
	assert.Equal(t, defaultRegimenSize, result.RegimenSize)
	assert.Len(t, result.Results, defaultTopN)
}

func TestHandleRecommend_InvalidRequest(t *testing.T) {
	server := newTestServer(t)

	res, structured, err := server.handleRecommend(context.Background(), nil, RecommendParams{
		Patient:     testPatient(),
		RegimenSize: 4,
		TopN:        5,
	})

	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Nil(t, structured)
}

func TestHandleScoreRegimen(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name    string
		params  ScoreRegimenParams
		wantKey string
		wantErr bool
	}{
		{
			name:    "notation with aliases",
			params:  ScoreRegimenParams{Regimen: "5-FU + Oxaliplatin", Patient: testPatient()},
			wantKey: "FLUOROURACIL+OXALIPLATIN",
		},
		{
			name:    "explicit drug ids",
			params:  ScoreRegimenParams{DrugIDs: []string{"OXALIPLATIN", "FLUOROURACIL"}, Patient: testPatient()},
			wantKey: "FLUOROURACIL+OXALIPLATIN",
		},
		{
			name:    "both notations",
			params:  ScoreRegimenParams{Regimen: "5-FU", DrugIDs: []string{"CISPLATIN"}, Patient: testPatient()},
			wantErr: true,
		},
		{
			name:    "neither",
			params:  ScoreRegimenParams{Patient: testPatient()},
			wantErr: true,
		},
		{
			name:    "duplicate drug",
			params:  ScoreRegimenParams{DrugIDs: []string{"CISPLATIN", "CISPLATIN"}, Patient: testPatient()},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, structured, err := server.handleScoreRegimen(context.Background(), nil, tt.params)

			require.NoError(t, err)
			if tt.wantErr {
				assert.True(t, res.IsError)
				return
			}
			require.False(t, res.IsError)
			scored, ok := structured.(*domain.ScoredRegimen)
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, scored.Regimen.Key())
			assert.NotZero(t, scored.Composite)
		})
	}
}

func TestHandleScoreRegimen_NotationMatchesExplicitIDs(t *testing.T) {
	server := newTestServer(t)

	_, byNotation, err := server.handleScoreRegimen(context.Background(), nil,
		ScoreRegimenParams{Regimen: "Oxaliplatin / 5-FU", Patient: testPatient()})
	require.NoError(t, err)
	_, byIDs, err := server.handleScoreRegimen(context.Background(), nil,
		ScoreRegimenParams{DrugIDs: []string{"FLUOROURACIL", "OXALIPLATIN"}, Patient: testPatient()})
	require.NoError(t, err)

	a := byNotation.(*domain.ScoredRegimen)
	b := byIDs.(*domain.ScoredRegimen)
	assert.Equal(t, a.Regimen.Key(), b.Regimen.Key())
	assert.Equal(t, a.Composite, b.Composite)
}

func TestHandleAnalyzeMorphology(t *testing.T) {
	summary := &domain.MorphologySummary{
		TotalCells:    42,
		MeanArea:      350.5,
		AreaCV:        0.41,
		Heterogeneity: domain.HETEROGENEITY_MODERATE,
	}
	resolver := &stubResolver{summary: summary}
	server := newTestServer(t, WithMorphologyResolver(resolver))

	image := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	res, structured, err := server.handleAnalyzeMorphology(context.Background(), nil, AnalyzeMorphologyParams{ImageBase64: image})

	require.NoError(t, err)
	require.False(t, res.IsError)
	got, ok := structured.(*domain.MorphologySummary)
	require.True(t, ok)
	assert.Equal(t, 42, got.TotalCells)
	assert.Equal(t, 1, resolver.images)
}

func TestHandleAnalyzeMorphology_NoResolver(t *testing.T) {
	server := newTestServer(t)

	res, _, err := server.handleAnalyzeMorphology(context.Background(), nil, AnalyzeMorphologyParams{ImageBase64: "aGk="})

	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleAnalyzeMorphology_BadEncoding(t *testing.T) {
	server := newTestServer(t, WithMorphologyResolver(&stubResolver{}))

	res, _, err := server.handleAnalyzeMorphology(context.Background(), nil, AnalyzeMorphologyParams{ImageBase64: "not base64!!"})

	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestFeedbackTools_RoundTrip(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	res, structured, err := server.handleSubmitFeedback(ctx, nil, SubmitFeedbackParams{
		PatientID:     "PT-001",
		Regimen:       "5-FU + Oxaliplatin",
		Verdict:       "agreed",
		SuggestedRank: 1,
		Composite:     4.21,
		Notes:         "started cycle one",
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	saved, ok := structured.(*feedback.Feedback)
	require.True(t, ok)
	assert.Equal(t, "FLUOROURACIL+OXALIPLATIN", saved.RegimenKey)
	assert.Equal(t, feedback.VerdictAgreed, saved.Verdict)

	res, structured, err = server.handleListFeedback(ctx, nil, ListFeedbackParams{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	list, ok := structured.(ListFeedbackResult)
	require.True(t, ok)
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Feedback, 1)
	assert.Equal(t, "PT-001", list.Feedback[0].PatientID)

	res, structured, err = server.handleExportFeedback(ctx, nil, ExportFeedbackParams{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	export, ok := structured.(ExportFeedbackResult)
	require.True(t, ok)
	assert.Equal(t, int64(1), export.Count)

	data, err := os.ReadFile(export.Path)
	require.NoError(t, err)
	var envelope feedback.FeedbackExport
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, 1, envelope.Count)
}

func TestHandleSubmitFeedback_Invalid(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params SubmitFeedbackParams
	}{
		{name: "missing patient", params: SubmitFeedbackParams{Regimen: "CISPLATIN", Verdict: "AGREED"}},
		{name: "missing regimen", params: SubmitFeedbackParams{PatientID: "PT-001", Verdict: "AGREED"}},
		{name: "bad verdict", params: SubmitFeedbackParams{PatientID: "PT-001", Regimen: "CISPLATIN", Verdict: "MAYBE"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := server.handleSubmitFeedback(ctx, nil, tt.params)
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestRecommendCacheKey_VariesWithCatalogVersion(t *testing.T) {
	req := &domain.RecommendationRequest{Patient: testPatient(), RegimenSize: 2, TopN: 5}

	a := recommendCacheKey(req, "v1")
	b := recommendCacheKey(req, "v2")
	c := recommendCacheKey(req, "v1")

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}

func TestServerClose_Idempotent(t *testing.T) {
	server, err := NewServer(testLiteConfig(t), WithLogger(testLogger()))
	require.NoError(t, err)

	require.NoError(t, server.Close())

	// A second close must not panic; the sqlite store tolerates it.
	_ = server.Close()
}
