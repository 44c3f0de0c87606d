package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/oncorec-server/internal/domain"
	"github.com/oncorec-server/internal/feedback"
)

// RecommendParams defines parameters for the recommend_combinations tool.
type RecommendParams struct {
	Patient     domain.PatientProfile `json:"patient"`
	RegimenSize int                   `json:"regimen_size,omitempty"`
	TopN        int                   `json:"top_n,omitempty"`
}

// RecommendResult defines the result structure for recommend_combinations.
type RecommendResult struct {
	CatalogVersion string                 `json:"catalog_version"`
	RegimenSize    int                    `json:"regimen_size"`
	Results        []domain.ScoredRegimen `json:"results"`
}

// ScoreRegimenParams defines parameters for the score_regimen tool. Regimen
// takes combination notation ("5-FU + Oxaliplatin"); DrugIDs is the explicit
// alternative. Exactly one of the two is required.
type ScoreRegimenParams struct {
	Regimen string                `json:"regimen,omitempty"`
	DrugIDs []string              `json:"drug_ids,omitempty"`
	Patient domain.PatientProfile `json:"patient"`
}

// LookupDrugParams defines parameters for the lookup_drug tool.
type LookupDrugParams struct {
	DrugID string `json:"drug_id"`
}

// ListDrugsParams defines parameters for the list_drugs tool.
type ListDrugsParams struct{}

// ListDrugsResult defines the result structure for list_drugs.
type ListDrugsResult struct {
	CatalogVersion string        `json:"catalog_version"`
	Count          int           `json:"count"`
	Drugs          []domain.Drug `json:"drugs"`
}

// AnalyzeMorphologyParams defines parameters for the analyze_morphology tool.
type AnalyzeMorphologyParams struct {
	ImageBase64 string `json:"image_base64"`
}

// SubmitFeedbackParams defines parameters for the submit_feedback tool.
type SubmitFeedbackParams struct {
	PatientID      string  `json:"patient_id"`
	Regimen        string  `json:"regimen"`
	Verdict        string  `json:"verdict"`
	RunID          string  `json:"run_id,omitempty"`
	CancerType     string  `json:"cancer_type,omitempty"`
	SuggestedRank  int     `json:"suggested_rank,omitempty"`
	Composite      float64 `json:"composite,omitempty"`
	AppliedRegimen string  `json:"applied_regimen,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

// ListFeedbackParams defines parameters for the list_feedback tool.
type ListFeedbackParams struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ListFeedbackResult defines the result structure for list_feedback.
type ListFeedbackResult struct {
	Total    int64                `json:"total"`
	Returned int                  `json:"returned"`
	Feedback []*feedback.Feedback `json:"feedback"`
}

// ExportFeedbackParams defines parameters for the export_feedback tool.
type ExportFeedbackParams struct {
	Path string `json:"path,omitempty"`
}

// ExportFeedbackResult defines the result structure for export_feedback.
type ExportFeedbackResult struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

const (
	defaultRegimenSize = 2
	defaultTopN        = 5
	defaultListLimit   = 20
)

// handleRecommend handles the recommend_combinations tool invocation.
func (s *Server) handleRecommend(ctx context.Context, req *mcp.CallToolRequest, params RecommendParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":         "recommend_combinations",
		"patient_id":   params.Patient.PatientID,
		"regimen_size": params.RegimenSize,
	}).Info("Tool invoked")

	if params.RegimenSize == 0 {
		params.RegimenSize = defaultRegimenSize
	}
	if params.TopN == 0 {
		params.TopN = defaultTopN
	}

	recReq := &domain.RecommendationRequest{
		Patient:     params.Patient,
		RegimenSize: params.RegimenSize,
		TopN:        params.TopN,
	}

	catalogVersion := s.catalogStore.Current().Version()
	cacheKey := recommendCacheKey(recReq, catalogVersion)

	var cached RecommendResult
	if hit, err := s.cache.GetJSON(cacheKey, &cached); err == nil && hit {
		return recommendToolResult(&cached), cached, nil
	}

	results, err := s.recommender.Recommend(ctx, recReq)
	if err != nil {
		return s.errorResult("recommendation failed", err), nil, nil
	}

	// The recommender scores against its own snapshot; if a reload landed
	// between our version read and the call, label and key the result by
	// the version actually scored.
	if len(results) > 0 && results[0].CatalogVersion != catalogVersion {
		catalogVersion = results[0].CatalogVersion
		cacheKey = recommendCacheKey(recReq, catalogVersion)
	}

	result := RecommendResult{
		CatalogVersion: catalogVersion,
		RegimenSize:    params.RegimenSize,
		Results:        results,
	}
	if err := s.cache.SetJSON(cacheKey, result); err != nil {
		s.logger.WithError(err).Debug("Failed to cache recommendation")
	}

	return recommendToolResult(&result), result, nil
}

// handleScoreRegimen handles the score_regimen tool invocation.
func (s *Server) handleScoreRegimen(ctx context.Context, req *mcp.CallToolRequest, params ScoreRegimenParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":       "score_regimen",
		"patient_id": params.Patient.PatientID,
	}).Info("Tool invoked")

	var (
		reg domain.Regimen
		err error
	)
	switch {
	case params.Regimen != "" && len(params.DrugIDs) > 0:
		return s.errorResult("invalid parameters", fmt.Errorf("provide regimen notation or drug_ids, not both")), nil, nil
	case params.Regimen != "":
		reg, err = s.parser.Parse(params.Regimen)
	case len(params.DrugIDs) > 0:
		reg, err = domain.NewRegimen(params.DrugIDs...)
	default:
		return s.errorResult("missing required parameter", fmt.Errorf("regimen or drug_ids is required")), nil, nil
	}
	if err != nil {
		return s.errorResult("invalid regimen", err), nil, nil
	}

	scored, err := s.recommender.ScoreRegimen(ctx, reg, params.Patient)
	if err != nil {
		return s.errorResult("scoring failed", err), nil, nil
	}

	text := fmt.Sprintf("%s: composite %.2f (efficacy %.2f, synergy %.2f, toxicity %.2f), confidence %s",
		scored.Regimen.Key(), scored.Composite, scored.MeanEfficacy, scored.Synergy, scored.AggregateToxicity, scored.Confidence)
	return textResult(text), scored, nil
}

// handleLookupDrug handles the lookup_drug tool invocation.
func (s *Server) handleLookupDrug(ctx context.Context, req *mcp.CallToolRequest, params LookupDrugParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":    "lookup_drug",
		"drug_id": params.DrugID,
	}).Info("Tool invoked")

	if params.DrugID == "" {
		return s.errorResult("missing required parameter", fmt.Errorf("drug_id is required")), nil, nil
	}

	// Aliases like 5-FU resolve through the notation parser first.
	id, err := s.parser.CanonicalDrugID(params.DrugID)
	if err != nil {
		id = strings.ToUpper(strings.TrimSpace(params.DrugID))
	}

	drug, err := s.catalogStore.Current().Lookup(id)
	if err != nil {
		return s.errorResult("drug not found", err), nil, nil
	}

	text := fmt.Sprintf("%s (%s): class %s, efficacy %.1f/10, toxicity %.1f/10",
		drug.ID, drug.Name, drug.Class, drug.Efficacy, drug.Toxicity)
	return textResult(text), drug, nil
}

// handleListDrugs handles the list_drugs tool invocation.
func (s *Server) handleListDrugs(ctx context.Context, req *mcp.CallToolRequest, params ListDrugsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "list_drugs").Info("Tool invoked")

	snap := s.catalogStore.Current()
	result := ListDrugsResult{
		CatalogVersion: snap.Version(),
		Count:          snap.Len(),
		Drugs:          snap.Drugs(),
	}

	return textResult(fmt.Sprintf("Catalog %s holds %d drugs", result.CatalogVersion, result.Count)), result, nil
}

// handleAnalyzeMorphology handles the analyze_morphology tool invocation.
// Analysis failure is reported as a tool error result so the client can fall
// back to recommending without the morphology covariate.
func (s *Server) handleAnalyzeMorphology(ctx context.Context, req *mcp.CallToolRequest, params AnalyzeMorphologyParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "analyze_morphology").Info("Tool invoked")

	if s.resolver == nil {
		return s.errorResult("segmentation unavailable", fmt.Errorf("no segmentation service configured; set ONCOREC_SEGMENTATION_URL")), nil, nil
	}
	if params.ImageBase64 == "" {
		return s.errorResult("missing required parameter", fmt.Errorf("image_base64 is required")), nil, nil
	}

	image, err := base64.StdEncoding.DecodeString(params.ImageBase64)
	if err != nil {
		return s.errorResult("invalid image encoding", err), nil, nil
	}

	summary, err := s.resolver.ResolveMorphology(ctx, image)
	if err != nil {
		return s.errorResult("analysis failed", err), nil, nil
	}

	text := fmt.Sprintf("%d cells, mean area %.1f px (CV %.2f), heterogeneity %s",
		summary.TotalCells, summary.MeanArea, summary.AreaCV, summary.Heterogeneity)
	return textResult(text), summary, nil
}

// handleSubmitFeedback handles the submit_feedback tool invocation.
func (s *Server) handleSubmitFeedback(ctx context.Context, req *mcp.CallToolRequest, params SubmitFeedbackParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":       "submit_feedback",
		"patient_id": params.PatientID,
		"verdict":    params.Verdict,
	}).Info("Tool invoked")

	if params.PatientID == "" || params.Regimen == "" {
		return s.errorResult("missing required parameter", fmt.Errorf("patient_id and regimen are required")), nil, nil
	}
	verdict := feedback.Verdict(strings.ToUpper(params.Verdict))
	if !verdict.IsValid() {
		return s.errorResult("invalid verdict", fmt.Errorf("verdict %q is not AGREED, REJECTED or ADJUSTED", params.Verdict)), nil, nil
	}

	key, err := s.parser.Canonicalize(params.Regimen)
	if err != nil {
		return s.errorResult("invalid regimen", err), nil, nil
	}
	applied := params.AppliedRegimen
	if applied != "" {
		if applied, err = s.parser.Canonicalize(params.AppliedRegimen); err != nil {
			return s.errorResult("invalid applied regimen", err), nil, nil
		}
	}

	fb := &feedback.Feedback{
		RunID:          params.RunID,
		PatientID:      params.PatientID,
		RegimenKey:     key,
		CancerType:     params.CancerType,
		SuggestedRank:  params.SuggestedRank,
		Composite:      params.Composite,
		Verdict:        verdict,
		AppliedRegimen: applied,
		Notes:          params.Notes,
	}
	if err := s.feedbackStore.Save(ctx, fb); err != nil {
		return s.errorResult("failed to save feedback", err), nil, nil
	}

	return textResult(fmt.Sprintf("Feedback recorded for %s on %s: %s", params.PatientID, key, verdict)), fb, nil
}

// handleListFeedback handles the list_feedback tool invocation.
func (s *Server) handleListFeedback(ctx context.Context, req *mcp.CallToolRequest, params ListFeedbackParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "list_feedback").Info("Tool invoked")

	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	entries, err := s.feedbackStore.List(ctx, limit, offset)
	if err != nil {
		return s.errorResult("failed to list feedback", err), nil, nil
	}
	total, err := s.feedbackStore.Count(ctx)
	if err != nil {
		return s.errorResult("failed to count feedback", err), nil, nil
	}

	result := ListFeedbackResult{
		Total:    total,
		Returned: len(entries),
		Feedback: entries,
	}
	return textResult(fmt.Sprintf("%d of %d feedback entries", result.Returned, result.Total)), result, nil
}

// handleExportFeedback handles the export_feedback tool invocation.
func (s *Server) handleExportFeedback(ctx context.Context, req *mcp.CallToolRequest, params ExportFeedbackParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "export_feedback").Info("Tool invoked")

	path := params.Path
	if path == "" {
		name := fmt.Sprintf("feedback-export-%s.json", time.Now().UTC().Format("20060102-150405"))
		path = filepath.Join(s.config.ExportDir(), name)
	}

	f, err := os.Create(path)
	if err != nil {
		return s.errorResult("failed to create export file", err), nil, nil
	}
	defer f.Close()

	if err := s.feedbackStore.ExportJSON(ctx, f); err != nil {
		return s.errorResult("export failed", err), nil, nil
	}
	count, err := s.feedbackStore.Count(ctx)
	if err != nil {
		count = -1
	}

	result := ExportFeedbackResult{Path: path, Count: count}
	return textResult(fmt.Sprintf("Exported %d feedback entries to %s", count, path)), result, nil
}

// recommendCacheKey derives the memory-cache key for one recommendation
// request. The catalog version is part of the key so a reload naturally
// invalidates stale rankings.
func recommendCacheKey(req *domain.RecommendationRequest, catalogVersion string) string {
	payload, _ := json.Marshal(req)
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("recommend:%s:%s", catalogVersion, hex.EncodeToString(sum[:8]))
}

// recommendToolResult renders the ranked list as readable text alongside the
// structured result.
func recommendToolResult(result *RecommendResult) *mcp.CallToolResult {
	if len(result.Results) == 0 {
		return textResult("No constructible regimens for the requested size")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top %d regimens (catalog %s):\n", len(result.Results), result.CatalogVersion)
	for _, r := range result.Results {
		fmt.Fprintf(&b, "%d. %s — composite %.2f, confidence %s\n", r.Rank, r.Regimen.Key(), r.Composite, r.Confidence)
	}
	return textResult(strings.TrimRight(b.String(), "\n"))
}

// textResult wraps plain text in a tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// errorResult creates a standardized error result for tool calls.
func (s *Server) errorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
