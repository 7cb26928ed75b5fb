// Package services exposes the incident engine's operations to transports.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/analytics"
	"github.com/miradorstack/mirador-incidents/internal/engine"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/store"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// Runner executes correlation runs.
type Runner interface {
	Run(ctx context.Context, req models.AnalysisRequest) (models.AnalysisReport, error)
}

// CredentialVault stores user credentials.
type CredentialVault interface {
	Put(ctx context.Context, userID string, cred models.Credential) error
	Delete(ctx context.Context, userID string) (bool, error)
	ListUsers(ctx context.Context) ([]string, error)
}

// Page is one page of a listing plus the filtered total.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Deps bundles the collaborators of IncidentService.
type Deps struct {
	Runner      Runner
	Incidents   store.IncidentStore
	Rules       store.RuleStore
	Query       *store.Query
	Analytics   *analytics.Service
	Playbooks   *engine.PlaybookEngine
	Credentials CredentialVault
	Chat        ChatResponder
}

// IncidentService is the facade shared by the HTTP API and the CLI.
type IncidentService struct {
	deps      Deps
	logger    *slog.Logger
	latencies *utils.LatencyTracker
}

// NewIncidentService constructs the service facade.
func NewIncidentService(deps Deps, logger *slog.Logger) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Query == nil && deps.Incidents != nil {
		deps.Query = store.NewQuery(deps.Incidents, 0, 0)
	}
	if deps.Analytics == nil && deps.Incidents != nil {
		deps.Analytics = analytics.NewService(deps.Incidents, logger)
	}
	return &IncidentService{
		deps:      deps,
		logger:    logger,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze triggers a correlation run.
func (s *IncidentService) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisReport, error) {
	if s.deps.Runner == nil {
		return models.AnalysisReport{}, utils.E(utils.KindUnknown, "services.Analyze", "analysis engine not configured", nil)
	}
	if req.WindowMinutes < 0 || req.MaxTraces < 0 {
		return models.AnalysisReport{}, utils.E(utils.KindInvalidArgument, "services.Analyze", "window and max traces must not be negative", nil)
	}

	s.logger.Debug("analysis requested", slog.String("user_id", req.UserID), slog.Int("window_minutes", req.WindowMinutes))
	start := time.Now()
	report, err := s.deps.Runner.Run(ctx, req)
	if err != nil {
		s.logger.Error("analysis run failed", slog.String("user_id", req.UserID), slog.Any("error", err))
		return report, err
	}
	s.latencies.Observe(time.Since(start))
	if snap := s.latencies.Snapshot(); snap.Total%20 == 0 {
		s.logger.Info("analysis latency",
			slog.Duration("p50", snap.P50),
			slog.Duration("p95", snap.P95),
			slog.Duration("max", snap.Max),
			slog.Int("samples", snap.Samples),
		)
	}
	return report, nil
}

// ListIncidents returns a filtered page of recent incidents. Store failures
// degrade to an empty page.
func (s *IncidentService) ListIncidents(ctx context.Context, filter models.IncidentFilter) Page[models.Incident] {
	items, total, err := s.deps.Query.ListIncidents(ctx, filter)
	if err != nil {
		s.logger.Warn("list incidents failed; returning empty page", slog.Any("error", err))
		items, total = []models.Incident{}, 0
	}
	return Page[models.Incident]{Items: items, Total: total, Page: pageOrDefault(filter.Page), Limit: limitOrDefault(filter.Limit)}
}

// GetIncident returns one incident.
func (s *IncidentService) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	inc, err := s.deps.Incidents.Get(ctx, id)
	if err != nil {
		return models.Incident{}, translate("services.GetIncident", "incident "+id, err)
	}
	return inc, nil
}

// UpdateStatus transitions an incident's status.
func (s *IncidentService) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	if !status.Valid() {
		return utils.E(utils.KindInvalidArgument, "services.UpdateStatus", "unknown status "+string(status), nil)
	}
	if err := s.deps.Incidents.UpdateStatus(ctx, id, status); err != nil {
		return translate("services.UpdateStatus", "incident "+id, err)
	}
	s.logger.Info("incident status updated", slog.String("incident_id", id), slog.String("status", string(status)))
	return nil
}

// Groups returns a filtered page of incident groups. Store failures degrade
// to an empty page.
func (s *IncidentService) Groups(ctx context.Context, filter models.GroupFilter) Page[models.Group] {
	items, total, err := s.deps.Query.Groups(ctx, filter)
	if err != nil {
		s.logger.Warn("list groups failed; returning empty page", slog.Any("error", err))
		items, total = []models.Group{}, 0
	}
	return Page[models.Group]{Items: items, Total: total, Page: pageOrDefault(filter.Page), Limit: limitOrDefault(filter.Limit)}
}

// GroupDetail returns the expanded view of one group.
func (s *IncidentService) GroupDetail(ctx context.Context, groupID string) (models.GroupDetail, error) {
	detail, err := s.deps.Query.GroupDetail(ctx, groupID)
	if err != nil {
		return models.GroupDetail{}, translate("services.GroupDetail", "group "+groupID, err)
	}
	return detail, nil
}

// Playbook returns remediation steps for a group.
func (s *IncidentService) Playbook(ctx context.Context, groupID string) ([]string, error) {
	detail, err := s.GroupDetail(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.deps.Playbooks.Steps(detail), nil
}

// ListRules returns every alert rule, or an empty list when the store fails.
func (s *IncidentService) ListRules(ctx context.Context) []models.AlertRule {
	rules, err := s.deps.Rules.ListRules(ctx)
	if err != nil {
		s.logger.Warn("list alert rules failed; returning empty list", slog.Any("error", err))
		return []models.AlertRule{}
	}
	if rules == nil {
		rules = []models.AlertRule{}
	}
	return rules
}

// CreateRule stores a new alert rule.
func (s *IncidentService) CreateRule(ctx context.Context, rule models.AlertRule) (models.AlertRule, error) {
	rule.ID = ""
	created, err := s.deps.Rules.CreateRule(ctx, rule)
	if err != nil {
		return models.AlertRule{}, translate("services.CreateRule", "alert rule", err)
	}
	s.logger.Info("alert rule created", slog.String("rule_id", created.ID), slog.String("category", created.Category))
	return created, nil
}

// UpdateRule replaces an alert rule.
func (s *IncidentService) UpdateRule(ctx context.Context, id string, rule models.AlertRule) (models.AlertRule, error) {
	rule.ID = id
	if err := s.deps.Rules.UpdateRule(ctx, rule); err != nil {
		return models.AlertRule{}, translate("services.UpdateRule", "alert rule "+id, err)
	}
	return rule, nil
}

// DeleteRule removes an alert rule.
func (s *IncidentService) DeleteRule(ctx context.Context, id string) error {
	if err := s.deps.Rules.DeleteRule(ctx, id); err != nil {
		return translate("services.DeleteRule", "alert rule "+id, err)
	}
	return nil
}

// Summary returns dashboard headline numbers. Store failures degrade to the
// empty summary.
func (s *IncidentService) Summary(ctx context.Context) analytics.Summary {
	summary, err := s.deps.Analytics.Summary(ctx)
	if err != nil {
		s.logger.Warn("analytics summary failed", slog.Any("error", err))
	}
	return summary
}

// Trends returns bucketed trends for a range. Store failures degrade to empty
// series.
func (s *IncidentService) Trends(ctx context.Context, rangeName string) analytics.Trends {
	trends, err := s.deps.Analytics.Trends(ctx, rangeName)
	if err != nil {
		s.logger.Warn("analytics trends failed", slog.Any("error", err))
	}
	return trends
}

// StoreCredential records the credential obtained by the OAuth flow.
func (s *IncidentService) StoreCredential(ctx context.Context, userID string, cred models.Credential) error {
	if s.deps.Credentials == nil {
		return utils.E(utils.KindUnknown, "services.StoreCredential", "credential vault not configured", nil)
	}
	if cred.Token == "" && cred.RefreshToken == "" {
		return utils.E(utils.KindInvalidArgument, "services.StoreCredential", "token or refresh_token is required", nil)
	}
	return s.deps.Credentials.Put(ctx, userID, cred)
}

// Health reports whether the incident store is reachable.
func (s *IncidentService) Health(ctx context.Context) error {
	if err := s.deps.Incidents.Ping(ctx); err != nil {
		return utils.E(utils.KindStoreUnavailable, "services.Health", "incident store unreachable", err)
	}
	return nil
}

// LatencyP95 returns the current p95 analysis latency.
func (s *IncidentService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func translate(op, what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return utils.E(utils.KindNotFound, op, what+" not found", err)
	}
	if utils.KindOf(err) != utils.KindUnknown {
		return err
	}
	return utils.E(utils.KindStoreUnavailable, op, "store unavailable", err)
}

func pageOrDefault(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func limitOrDefault(limit int) int {
	if limit < 1 {
		return store.DefaultPageLimit
	}
	if limit > store.MaxPageLimit {
		return store.MaxPageLimit
	}
	return limit
}
