// Package analytics computes dashboard summaries and trends from stored
// incidents.
package analytics

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

const (
	summaryWindow    = 24 * time.Hour
	confidenceSample = 50
	riskMatrixLimit  = 30
	topServiceLimit  = 5
)

// IncidentReader is the read side of the incident store used here.
type IncidentReader interface {
	Recent(ctx context.Context, limit int) ([]models.Incident, error)
	Since(ctx context.Context, t time.Time) ([]models.Incident, error)
	Counts(ctx context.Context, since time.Time) (models.IncidentCounts, error)
}

// Summary is the dashboard headline.
type Summary struct {
	TotalErrors      int `json:"totalErrors"`
	ActiveGroups     int `json:"activeGroups"`
	CriticalIssues   int `json:"criticalIssues"`
	HealthScore      int `json:"healthScore"`
	AvgConfidence    int `json:"avgConfidence"`
	ImpactedServices int `json:"impactedServices"`
}

// EmptySummary is reported when the store cannot be read.
func EmptySummary() Summary {
	return Summary{HealthScore: 100}
}

// TrendPoint is one time bucket.
type TrendPoint struct {
	Date      string `json:"date"`
	Errors    int    `json:"errors"`
	Anomalies int    `json:"anomalies"`
}

// NamedValue is a labelled count.
type NamedValue struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// RiskPoint places one incident on the confidence/impact plane.
type RiskPoint struct {
	Confidence float64 `json:"confidence"`
	Impact     int     `json:"impact"`
	Service    string  `json:"service"`
	Label      string  `json:"label"`
	ID         string  `json:"id"`
}

// Trends is the time-series view over a range.
type Trends struct {
	Trends             []TrendPoint `json:"trends"`
	TopCategories      []NamedValue `json:"topCategories"`
	StatusDistribution []NamedValue `json:"statusDistribution"`
	RiskMatrix         []RiskPoint  `json:"riskMatrix"`
}

// Service computes analytics over an incident store.
type Service struct {
	incidents IncidentReader
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs an analytics service.
func NewService(incidents IncidentReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{incidents: incidents, logger: logger, now: time.Now}
}

// Summary counts the last 24h of incidents, open and critical incidents, and
// derives a health score of max(0, 100 - 2*active - 10*critical).
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	now := s.now().UTC()

	counts, err := s.incidents.Counts(ctx, now.Add(-summaryWindow))
	if err != nil {
		return EmptySummary(), err
	}
	recent, err := s.incidents.Recent(ctx, confidenceSample)
	if err != nil {
		return EmptySummary(), err
	}

	out := Summary{
		TotalErrors:    counts.Since,
		ActiveGroups:   counts.Open,
		CriticalIssues: counts.OpenCritical,
	}

	var (
		confidenceSum   float64
		confidenceCount int
		services        = make(map[string]struct{})
	)
	for _, inc := range recent {
		if inc.Analysis.Confidence > 0 {
			confidenceSum += inc.Analysis.Confidence
			confidenceCount++
		}
		if inc.ServiceName != "" {
			services[inc.ServiceName] = struct{}{}
		}
	}
	if confidenceCount > 0 {
		out.AvgConfidence = int(math.Round(confidenceSum / float64(confidenceCount)))
	}
	out.ImpactedServices = len(services)
	out.HealthScore = HealthScore(out.ActiveGroups, out.CriticalIssues)
	return out, nil
}

// HealthScore is max(0, 100 - 2*active - 10*critical).
func HealthScore(active, critical int) int {
	score := 100 - 2*active - 10*critical
	if score < 0 {
		return 0
	}
	return score
}

// rangeSpec resolves a range name to its lookback and bucket size.
func rangeSpec(name string) (time.Duration, time.Duration, string) {
	switch strings.ToLower(name) {
	case "24h":
		return 24 * time.Hour, time.Hour, "15:00"
	case "30d":
		return 30 * 24 * time.Hour, 24 * time.Hour, "Jan 02"
	default:
		return 7 * 24 * time.Hour, 24 * time.Hour, "Jan 02"
	}
}

type serviceAggregate struct {
	occurrences int
}

// Trends buckets incidents of the range ("24h", "7d" or "30d"; anything else
// is 7d) by hour or day and reports the busiest services, the status
// distribution and up to 30 risk points.
func (s *Service) Trends(ctx context.Context, rangeName string) (Trends, error) {
	lookback, bucket, layout := rangeSpec(rangeName)
	incidents, err := s.incidents.Since(ctx, s.now().UTC().Add(-lookback))
	if err != nil {
		return emptyTrends(), err
	}
	// Oldest first so bucket and risk ordering follow time.
	sort.SliceStable(incidents, func(i, j int) bool { return incidents[i].Timestamp.Before(incidents[j].Timestamp) })

	buckets := make(map[time.Time]*TrendPoint)
	bucketOrder := make([]time.Time, 0)
	serviceStats := make(map[string]*serviceAggregate)
	status := map[models.Status]int{models.StatusOpen: 0, models.StatusResolved: 0, models.StatusInvestigating: 0}
	out := emptyTrends()

	for _, inc := range incidents {
		occurrences := inc.OccurrenceCount
		if occurrences <= 0 {
			occurrences = 1
		}

		key := inc.Timestamp.UTC().Truncate(bucket)
		point, ok := buckets[key]
		if !ok {
			point = &TrendPoint{Date: key.Format(layout)}
			buckets[key] = point
			bucketOrder = append(bucketOrder, key)
		}
		point.Errors += occurrences
		point.Anomalies++

		ensureAggregate(serviceStats, inc.ServiceName).occurrences += occurrences
		status[inc.Status]++

		if len(out.RiskMatrix) < riskMatrixLimit {
			label := inc.Analysis.Cause
			if label == "" {
				label = "Unknown"
			}
			out.RiskMatrix = append(out.RiskMatrix, RiskPoint{
				Confidence: inc.Analysis.Confidence,
				Impact:     occurrences,
				Service:    serviceName(inc.ServiceName),
				Label:      label,
				ID:         shortID(inc.ID),
			})
		}
	}

	sort.Slice(bucketOrder, func(i, j int) bool { return bucketOrder[i].Before(bucketOrder[j]) })
	for _, key := range bucketOrder {
		out.Trends = append(out.Trends, *buckets[key])
	}

	for name, agg := range serviceStats {
		out.TopCategories = append(out.TopCategories, NamedValue{Name: name, Value: agg.occurrences})
	}
	sort.Slice(out.TopCategories, func(i, j int) bool {
		if out.TopCategories[i].Value != out.TopCategories[j].Value {
			return out.TopCategories[i].Value > out.TopCategories[j].Value
		}
		return out.TopCategories[i].Name < out.TopCategories[j].Name
	})
	if len(out.TopCategories) > topServiceLimit {
		out.TopCategories = out.TopCategories[:topServiceLimit]
	}

	out.StatusDistribution = []NamedValue{
		{Name: "Open", Value: status[models.StatusOpen]},
		{Name: "Resolved", Value: status[models.StatusResolved]},
		{Name: "Investigating", Value: status[models.StatusInvestigating]},
	}
	return out, nil
}

func emptyTrends() Trends {
	return Trends{
		Trends:             []TrendPoint{},
		TopCategories:      []NamedValue{},
		StatusDistribution: []NamedValue{},
		RiskMatrix:         []RiskPoint{},
	}
}

func ensureAggregate(m map[string]*serviceAggregate, service string) *serviceAggregate {
	service = serviceName(service)
	agg, ok := m[service]
	if !ok {
		agg = &serviceAggregate{}
		m[service] = agg
	}
	return agg
}

func serviceName(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
