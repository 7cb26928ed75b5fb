package store

import (
	"context"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

const (
	// DefaultIncidentWindow bounds how many recent incidents listings scan.
	DefaultIncidentWindow = 300
	// DefaultGroupWindow bounds how many recent incidents the groups view scans.
	DefaultGroupWindow = 200

	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Query serves filtered, paginated reads over an IncidentStore.
//
// Reads scan a bounded window of the most recent incidents and apply filters
// in memory. Matching incidents older than the window are not visible; this
// avoids compound indexes on the backing store at the cost of completeness.
type Query struct {
	incidents      IncidentStore
	incidentWindow int
	groupWindow    int
}

// NewQuery constructs a Query. Non-positive windows fall back to defaults.
func NewQuery(incidents IncidentStore, incidentWindow, groupWindow int) *Query {
	if incidentWindow <= 0 {
		incidentWindow = DefaultIncidentWindow
	}
	if groupWindow <= 0 {
		groupWindow = DefaultGroupWindow
	}
	return &Query{incidents: incidents, incidentWindow: incidentWindow, groupWindow: groupWindow}
}

// ListIncidents returns one page of incidents matching the filter and the
// number of matches inside the scanned window.
func (q *Query) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, int, error) {
	recent, err := q.incidents.Recent(ctx, q.incidentWindow)
	if err != nil {
		return nil, 0, err
	}

	matched := make([]models.Incident, 0, len(recent))
	for _, inc := range recent {
		if filter.GroupID != "" && inc.TraceID != filter.GroupID {
			continue
		}
		if !statusMatches(filter.Status, inc.Status) {
			continue
		}
		if !categoryMatches(filter.Category, inc.Analysis.Category) {
			continue
		}
		matched = append(matched, inc)
	}
	return Paginate(matched, filter.Page, filter.Limit), len(matched), nil
}

// Groups aggregates the group window by trace id, filters and paginates.
func (q *Query) Groups(ctx context.Context, filter models.GroupFilter) ([]models.Group, int, error) {
	recent, err := q.incidents.Recent(ctx, q.groupWindow)
	if err != nil {
		return nil, 0, err
	}
	groups := AggregateGroups(recent)

	matched := make([]models.Group, 0, len(groups))
	for _, g := range groups {
		if !statusMatches(filter.Status, g.Status) {
			continue
		}
		if !categoryMatches(filter.Category, g.Category) {
			continue
		}
		matched = append(matched, g)
	}
	return Paginate(matched, filter.Page, filter.Limit), len(matched), nil
}

// GroupDetail returns the aggregated view of one trace id together with the
// analysis and log context of its latest incident.
func (q *Query) GroupDetail(ctx context.Context, traceID string) (models.GroupDetail, error) {
	recent, err := q.incidents.Recent(ctx, q.groupWindow)
	if err != nil {
		return models.GroupDetail{}, err
	}

	members := make([]models.Incident, 0)
	for _, inc := range recent {
		if inc.TraceID == traceID {
			members = append(members, inc)
		}
	}
	if len(members) == 0 {
		return models.GroupDetail{}, ErrNotFound
	}

	groups := AggregateGroups(members)
	latest := latestIncident(members)
	evidence := []string{}
	if latest.Analysis.CorrelationInsight != "" {
		evidence = append(evidence, latest.Analysis.CorrelationInsight)
	}
	return models.GroupDetail{
		Group:       groups[0],
		ServiceName: latest.ServiceName,
		RootCause: models.RootCause{
			Cause:      latest.Analysis.Cause,
			Confidence: latest.Analysis.Confidence,
			Evidence:   evidence,
		},
		Analysis:  latest.Analysis,
		Logs:      latest.Logs,
		Incidents: len(members),
	}, nil
}

// AggregateGroups folds incidents into one Group per trace id. Name, severity,
// category and status come from the latest incident; count sums occurrence
// counts. Groups are ordered by last seen, newest first.
func AggregateGroups(incidents []models.Incident) []models.Group {
	type acc struct {
		group    models.Group
		latest   models.Incident
		services map[string]struct{}
	}
	byTrace := make(map[string]*acc)
	order := make([]string, 0)

	for _, inc := range incidents {
		a, ok := byTrace[inc.TraceID]
		if !ok {
			a = &acc{
				group: models.Group{
					ID:        inc.TraceID,
					FirstSeen: inc.Timestamp,
					LastSeen:  inc.Timestamp,
				},
				latest:   inc,
				services: make(map[string]struct{}),
			}
			byTrace[inc.TraceID] = a
			order = append(order, inc.TraceID)
		}
		a.group.Count += inc.OccurrenceCount
		if inc.Timestamp.After(a.group.LastSeen) {
			a.group.LastSeen = inc.Timestamp
		}
		if inc.Timestamp.Before(a.group.FirstSeen) {
			a.group.FirstSeen = inc.Timestamp
		}
		if !inc.Timestamp.Before(a.latest.Timestamp) {
			a.latest = inc
		}
		if inc.ServiceName != "" {
			a.services[inc.ServiceName] = struct{}{}
		}
	}

	groups := make([]models.Group, 0, len(order))
	for _, traceID := range order {
		a := byTrace[traceID]
		g := a.group
		g.Name = a.latest.Analysis.Cause
		if g.Name == "" {
			g.Name = "Unknown Anomaly"
		}
		g.Severity = a.latest.Analysis.Priority
		g.Category = a.latest.Analysis.Category
		g.Status = a.latest.Status
		g.Services = make([]string, 0, len(a.services))
		for svc := range a.services {
			g.Services = append(g.Services, svc)
		}
		sort.Strings(g.Services)
		groups = append(groups, g)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].LastSeen.After(groups[j].LastSeen)
	})
	return groups
}

// Paginate returns the 1-based page of items. Out-of-range pages are empty.
func Paginate[T any](items []T, page, limit int) []T {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func latestIncident(incidents []models.Incident) models.Incident {
	latest := incidents[0]
	for _, inc := range incidents[1:] {
		if inc.Timestamp.After(latest.Timestamp) {
			latest = inc
		}
	}
	return latest
}

func statusMatches(want, got models.Status) bool {
	if want == "" || strings.EqualFold(string(want), "ALL") {
		return true
	}
	return strings.EqualFold(string(want), string(got))
}

func categoryMatches(want, got string) bool {
	if want == "" || strings.EqualFold(want, "ALL") {
		return true
	}
	return strings.EqualFold(want, got)
}
