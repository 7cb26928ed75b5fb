package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// DefaultPlaybookSteps are returned when no playbook matches a group.
var DefaultPlaybookSteps = []string{
	"Check active connection count on DB shard",
	"If count > 90%, restart service pods to flush connections",
	"Rollback to previous stable version if issue persists",
}

// PlaybookEngine maps incident groups to remediation steps.
type PlaybookEngine struct {
	playbooks []Playbook
	logger    *slog.Logger
}

// Playbook is one category-keyed list of remediation steps.
type Playbook struct {
	ID    string        `yaml:"id"`
	Match PlaybookMatch `yaml:"match"`
	Steps []string      `yaml:"steps"`
}

// PlaybookMatch defines optional attributes a group must have. Empty fields
// match anything; comparisons ignore case.
type PlaybookMatch struct {
	Category      string   `yaml:"category"`
	Severity      string   `yaml:"severity"`
	Service       string   `yaml:"service"`
	CauseContains []string `yaml:"cause_contains"`
}

// PlaybookFile is the YAML root structure.
type PlaybookFile struct {
	Playbooks []Playbook `yaml:"playbooks"`
}

// NewPlaybookEngine loads playbooks from path. A missing or empty path
// yields an engine that only knows the default steps.
func NewPlaybookEngine(path string, logger *slog.Logger) (*PlaybookEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine := &PlaybookEngine{logger: logger}
	if path == "" {
		return engine, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("playbook file not found; using default steps", slog.String("path", path))
			return engine, nil
		}
		return nil, err
	}
	var file PlaybookFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	engine.playbooks = file.Playbooks
	return engine, nil
}

// Steps returns the remediation steps for a group. The incident's own
// suggested action comes first, followed by every matching playbook in file
// order; when nothing matches the defaults are used.
func (e *PlaybookEngine) Steps(detail models.GroupDetail) []string {
	steps := make([]string, 0)
	if action := strings.TrimSpace(detail.Analysis.Action); action != "" {
		steps = append(steps, action)
	}

	matched := false
	if e != nil {
		for _, pb := range e.playbooks {
			if !pb.Match.matches(detail) {
				continue
			}
			matched = true
			steps = appendUnique(steps, pb.Steps...)
		}
	}
	if !matched {
		steps = appendUnique(steps, DefaultPlaybookSteps...)
	}
	return steps
}

func (m PlaybookMatch) matches(detail models.GroupDetail) bool {
	if m.Category != "" && !strings.EqualFold(m.Category, detail.Category) {
		return false
	}
	if m.Severity != "" && !strings.EqualFold(m.Severity, string(detail.Severity)) {
		return false
	}
	if m.Service != "" && !serviceMatches(m.Service, detail) {
		return false
	}
	if len(m.CauseContains) > 0 && !causeContains(m.CauseContains, detail.RootCause.Cause) {
		return false
	}
	return true
}

func serviceMatches(service string, detail models.GroupDetail) bool {
	if strings.EqualFold(service, detail.ServiceName) {
		return true
	}
	for _, s := range detail.Services {
		if strings.EqualFold(service, s) {
			return true
		}
	}
	return false
}

func causeContains(keywords []string, cause string) bool {
	cause = strings.ToLower(cause)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(cause, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
