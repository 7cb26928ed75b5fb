// Package memory provides an in-process implementation of every store
// collection. It backs tests and the "memory" store driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/store"
)

// Store keeps incidents, alert rules and credential documents in memory.
type Store struct {
	mu          sync.RWMutex
	incidents   map[string]models.Incident
	rules       map[string]models.AlertRule
	ruleOrder   []string
	credentials map[string]store.CredentialDocument

	fail error
}

var (
	_ store.IncidentStore   = (*Store)(nil)
	_ store.RuleStore       = (*Store)(nil)
	_ store.CredentialStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		incidents:   make(map[string]models.Incident),
		rules:       make(map[string]models.AlertRule),
		credentials: make(map[string]store.CredentialDocument),
	}
}

// SetFailure makes every subsequent operation return err until it is
// cleared with nil. Tests use it to simulate an unavailable store.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Append assigns an id and stores the incident.
func (s *Store) Append(_ context.Context, incident models.Incident) (models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return models.Incident{}, s.fail
	}
	incident.ID = uuid.NewString()
	incident.Logs = append([]models.LogEntry(nil), incident.Logs...)
	s.incidents[incident.ID] = incident
	return incident, nil
}

// Get returns the incident with the given id.
func (s *Store) Get(_ context.Context, id string) (models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return models.Incident{}, s.fail
	}
	inc, ok := s.incidents[id]
	if !ok {
		return models.Incident{}, store.ErrNotFound
	}
	return inc, nil
}

// Recent returns up to limit incidents, newest first.
func (s *Store) Recent(_ context.Context, limit int) ([]models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, s.fail
	}
	all := s.sortedLocked()
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Since returns incidents at or after t, newest first.
func (s *Store) Since(_ context.Context, t time.Time) ([]models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]models.Incident, 0)
	for _, inc := range s.sortedLocked() {
		if !inc.Timestamp.Before(t) {
			out = append(out, inc)
		}
	}
	return out, nil
}

// Counts aggregates incidents since the cutoff along with open and open
// critical incidents.
func (s *Store) Counts(_ context.Context, since time.Time) (models.IncidentCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return models.IncidentCounts{}, s.fail
	}
	var c models.IncidentCounts
	for _, inc := range s.incidents {
		if !inc.Timestamp.Before(since) {
			c.Since++
		}
		if inc.Status != models.StatusOpen {
			continue
		}
		c.Open++
		if inc.Analysis.Priority.IsCritical() {
			c.OpenCritical++
		}
	}
	return c, nil
}

// UpdateStatus transitions an incident's status.
func (s *Store) UpdateStatus(_ context.Context, id string, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	inc, ok := s.incidents[id]
	if !ok {
		return store.ErrNotFound
	}
	inc.Status = status
	s.incidents[id] = inc
	return nil
}

// Ping reports the simulated availability.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fail
}

// sortedLocked must be called with mu held.
func (s *Store) sortedLocked() []models.Incident {
	all := make([]models.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		all = append(all, inc)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].ID > all[j].ID
		}
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	return all
}

// CreateRule stores a new alert rule.
func (s *Store) CreateRule(_ context.Context, rule models.AlertRule) (models.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return models.AlertRule{}, s.fail
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, exists := s.rules[rule.ID]; !exists {
		s.ruleOrder = append(s.ruleOrder, rule.ID)
	}
	s.rules[rule.ID] = rule
	return rule, nil
}

// GetRule returns one rule.
func (s *Store) GetRule(_ context.Context, id string) (models.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return models.AlertRule{}, s.fail
	}
	rule, ok := s.rules[id]
	if !ok {
		return models.AlertRule{}, store.ErrNotFound
	}
	return rule, nil
}

// ListRules returns all rules in creation order.
func (s *Store) ListRules(context.Context) ([]models.AlertRule, error) {
	return s.listRules(false)
}

// ListEnabledRules returns only enabled rules.
func (s *Store) ListEnabledRules(context.Context) ([]models.AlertRule, error) {
	return s.listRules(true)
}

func (s *Store) listRules(enabledOnly bool) ([]models.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]models.AlertRule, 0, len(s.ruleOrder))
	for _, id := range s.ruleOrder {
		rule := s.rules[id]
		if enabledOnly && !rule.Enabled {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// UpdateRule replaces an existing rule.
func (s *Store) UpdateRule(_ context.Context, rule models.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if _, ok := s.rules[rule.ID]; !ok {
		return store.ErrNotFound
	}
	s.rules[rule.ID] = rule
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if _, ok := s.rules[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.rules, id)
	for i, existing := range s.ruleOrder {
		if existing == id {
			s.ruleOrder = append(s.ruleOrder[:i], s.ruleOrder[i+1:]...)
			break
		}
	}
	return nil
}

// LoadCredential returns the stored credential document.
func (s *Store) LoadCredential(_ context.Context, userID string) (store.CredentialDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return store.CredentialDocument{}, s.fail
	}
	doc, ok := s.credentials[userID]
	if !ok {
		return store.CredentialDocument{}, store.ErrNotFound
	}
	return cloneDocument(doc), nil
}

// SaveCredential upserts a credential document, keeping the original
// creation time.
func (s *Store) SaveCredential(_ context.Context, doc store.CredentialDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if existing, ok := s.credentials[doc.UserID]; ok && !existing.CreatedAt.IsZero() {
		doc.CreatedAt = existing.CreatedAt
	}
	s.credentials[doc.UserID] = cloneDocument(doc)
	return nil
}

// TouchCredential updates the last-used timestamp.
func (s *Store) TouchCredential(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	doc, ok := s.credentials[userID]
	if !ok {
		return store.ErrNotFound
	}
	doc.LastUsed = at
	s.credentials[userID] = doc
	return nil
}

// DeleteCredential removes a credential document.
func (s *Store) DeleteCredential(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	_, ok := s.credentials[userID]
	delete(s.credentials, userID)
	return ok, nil
}

// ListCredentialUsers returns the ids of users with stored credentials.
func (s *Store) ListCredentialUsers(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, s.fail
	}
	users := make([]string, 0, len(s.credentials))
	for id := range s.credentials {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func cloneDocument(doc store.CredentialDocument) store.CredentialDocument {
	if doc.Credential != nil {
		cred := *doc.Credential
		cred.Scopes = append([]string(nil), cred.Scopes...)
		doc.Credential = &cred
	}
	return doc
}
