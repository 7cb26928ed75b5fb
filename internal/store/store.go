// Package store defines the document collections the incident engine
// persists to (incidents, alert_rules, user_credentials) and the read-side
// views derived from them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// IncidentStore is the append-only incidents collection. Appends assign the
// document id atomically; single-document writes are the only atomicity the
// engine relies on.
type IncidentStore interface {
	Append(ctx context.Context, incident models.Incident) (models.Incident, error)
	Get(ctx context.Context, id string) (models.Incident, error)
	// Recent returns at most limit incidents ordered by timestamp descending.
	Recent(ctx context.Context, limit int) ([]models.Incident, error)
	// Since returns incidents with a timestamp at or after t, newest first.
	Since(ctx context.Context, t time.Time) ([]models.Incident, error)
	// Counts aggregates the whole collection without loading documents.
	Counts(ctx context.Context, since time.Time) (models.IncidentCounts, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	Ping(ctx context.Context) error
}

// RuleStore is the alert_rules collection.
type RuleStore interface {
	CreateRule(ctx context.Context, rule models.AlertRule) (models.AlertRule, error)
	GetRule(ctx context.Context, id string) (models.AlertRule, error)
	ListRules(ctx context.Context) ([]models.AlertRule, error)
	ListEnabledRules(ctx context.Context) ([]models.AlertRule, error)
	UpdateRule(ctx context.Context, rule models.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
}

// CredentialDocument is the stored form of a user's credential. Exactly one
// of Ciphertext (when Encrypted) or Credential is populated.
type CredentialDocument struct {
	UserID     string             `json:"user_id"`
	Encrypted  bool               `json:"encrypted"`
	Ciphertext string             `json:"encrypted_credentials,omitempty"`
	Credential *models.Credential `json:"credentials,omitempty"`
	ProjectID  string             `json:"project_id,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	LastUsed   time.Time          `json:"last_used"`
}

// CredentialStore is the user_credentials collection.
type CredentialStore interface {
	LoadCredential(ctx context.Context, userID string) (CredentialDocument, error)
	SaveCredential(ctx context.Context, doc CredentialDocument) error
	TouchCredential(ctx context.Context, userID string, at time.Time) error
	DeleteCredential(ctx context.Context, userID string) (bool, error)
	ListCredentialUsers(ctx context.Context) ([]string, error)
}
