// Package credentials loads, decrypts, refreshes and persists per-user
// cloud credentials.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/metrics"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/store"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// Manager is the credential vault.
type Manager struct {
	store     store.CredentialStore
	cipher    *Cipher
	refresher Refresher
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager wires a vault. A nil cipher stores credentials in plaintext.
func NewManager(st store.CredentialStore, cipher *Cipher, refresher Refresher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if refresher == nil {
		refresher = OAuthRefresher{}
	}
	if cipher == nil {
		logger.Warn("credential encryption key not configured; credentials will be stored in plaintext")
	}
	return &Manager{
		store:     st,
		cipher:    cipher,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns a usable credential for userID, refreshing and re-storing it
// when the access token has expired. The project id always survives a refresh.
func (m *Manager) Get(ctx context.Context, userID string) (models.Credential, error) {
	const op = "credentials.Get"

	doc, err := m.store.LoadCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Credential{}, utils.E(utils.KindCredentialsNotFound, op, "no credentials stored for user "+userID, err)
	}
	if err != nil {
		return models.Credential{}, utils.E(utils.KindStoreUnavailable, op, "load credentials", err)
	}

	cred, err := m.decode(doc)
	if err != nil {
		return models.Credential{}, utils.E(utils.KindDecryptFailed, op, "decode credentials for user "+userID, err)
	}
	if cred.ProjectID == "" {
		cred.ProjectID = doc.ProjectID
	}

	if cred.Expired(m.now()) && cred.RefreshToken != "" {
		refreshed, err := m.refresher.Refresh(ctx, cred)
		if err != nil {
			metrics.ObserveCredentialRefresh(metrics.OutcomeError)
			return models.Credential{}, utils.E(utils.KindRefreshFailed, op, "refresh credentials for user "+userID, err)
		}
		metrics.ObserveCredentialRefresh(metrics.OutcomeSuccess)
		refreshed.ProjectID = cred.ProjectID
		if err := m.Put(ctx, userID, refreshed); err != nil {
			return models.Credential{}, err
		}
		m.logger.Info("refreshed credentials", "user_id", userID)
		cred = refreshed
	}

	if err := m.store.TouchCredential(ctx, userID, m.now().UTC()); err != nil {
		m.logger.Warn("failed to record credential use", "user_id", userID, "error", err)
	}
	return cred, nil
}

// Put stores cred for userID, encrypting it when a key is configured.
func (m *Manager) Put(ctx context.Context, userID string, cred models.Credential) error {
	const op = "credentials.Put"
	if userID == "" {
		return utils.E(utils.KindInvalidArgument, op, "user id is required", nil)
	}

	doc := store.CredentialDocument{UserID: userID, ProjectID: cred.ProjectID}
	if m.cipher != nil {
		payload, err := json.Marshal(cred)
		if err != nil {
			return utils.E(utils.KindUnknown, op, "marshal credentials", err)
		}
		sealed, err := m.cipher.Encrypt(payload)
		if err != nil {
			return utils.E(utils.KindUnknown, op, "encrypt credentials", err)
		}
		doc.Encrypted = true
		doc.Ciphertext = sealed
	} else {
		c := cred
		doc.Credential = &c
	}

	if err := m.store.SaveCredential(ctx, doc); err != nil {
		return utils.E(utils.KindStoreUnavailable, op, "save credentials", err)
	}
	return nil
}

// Delete removes userID's credential, reporting whether one existed.
func (m *Manager) Delete(ctx context.Context, userID string) (bool, error) {
	existed, err := m.store.DeleteCredential(ctx, userID)
	if err != nil {
		return false, utils.E(utils.KindStoreUnavailable, "credentials.Delete", "delete credentials", err)
	}
	return existed, nil
}

// ListUsers returns the ids of users with stored credentials.
func (m *Manager) ListUsers(ctx context.Context) ([]string, error) {
	users, err := m.store.ListCredentialUsers(ctx)
	if err != nil {
		return nil, utils.E(utils.KindStoreUnavailable, "credentials.ListUsers", "list credential users", err)
	}
	return users, nil
}

func (m *Manager) decode(doc store.CredentialDocument) (models.Credential, error) {
	if !doc.Encrypted {
		if doc.Credential == nil {
			return models.Credential{}, errors.New("document has no credential payload")
		}
		return *doc.Credential, nil
	}
	if m.cipher == nil {
		return models.Credential{}, errors.New("credential is encrypted but no encryption key is configured")
	}
	plain, err := m.cipher.Decrypt(doc.Ciphertext)
	if err != nil {
		return models.Credential{}, err
	}
	var cred models.Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return models.Credential{}, err
	}
	return cred, nil
}
