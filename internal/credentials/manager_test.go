package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/store"
	"github.com/miradorstack/mirador-incidents/internal/store/memory"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

type stubRefresher struct {
	calls  atomic.Int32
	expiry time.Time
	err    error
}

func (s *stubRefresher) Refresh(_ context.Context, cred models.Credential) (models.Credential, error) {
	s.calls.Add(1)
	if s.err != nil {
		return models.Credential{}, s.err
	}
	cred.Token = "refreshed-token"
	cred.Expiry = s.expiry
	cred.ProjectID = "" // the token endpoint never returns a project id
	return cred, nil
}

func newTestManager(t *testing.T, withKey bool, refresher Refresher) (*Manager, *memory.Store, time.Time) {
	t.Helper()
	st := memory.New()
	var cipher *Cipher
	if withKey {
		key, err := GenerateKey()
		require.NoError(t, err)
		cipher, err = NewCipher(key)
		require.NoError(t, err)
	}
	m := NewManager(st, cipher, refresher, nil)
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, st, now
}

func TestGetRefreshesExpiredCredentialAndKeepsProject(t *testing.T) {
	refresher := &stubRefresher{}
	m, st, now := newTestManager(t, true, refresher)
	refresher.expiry = now.Add(time.Hour)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "u1", models.Credential{
		Token:        "stale",
		RefreshToken: "r",
		Expiry:       now.Add(-time.Minute),
		ProjectID:    "proj-42",
	}))

	cred, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", cred.Token)
	assert.Equal(t, "proj-42", cred.ProjectID)
	assert.EqualValues(t, 1, refresher.calls.Load())

	doc, err := st.LoadCredential(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, doc.Encrypted)
	assert.Equal(t, "proj-42", doc.ProjectID)
	assert.True(t, doc.LastUsed.Equal(now))

	// The persisted credential is fresh, so a second read does not refresh.
	again, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", again.Token)
	assert.EqualValues(t, 1, refresher.calls.Load())
}

func TestGetMissingCredential(t *testing.T) {
	m, _, _ := newTestManager(t, false, &stubRefresher{})
	_, err := m.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindCredentialsNotFound))
}

func TestGetRefreshFailure(t *testing.T) {
	refresher := &stubRefresher{err: errors.New("invalid_grant")}
	m, _, now := newTestManager(t, false, refresher)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "u1", models.Credential{RefreshToken: "r", Expiry: now.Add(-time.Hour)}))

	_, err := m.Get(ctx, "u1")
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindRefreshFailed))
}

func TestGetEncryptedWithoutKeyFailsToDecrypt(t *testing.T) {
	m, st, _ := newTestManager(t, false, &stubRefresher{})
	ctx := context.Background()
	require.NoError(t, st.SaveCredential(ctx, store.CredentialDocument{UserID: "u1", Encrypted: true, Ciphertext: "AAAA"}))

	_, err := m.Get(ctx, "u1")
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindDecryptFailed))
}

func TestPlaintextStorageWithoutKey(t *testing.T) {
	m, st, _ := newTestManager(t, false, &stubRefresher{})
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "u1", models.Credential{Token: "t", ProjectID: "p"}))

	doc, err := st.LoadCredential(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, doc.Encrypted)
	require.NotNil(t, doc.Credential)
	assert.Equal(t, "t", doc.Credential.Token)
}

func TestDeleteAndListUsers(t *testing.T) {
	m, _, _ := newTestManager(t, true, &stubRefresher{})
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "b", models.Credential{Token: "1"}))
	require.NoError(t, m.Put(ctx, "a", models.Credential{Token: "2"}))

	users, err := m.ListUsers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, users)

	existed, err := m.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestCipherRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte(`{"token":"abc"}`))
	require.NoError(t, err)
	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"abc"}`, string(plain))

	other, err := GenerateKey()
	require.NoError(t, err)
	c2, err := NewCipher(other)
	require.NoError(t, err)
	_, err = c2.Decrypt(sealed)
	assert.Error(t, err)

	_, err = NewCipher("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestOAuthRefresherExchangesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r-123", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	r := OAuthRefresher{HTTPClient: srv.Client()}
	out, err := r.Refresh(context.Background(), models.Credential{
		RefreshToken: "r-123",
		TokenURI:     srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		ProjectID:    "proj",
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", out.Token)
	assert.Equal(t, "r-123", out.RefreshToken)
	assert.Equal(t, "proj", out.ProjectID)
	assert.False(t, out.Expiry.IsZero())
}
