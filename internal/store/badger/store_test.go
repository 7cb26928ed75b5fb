package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/store"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestSaveLoadPreservesCreatedAt(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	first := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }

	doc := store.CredentialDocument{
		UserID:     "alice",
		Credential: &models.Credential{Token: "t1", RefreshToken: "r1"},
		ProjectID:  "proj-1",
	}
	require.NoError(t, s.SaveCredential(ctx, doc))

	s.now = func() time.Time { return first.Add(time.Hour) }
	doc.Credential = &models.Credential{Token: "t2", RefreshToken: "r1"}
	require.NoError(t, s.SaveCredential(ctx, doc))

	got, err := s.LoadCredential(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.Credential.Token)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.True(t, got.CreatedAt.Equal(first), "created_at should survive updates")
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	s := openInMemory(t)
	_, err := s.LoadCredential(context.Background(), "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTouchAndDelete(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCredential(ctx, store.CredentialDocument{UserID: "bob", Encrypted: true, Ciphertext: "abc"}))
	used := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchCredential(ctx, "bob", used))

	got, err := s.LoadCredential(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, got.LastUsed.Equal(used))

	assert.ErrorIs(t, s.TouchCredential(ctx, "carol", used), store.ErrNotFound)

	existed, err := s.DeleteCredential(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeleteCredential(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestListCredentialUsersSorted(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	for _, id := range []string{"zed", "amy", "kim"} {
		require.NoError(t, s.SaveCredential(ctx, store.CredentialDocument{UserID: id}))
	}
	users, err := s.ListCredentialUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "kim", "zed"}, users)
}
