package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/affinidi/affinidi-webvh-service/internal/server/acl"
	"github.com/affinidi/affinidi-webvh-service/internal/server/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := store.NewMemory()
	return NewManager(s, testSecret, 15*time.Minute, 24*time.Hour, log), s
}

func TestGenerateAndParseToken(t *testing.T) {
	token, expires, err := GenerateToken("did:example:alice", "owner", "sess-1", testSecret, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expires, 5*time.Second)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "did:example:alice", claims.DID)
	assert.Equal(t, "owner", claims.Role)
	assert.Equal(t, "sess-1", claims.Subject)
}

func TestParseTokenErrors(t *testing.T) {
	token, _, err := GenerateToken("did:example:alice", "owner", "sess-1", testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(token, testSecret)
	require.ErrorIs(t, err, common.ErrorTokenExpired)

	token, _, err = GenerateToken("did:example:alice", "owner", "sess-1", []byte("other"), time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(token, testSecret)
	require.ErrorIs(t, err, common.ErrorInvalidToken)

	_, err = ParseToken("garbage", testSecret)
	require.ErrorIs(t, err, common.ErrorInvalidToken)
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	actor := acl.Actor{DID: "did:example:alice", Role: acl.RoleOwner}

	tokens, err := m.CreateSession(ctx, actor)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.SessionID)
	assert.Greater(t, tokens.RefreshExpiresAt, tokens.AccessExpiresAt)

	got, err := m.Verify(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestVerifyRevokedSession(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	actor := acl.Actor{DID: "did:example:alice", Role: acl.RoleOwner}

	tokens, err := m.CreateSession(ctx, actor)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, s, store.SessionKey(tokens.SessionID)))

	_, err = m.Verify(ctx, tokens.AccessToken)
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	actor := acl.Actor{DID: "did:example:alice", Role: acl.RoleAdmin}

	tokens, err := m.CreateSession(ctx, actor)
	require.NoError(t, err)

	fresh, err := m.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.SessionID, fresh.SessionID)

	got, err := m.Verify(ctx, fresh.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestCleanupSessions(t *testing.T) {
	ctx := context.Background()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := store.NewMemory()
	expired := NewManager(s, testSecret, time.Minute, -time.Hour, log)
	live := NewManager(s, testSecret, time.Minute, time.Hour, log)
	actor := acl.Actor{DID: "did:example:alice", Role: acl.RoleOwner}

	stale, err := expired.CreateSession(ctx, actor)
	require.NoError(t, err)
	fresh, err := live.CreateSession(ctx, actor)
	require.NoError(t, err)

	require.NoError(t, live.CleanupSessions(ctx))

	ok, err := s.Has(ctx, store.SessionKey(stale.SessionID))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Has(ctx, store.SessionKey(fresh.SessionID))
	require.NoError(t, err)
	assert.True(t, ok)
}
