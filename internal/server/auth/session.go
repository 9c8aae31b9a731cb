package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/affinidi/affinidi-webvh-service/internal/server/acl"
	"github.com/affinidi/affinidi-webvh-service/internal/server/store"
	"github.com/google/uuid"
)

// SessionTokens is the authenticate-response payload.
type SessionTokens struct {
	SessionID        string `json:"session_id"`
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

// sessionRecord is what the store keeps per session.
type sessionRecord struct {
	ID        string `json:"id"`
	DID       string `json:"did"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Manager creates sessions and turns tokens back into actors.
type Manager struct {
	store           store.Store
	secretKey       []byte
	accessValidity  time.Duration
	refreshValidity time.Duration
	log             logging.Logger
}

func NewManager(s store.Store, secretKey []byte, access, refresh time.Duration, log logging.Logger) *Manager {
	return &Manager{
		store:           s,
		secretKey:       secretKey,
		accessValidity:  access,
		refreshValidity: refresh,
		log:             log,
	}
}

// CreateSession mints a token pair for an authenticated actor and records
// the session.
func (m *Manager) CreateSession(ctx context.Context, actor acl.Actor) (*SessionTokens, error) {
	id := uuid.NewString()

	access, accessExp, err := GenerateToken(actor.DID, string(actor.Role), id, m.secretKey, m.accessValidity)
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %v", common.ErrorInternal, err)
	}
	refresh, refreshExp, err := GenerateToken(actor.DID, string(actor.Role), id, m.secretKey, m.refreshValidity)
	if err != nil {
		return nil, fmt.Errorf("%w: sign refresh token: %v", common.ErrorInternal, err)
	}

	rec := sessionRecord{
		ID:        id,
		DID:       actor.DID,
		Role:      string(actor.Role),
		CreatedAt: common.NowEpoch(),
		ExpiresAt: refreshExp.Unix(),
	}
	raw, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	if err := store.Put(ctx, m.store, store.SessionKey(id), raw); err != nil {
		return nil, err
	}

	m.log.Info(ctx, "session created", "did", actor.DID, "session", id)
	return &SessionTokens{
		SessionID:        id,
		AccessToken:      access,
		AccessExpiresAt:  accessExp.Unix(),
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp.Unix(),
	}, nil
}

// Verify parses an access token and returns the actor it names. The
// session must still exist; deleting the session invalidates every token
// minted for it.
func (m *Manager) Verify(ctx context.Context, token string) (acl.Actor, error) {
	claims, err := ParseToken(token, m.secretKey)
	if err != nil {
		return acl.Actor{}, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}
	if _, err := m.store.Get(ctx, store.SessionKey(claims.Subject)); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return acl.Actor{}, fmt.Errorf("%w: session revoked", common.ErrorUnauthorized)
		}
		return acl.Actor{}, err
	}
	role, err := acl.ParseRole(claims.Role)
	if err != nil {
		return acl.Actor{}, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}
	return acl.Actor{DID: claims.DID, Role: role}, nil
}

// Refresh exchanges a valid refresh token for a fresh token pair under
// the same session id.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	actor, err := m.Verify(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	claims, _ := ParseToken(refreshToken, m.secretKey)

	access, accessExp, err := GenerateToken(actor.DID, string(actor.Role), claims.Subject, m.secretKey, m.accessValidity)
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %v", common.ErrorInternal, err)
	}
	refresh, refreshExp, err := GenerateToken(actor.DID, string(actor.Role), claims.Subject, m.secretKey, m.refreshValidity)
	if err != nil {
		return nil, fmt.Errorf("%w: sign refresh token: %v", common.ErrorInternal, err)
	}
	return &SessionTokens{
		SessionID:        claims.Subject,
		AccessToken:      access,
		AccessExpiresAt:  accessExp.Unix(),
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp.Unix(),
	}, nil
}

// CleanupSessions drops expired session records.
func (m *Manager) CleanupSessions(ctx context.Context) error {
	kvs, err := m.store.ScanPrefix(ctx, store.SessionPrefix)
	if err != nil {
		return err
	}
	now := common.NowEpoch()
	var stale []string
	for _, kv := range kvs {
		var rec sessionRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil || rec.ExpiresAt < now {
			stale = append(stale, kv.Key)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	m.log.Info(ctx, "pruning expired sessions", "count", len(stale))
	return m.store.PutBatch(ctx, nil, stale)
}
