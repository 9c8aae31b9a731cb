// Package acl implements ownership, role, and quota enforcement.
//
// Every caller is identified by a DID. A DID is allowed in at all only if
// it has an Entry; the entry's role decides what it may touch. Admins
// bypass quota checks everywhere. Per-entry overrides beat the server-wide
// defaults; limits are enforced at write time only, never retroactively.
package acl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/affinidi/affinidi-webvh-service/internal/server/store"
)

// Role determines operation access.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// ParseRole parses a role from its string representation.
func ParseRole(s string) (Role, error) {
	switch s {
	case "admin":
		return RoleAdmin, nil
	case "owner":
		return RoleOwner, nil
	default:
		return "", fmt.Errorf("%w: unknown role: %s", common.ErrorValidation, s)
	}
}

// Actor is an authenticated caller: the DID plus the role its ACL entry
// granted. The session/auth layer produces it, everything below trusts it.
type Actor struct {
	DID  string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Entry is one access-control record. MaxTotalSize and MaxDidCount are
// optional per-account overrides of the server defaults.
type Entry struct {
	DID          string  `json:"did"`
	Role         Role    `json:"role"`
	Label        *string `json:"label,omitempty"`
	CreatedAt    int64   `json:"created_at"`
	MaxTotalSize *int64  `json:"max_total_size,omitempty"`
	MaxDidCount  *int64  `json:"max_did_count,omitempty"`
}

func (e *Entry) EffectiveMaxDidCount(def int64) int64 {
	if e != nil && e.MaxDidCount != nil {
		return *e.MaxDidCount
	}
	return def
}

func (e *Entry) EffectiveMaxTotalSize(def int64) int64 {
	if e != nil && e.MaxTotalSize != nil {
		return *e.MaxTotalSize
	}
	return def
}

// Limits are the server-wide quota defaults.
type Limits struct {
	DefaultMaxDidCount  int64
	DefaultMaxTotalSize int64
}

// Policy reads ACL entries and answers authorization and quota questions.
// It never writes DID state; the registry never writes ACL state.
type Policy struct {
	store  store.Store
	limits Limits
	log    logging.Logger
}

func NewPolicy(s store.Store, limits Limits, log logging.Logger) *Policy {
	return &Policy{store: s, limits: limits, log: log}
}

// Lookup returns the ACL entry for a DID, or common.ErrorNotFound.
func (p *Policy) Lookup(ctx context.Context, did string) (*Entry, error) {
	raw, err := p.store.Get(ctx, store.AclKey(did))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: acl entry for %s: %v", common.ErrorInternal, did, err)
	}
	return &e, nil
}

// Authenticate admits a DID that has an ACL entry and returns the actor.
// DIDs without an entry are unauthorized, full stop.
func (p *Policy) Authenticate(ctx context.Context, did string) (Actor, error) {
	e, err := p.Lookup(ctx, did)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			p.log.Warn(ctx, "DID not in ACL", "did", did)
			return Actor{}, fmt.Errorf("%w: DID not in ACL", common.ErrorUnauthorized)
		}
		return Actor{}, err
	}
	return Actor{DID: did, Role: e.Role}, nil
}

// Authorize checks whether the actor may act on a resource owned by
// targetOwner. Admins may act on anything; owners only on their own.
func (p *Policy) Authorize(ctx context.Context, actor Actor, targetOwner string) error {
	if actor.IsAdmin() || actor.DID == targetOwner {
		return nil
	}
	p.log.Warn(ctx, "access denied: not the owner",
		"caller", actor.DID, "role", string(actor.Role), "owner", targetOwner)
	return fmt.Errorf("%w: not the owner of this DID", common.ErrorUnauthorized)
}

// CheckDidCount rejects a reservation when the actor already holds its
// maximum number of DIDs. The boundary is inclusive: with a limit of N,
// holding N means the next reservation fails.
func (p *Policy) CheckDidCount(ctx context.Context, actor Actor, current int64) error {
	if actor.IsAdmin() {
		return nil
	}
	entry, err := p.lookupOptional(ctx, actor.DID)
	if err != nil {
		return err
	}
	max := entry.EffectiveMaxDidCount(p.limits.DefaultMaxDidCount)
	if current >= max {
		p.log.Warn(ctx, "DID count quota exceeded", "did", actor.DID, "count", current, "max", max)
		return fmt.Errorf("%w: DID count limit reached (%d)", common.ErrorQuotaExceeded, max)
	}
	return nil
}

// CheckTotalSize rejects a publish when the resulting total stored size
// would exceed the actor's limit.
func (p *Policy) CheckTotalSize(ctx context.Context, actor Actor, current, incoming int64) error {
	if actor.IsAdmin() {
		return nil
	}
	entry, err := p.lookupOptional(ctx, actor.DID)
	if err != nil {
		return err
	}
	max := entry.EffectiveMaxTotalSize(p.limits.DefaultMaxTotalSize)
	if current+incoming > max {
		p.log.Warn(ctx, "total size quota exceeded",
			"did", actor.DID, "current", current, "incoming", incoming, "max", max)
		return fmt.Errorf("%w: total DID document size would exceed limit (%d bytes)", common.ErrorSizeExceeded, max)
	}
	return nil
}

func (p *Policy) lookupOptional(ctx context.Context, did string) (*Entry, error) {
	e, err := p.Lookup(ctx, did)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// Upsert creates or replaces an ACL entry. Admin-gated.
func (p *Policy) Upsert(ctx context.Context, actor Actor, e Entry) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: ACL management requires admin role", common.ErrorUnauthorized)
	}
	if e.DID == "" {
		return fmt.Errorf("%w: acl entry needs a did", common.ErrorValidation)
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = common.NowEpoch()
	}
	raw, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	p.log.Info(ctx, "acl entry stored", "did", e.DID, "role", string(e.Role))
	return store.Put(ctx, p.store, store.AclKey(e.DID), raw)
}

// Remove deletes an ACL entry. Admin-gated.
func (p *Policy) Remove(ctx context.Context, actor Actor, did string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: ACL management requires admin role", common.ErrorUnauthorized)
	}
	p.log.Info(ctx, "acl entry removed", "did", did)
	return store.Delete(ctx, p.store, store.AclKey(did))
}

// List returns all ACL entries. Admin-gated.
func (p *Policy) List(ctx context.Context, actor Actor) ([]Entry, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: ACL management requires admin role", common.ErrorUnauthorized)
	}
	raw, err := p.store.ScanPrefix(ctx, store.AclPrefix)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, kv := range raw {
		var e Entry
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
