// Package registry implements the DID lifecycle: path reservation,
// validated log publication, witness attachment, lookup, listing, and
// deletion. All mutations for one mnemonic are serialized through a keyed
// mutex and committed through a single atomic store batch, so readers only
// ever observe fully applied states.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/affinidi/affinidi-webvh-service/internal/server/acl"
	"github.com/affinidi/affinidi-webvh-service/internal/server/stats"
	"github.com/affinidi/affinidi-webvh-service/internal/server/store"
	"github.com/affinidi/affinidi-webvh-service/internal/server/webvh"
)

// DidRecord is the registry's bookkeeping entry for one mnemonic. DidID
// stays nil until the first successful publish and never changes after.
type DidRecord struct {
	Mnemonic     string  `json:"mnemonic"`
	Owner        string  `json:"owner"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
	VersionCount int64   `json:"version_count"`
	ContentSize  int64   `json:"content_size"`
	DidID        *string `json:"did_id,omitempty"`
}

// Registry coordinates the store, ACL policy, log validator, and stats
// collector.
type Registry struct {
	store     store.Store
	acl       *acl.Policy
	stats     *stats.Collector
	validator *webvh.Validator
	host      string
	locks     *keyedMutex
	log       logging.Logger
	now       func() int64
}

func New(s store.Store, policy *acl.Policy, collector *stats.Collector, validator *webvh.Validator, host string, log logging.Logger) *Registry {
	return &Registry{
		store:     s,
		acl:       policy,
		stats:     collector,
		validator: validator,
		host:      host,
		locks:     newKeyedMutex(),
		log:       log,
		now:       common.NowEpoch,
	}
}

// Reserve claims a mnemonic for the actor. With a nil path a random
// two-word mnemonic is generated; otherwise the path is validated and
// must be free. Paths under .well-known are reserved for admins.
func (r *Registry) Reserve(ctx context.Context, actor acl.Actor, path *string) (*DidRecord, error) {
	if path != nil {
		segs := strings.SplitN(*path, "/", 2)
		if segs[0] == ".well-known" {
			if !actor.IsAdmin() {
				return nil, fmt.Errorf("%w: .well-known paths require admin role", common.ErrorUnauthorized)
			}
			if len(segs) == 2 {
				if err := validatePath(segs[1]); err != nil {
					return nil, err
				}
			}
		} else if err := validatePath(*path); err != nil {
			return nil, err
		}
		return r.claim(ctx, actor, *path)
	}

	// A random draw can lose the race between the uniqueness probe and the
	// claim under the lock; the caller never chose the name, so draw again.
	for i := 0; i < 100; i++ {
		m, err := generateUniqueMnemonic(ctx, r.store)
		if err != nil {
			return nil, err
		}
		rec, err := r.claim(ctx, actor, m)
		if errors.Is(err, common.ErrorPathUnavailable) {
			continue
		}
		return rec, err
	}
	return nil, fmt.Errorf("%w: could not find a free mnemonic", common.ErrorInternal)
}

func (r *Registry) claim(ctx context.Context, actor acl.Actor, mnemonic string) (*DidRecord, error) {
	unlock := r.locks.Lock(mnemonic)
	defer unlock()

	taken, err := r.store.Has(ctx, store.DidKey(mnemonic))
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: %s", common.ErrorPathUnavailable, mnemonic)
	}

	owned, err := r.store.ScanPrefix(ctx, store.OwnerPrefix(actor.DID))
	if err != nil {
		return nil, err
	}
	if err := r.acl.CheckDidCount(ctx, actor, int64(len(owned))); err != nil {
		return nil, err
	}

	rec := &DidRecord{
		Mnemonic:  mnemonic,
		Owner:     actor.DID,
		CreatedAt: r.now(),
		UpdatedAt: r.now(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	err = r.store.PutBatch(ctx, []store.KV{
		{Key: store.DidKey(mnemonic), Value: raw},
		{Key: store.OwnerKey(actor.DID, mnemonic), Value: []byte(mnemonic)},
	}, nil)
	if err != nil {
		return nil, err
	}
	r.log.Info(ctx, "mnemonic reserved", "mnemonic", mnemonic, "owner", actor.DID)
	return rec, nil
}

// Publish validates and stores a complete did:webvh log for a reserved
// mnemonic. The record, the log content, and the update counter land in
// one atomic batch. Once a DID identifier is bound to the mnemonic, any
// log deriving a different identifier is rejected.
func (r *Registry) Publish(ctx context.Context, actor acl.Actor, mnemonic, logContent string) (*DidRecord, error) {
	unlock := r.locks.Lock(mnemonic)
	defer unlock()

	rec, err := r.getRecord(ctx, mnemonic)
	if err != nil {
		return nil, err
	}
	if err := r.acl.Authorize(ctx, actor, rec.Owner); err != nil {
		return nil, err
	}

	entries, err := webvh.Parse(logContent)
	if err != nil {
		return nil, err
	}
	if err := r.validator.ValidateChain(entries); err != nil {
		return nil, err
	}

	didID, err := webvh.DeriveDidID(entries, r.host, mnemonic)
	if err != nil {
		return nil, err
	}
	if docID := webvh.DocumentID(entries); docID != "" && docID != didID {
		return nil, fmt.Errorf("%w: document id does not match this path", common.ErrorInvalidLog)
	}
	if rec.DidID != nil && *rec.DidID != didID {
		return nil, fmt.Errorf("%w: log derives a different DID than previously published", common.ErrorInvalidLog)
	}

	current, err := r.ownerLogSize(ctx, rec.Owner, mnemonic)
	if err != nil {
		return nil, err
	}
	if err := r.acl.CheckTotalSize(ctx, actor, current, int64(len(logContent))); err != nil {
		return nil, err
	}

	statsKV, err := r.stats.UpdatePut(ctx, mnemonic)
	if err != nil {
		return nil, err
	}

	rec.DidID = &didID
	rec.VersionCount++
	rec.ContentSize = int64(len(logContent))
	rec.UpdatedAt = r.now()
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	err = r.store.PutBatch(ctx, []store.KV{
		{Key: store.DidKey(mnemonic), Value: raw},
		{Key: store.LogKey(mnemonic), Value: []byte(logContent)},
		statsKV,
	}, nil)
	if err != nil {
		return nil, err
	}

	r.stats.RecordUpdateSeries(ctx, mnemonic)
	r.log.Info(ctx, "log published",
		"mnemonic", mnemonic, "did", didID, "entries", len(entries), "version_count", rec.VersionCount)
	return rec, nil
}

// ownerLogSize sums content_size over the owner's records, excluding the
// mnemonic whose log is being replaced.
func (r *Registry) ownerLogSize(ctx context.Context, owner, except string) (int64, error) {
	owned, err := r.store.ScanPrefix(ctx, store.OwnerPrefix(owner))
	if err != nil {
		return 0, err
	}
	var total int64
	for _, kv := range owned {
		m := string(kv.Value)
		if m == except {
			continue
		}
		rec, err := r.getRecord(ctx, m)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			return 0, err
		}
		total += rec.ContentSize
	}
	return total, nil
}

// AttachWitness stores a witness proof document for a published DID. The
// content must be a JSON object; attaching before the first publish is
// rejected.
func (r *Registry) AttachWitness(ctx context.Context, actor acl.Actor, mnemonic, witness string) error {
	unlock := r.locks.Lock(mnemonic)
	defer unlock()

	rec, err := r.getRecord(ctx, mnemonic)
	if err != nil {
		return err
	}
	if err := r.acl.Authorize(ctx, actor, rec.Owner); err != nil {
		return err
	}
	if rec.DidID == nil {
		return fmt.Errorf("%w: witness requires a published log", common.ErrorNotPublished)
	}

	// Unmarshal accepts the literal "null" into a nil map, so check both.
	var obj map[string]any
	if err := json.Unmarshal([]byte(witness), &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: witness content must be a JSON object", common.ErrorWitnessInvalid)
	}

	if err := store.Put(ctx, r.store, store.WitnessKey(mnemonic), []byte(witness)); err != nil {
		return err
	}
	r.log.Info(ctx, "witness attached", "mnemonic", mnemonic)
	return nil
}

// Info returns the record, log metadata, and usage counters for one
// mnemonic. Metadata is nil until something has been published.
func (r *Registry) Info(ctx context.Context, actor acl.Actor, mnemonic string) (*DidRecord, *webvh.Metadata, *stats.Stats, error) {
	rec, err := r.getRecord(ctx, mnemonic)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := r.acl.Authorize(ctx, actor, rec.Owner); err != nil {
		return nil, nil, nil, err
	}

	var meta *webvh.Metadata
	raw, err := r.store.Get(ctx, store.LogKey(mnemonic))
	switch {
	case err == nil:
		entries, perr := webvh.Parse(string(raw))
		if perr != nil {
			return nil, nil, nil, perr
		}
		m := webvh.ExtractMetadata(entries)
		meta = &m
	case !errors.Is(err, common.ErrorNotFound):
		return nil, nil, nil, err
	}

	usage, err := r.stats.Get(ctx, mnemonic)
	if err != nil {
		return nil, nil, nil, err
	}
	return rec, meta, &usage, nil
}

// Log returns the stored log content for public resolution.
func (r *Registry) Log(ctx context.Context, mnemonic string) (string, error) {
	raw, err := r.store.Get(ctx, store.LogKey(mnemonic))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Witness returns the stored witness content for public resolution.
func (r *Registry) Witness(ctx context.Context, mnemonic string) (string, error) {
	raw, err := r.store.Get(ctx, store.WitnessKey(mnemonic))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// List returns the actor's records. Admins may pass an owner filter or,
// with no filter, list everything; for plain owners the filter is ignored
// and they always get their own.
func (r *Registry) List(ctx context.Context, actor acl.Actor, ownerFilter *string) ([]DidRecord, error) {
	if actor.IsAdmin() && ownerFilter == nil {
		kvs, err := r.store.ScanPrefix(ctx, store.DidPrefix)
		if err != nil {
			return nil, err
		}
		out := make([]DidRecord, 0, len(kvs))
		for _, kv := range kvs {
			var rec DidRecord
			if err := json.Unmarshal(kv.Value, &rec); err != nil {
				continue
			}
			out = append(out, rec)
		}
		return out, nil
	}

	owner := actor.DID
	if actor.IsAdmin() && ownerFilter != nil {
		owner = *ownerFilter
	}
	owned, err := r.store.ScanPrefix(ctx, store.OwnerPrefix(owner))
	if err != nil {
		return nil, err
	}
	out := make([]DidRecord, 0, len(owned))
	for _, kv := range owned {
		rec, err := r.getRecord(ctx, string(kv.Value))
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Delete removes every key belonging to a mnemonic in one atomic batch,
// then prunes its stats series best-effort.
func (r *Registry) Delete(ctx context.Context, actor acl.Actor, mnemonic string) error {
	unlock := r.locks.Lock(mnemonic)
	defer unlock()

	rec, err := r.getRecord(ctx, mnemonic)
	if err != nil {
		return err
	}
	if err := r.acl.Authorize(ctx, actor, rec.Owner); err != nil {
		return err
	}

	err = r.store.PutBatch(ctx, nil, []string{
		store.DidKey(mnemonic),
		store.LogKey(mnemonic),
		store.WitnessKey(mnemonic),
		store.OwnerKey(rec.Owner, mnemonic),
		store.StatsKey(mnemonic),
	})
	if err != nil {
		return err
	}
	if err := r.stats.DeleteSeries(ctx, mnemonic); err != nil {
		r.log.Warn(ctx, "series cleanup after delete failed", "mnemonic", mnemonic)
	}
	r.log.Info(ctx, "did deleted", "mnemonic", mnemonic, "owner", rec.Owner)
	return nil
}

// CleanupPending removes reservations that were never published within
// ttl. Each candidate is re-checked under its lock so a racing publish
// wins.
func (r *Registry) CleanupPending(ctx context.Context, ttl time.Duration) error {
	kvs, err := r.store.ScanPrefix(ctx, store.DidPrefix)
	if err != nil {
		return err
	}
	cutoff := r.now() - int64(ttl/time.Second)
	for _, kv := range kvs {
		var rec DidRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			continue
		}
		if rec.DidID != nil || rec.CreatedAt >= cutoff {
			continue
		}
		if err := r.expireReservation(ctx, rec.Mnemonic, cutoff); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) expireReservation(ctx context.Context, mnemonic string, cutoff int64) error {
	unlock := r.locks.Lock(mnemonic)
	defer unlock()

	rec, err := r.getRecord(ctx, mnemonic)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	if rec.DidID != nil || rec.CreatedAt >= cutoff {
		return nil
	}

	r.log.Info(ctx, "expiring pending reservation", "mnemonic", mnemonic, "owner", rec.Owner)
	return r.store.PutBatch(ctx, nil, []string{
		store.DidKey(mnemonic),
		store.OwnerKey(rec.Owner, mnemonic),
	})
}

func (r *Registry) getRecord(ctx context.Context, mnemonic string) (*DidRecord, error) {
	raw, err := r.store.Get(ctx, store.DidKey(mnemonic))
	if err != nil {
		return nil, err
	}
	var rec DidRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: record for %s: %v", common.ErrorInternal, mnemonic, err)
	}
	return &rec, nil
}
