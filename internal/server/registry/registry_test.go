package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/affinidi/affinidi-webvh-service/internal/server/acl"
	"github.com/affinidi/affinidi-webvh-service/internal/server/stats"
	"github.com/affinidi/affinidi-webvh-service/internal/server/store"
	"github.com/affinidi/affinidi-webvh-service/internal/server/webvh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHost = "localhost%3A8080"

var (
	alice = acl.Actor{DID: "did:example:alice", Role: acl.RoleOwner}
	bob   = acl.Actor{DID: "did:example:bob", Role: acl.RoleOwner}
	admin = acl.Actor{DID: "did:example:root", Role: acl.RoleAdmin}
)

type fixture struct {
	reg    *Registry
	store  store.Store
	policy *acl.Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := store.NewMemory()
	policy := acl.NewPolicy(s, acl.Limits{DefaultMaxDidCount: 20, DefaultMaxTotalSize: 1 << 20}, log)
	collector := stats.NewCollector(s, log)
	validator := webvh.NewValidator()
	reg := New(s, policy, collector, validator, testHost, log)

	ctx := context.Background()
	system := acl.Actor{DID: "system", Role: acl.RoleAdmin}
	for _, a := range []acl.Actor{alice, bob, admin} {
		require.NoError(t, policy.Upsert(ctx, system, acl.Entry{DID: a.DID, Role: a.Role}))
	}
	return &fixture{reg: reg, store: s, policy: policy}
}

// buildLog produces a valid signed single-entry log for a mnemonic.
func buildLog(t *testing.T, mnemonic string) (string, *webvh.Signer) {
	t.Helper()
	signer, err := webvh.NewSigner()
	require.NoError(t, err)
	genesis, err := webvh.CreateGenesis(webvh.NewDocument(testHost, mnemonic), signer, time.Now())
	require.NoError(t, err)
	return webvh.Serialize([]webvh.LogEntry{*genesis}), signer
}

func TestReserveWithPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)
	assert.Equal(t, "apple-banana", rec.Mnemonic)
	assert.Equal(t, alice.DID, rec.Owner)
	assert.Nil(t, rec.DidID)
	assert.Zero(t, rec.VersionCount)

	// Global uniqueness, even across owners.
	_, err = f.reg.Reserve(ctx, bob, strPtr("apple-banana"))
	require.ErrorIs(t, err, common.ErrorPathUnavailable)
}

func TestReserveRandomMnemonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.reg.Reserve(ctx, alice, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^[a-z]+-[a-z]+$`, rec.Mnemonic)
}

func TestReserveValidatesPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, path := range []string{"", "a", "UPPER", "has_underscore", "ok/x", "sp ace"} {
		_, err := f.reg.Reserve(ctx, alice, &path)
		require.ErrorIs(t, err, common.ErrorPathInvalid, "path %q", path)
	}

	_, err := f.reg.Reserve(ctx, alice, strPtr("team/alpha/prod"))
	require.NoError(t, err)
}

func TestReserveWellKnownIsAdminOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr(".well-known/whois"))
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	rec, err := f.reg.Reserve(ctx, admin, strPtr(".well-known/whois"))
	require.NoError(t, err)
	assert.Equal(t, ".well-known/whois", rec.Mnemonic)
}

func TestReserveEnforcesCountQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	one := int64(1)
	system := acl.Actor{DID: "system", Role: acl.RoleAdmin}
	require.NoError(t, f.policy.Upsert(ctx, system, acl.Entry{DID: bob.DID, Role: acl.RoleOwner, MaxDidCount: &one}))

	_, err := f.reg.Reserve(ctx, bob, strPtr("first-one"))
	require.NoError(t, err)
	_, err = f.reg.Reserve(ctx, bob, strPtr("second-one"))
	require.ErrorIs(t, err, common.ErrorQuotaExceeded)
}

func TestPublishLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)

	logContent, signer := buildLog(t, "apple-banana")
	rec, err := f.reg.Publish(ctx, alice, "apple-banana", logContent)
	require.NoError(t, err)
	require.NotNil(t, rec.DidID)
	assert.Equal(t, int64(1), rec.VersionCount)
	assert.Equal(t, int64(len(logContent)), rec.ContentSize)
	firstDid := *rec.DidID

	// Second publish appends an entry; did_id must not change.
	entries, err := webvh.Parse(logContent)
	require.NoError(t, err)
	second, err := webvh.Append(&entries[0], entries[0].State, webvh.Parameters{}, signer, time.Now())
	require.NoError(t, err)
	extended := webvh.Serialize([]webvh.LogEntry{entries[0], *second})

	rec, err = f.reg.Publish(ctx, alice, "apple-banana", extended)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.VersionCount)
	assert.Equal(t, firstDid, *rec.DidID)

	stored, err := f.reg.Log(ctx, "apple-banana")
	require.NoError(t, err)
	assert.Equal(t, extended, stored)
}

func TestPublishRejectsDifferentDid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)
	first, _ := buildLog(t, "apple-banana")
	_, err = f.reg.Publish(ctx, alice, "apple-banana", first)
	require.NoError(t, err)

	// A fresh genesis derives a different SCID, hence a different DID.
	other, _ := buildLog(t, "apple-banana")
	_, err = f.reg.Publish(ctx, alice, "apple-banana", other)
	require.ErrorIs(t, err, common.ErrorInvalidLog)
}

func TestPublishRejectsWrongPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)

	logContent, _ := buildLog(t, "other-path")
	_, err = f.reg.Publish(ctx, alice, "apple-banana", logContent)
	require.ErrorIs(t, err, common.ErrorInvalidLog)
}

func TestPublishUnknownMnemonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	logContent, _ := buildLog(t, "apple-banana")
	_, err := f.reg.Publish(ctx, alice, "apple-banana", logContent)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPublishRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)

	logContent, _ := buildLog(t, "apple-banana")
	_, err = f.reg.Publish(ctx, bob, "apple-banana", logContent)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	// Admin may publish on behalf of the owner.
	_, err = f.reg.Publish(ctx, admin, "apple-banana", logContent)
	require.NoError(t, err)
}

func TestPublishEnforcesSizeQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tiny := int64(10)
	system := acl.Actor{DID: "system", Role: acl.RoleAdmin}
	require.NoError(t, f.policy.Upsert(ctx, system, acl.Entry{DID: alice.DID, Role: acl.RoleOwner, MaxTotalSize: &tiny}))

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)
	logContent, _ := buildLog(t, "apple-banana")
	_, err = f.reg.Publish(ctx, alice, "apple-banana", logContent)
	require.ErrorIs(t, err, common.ErrorSizeExceeded)
}

func TestAttachWitness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)

	// Before any publish the DID is pending.
	err = f.reg.AttachWitness(ctx, alice, "apple-banana", `{"witness":true}`)
	require.ErrorIs(t, err, common.ErrorNotPublished)

	logContent, _ := buildLog(t, "apple-banana")
	_, err = f.reg.Publish(ctx, alice, "apple-banana", logContent)
	require.NoError(t, err)

	err = f.reg.AttachWitness(ctx, alice, "apple-banana", "not json")
	require.ErrorIs(t, err, common.ErrorWitnessInvalid)
	err = f.reg.AttachWitness(ctx, alice, "apple-banana", `["array"]`)
	require.ErrorIs(t, err, common.ErrorWitnessInvalid)
	err = f.reg.AttachWitness(ctx, alice, "apple-banana", `null`)
	require.ErrorIs(t, err, common.ErrorWitnessInvalid)

	require.NoError(t, f.reg.AttachWitness(ctx, alice, "apple-banana", `{"witness":true}`))
	got, err := f.reg.Witness(ctx, "apple-banana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"witness":true}`, got)
}

func TestInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)

	rec, meta, usage, err := f.reg.Info(ctx, alice, "apple-banana")
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Zero(t, usage.TotalUpdates)
	assert.Nil(t, rec.DidID)

	logContent, _ := buildLog(t, "apple-banana")
	_, err = f.reg.Publish(ctx, alice, "apple-banana", logContent)
	require.NoError(t, err)

	rec, meta, usage, err = f.reg.Info(ctx, alice, "apple-banana")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 1, meta.LogEntryCount)
	assert.Equal(t, int64(1), usage.TotalUpdates)
	require.NotNil(t, rec.DidID)

	_, _, _, err = f.reg.Info(ctx, bob, "apple-banana")
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, m := range []string{"alice-one", "alice-two"} {
		_, err := f.reg.Reserve(ctx, alice, &m)
		require.NoError(t, err)
	}
	_, err := f.reg.Reserve(ctx, bob, strPtr("bob-one"))
	require.NoError(t, err)

	// Non-admin owner filter is ignored; callers always get their own.
	recs, err := f.reg.List(ctx, alice, strPtr(bob.DID))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, alice.DID, rec.Owner)
	}

	// Admin with filter sees the filtered owner.
	recs, err = f.reg.List(ctx, admin, strPtr(bob.DID))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "bob-one", recs[0].Mnemonic)

	// Admin without filter sees everything.
	recs, err = f.reg.List(ctx, admin, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestDeleteRemovesAllKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)
	logContent, _ := buildLog(t, "apple-banana")
	_, err = f.reg.Publish(ctx, alice, "apple-banana", logContent)
	require.NoError(t, err)
	require.NoError(t, f.reg.AttachWitness(ctx, alice, "apple-banana", `{"w":1}`))

	require.NoError(t, f.reg.Delete(ctx, alice, "apple-banana"))

	for _, key := range []string{
		store.DidKey("apple-banana"),
		store.LogKey("apple-banana"),
		store.WitnessKey("apple-banana"),
		store.OwnerKey(alice.DID, "apple-banana"),
		store.StatsKey("apple-banana"),
	} {
		ok, err := f.store.Has(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "key %s should be gone", key)
	}
}

// brokenBatch fails every batch write, simulating a backend outage at
// commit time.
type brokenBatch struct {
	store.Store
}

func (b *brokenBatch) PutBatch(ctx context.Context, puts []store.KV, deletes []string) error {
	return fmt.Errorf("%w: connection lost", common.ErrorStore)
}

func TestDeleteFailedBatchLeavesAllKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)
	logContent, _ := buildLog(t, "apple-banana")
	_, err = f.reg.Publish(ctx, alice, "apple-banana", logContent)
	require.NoError(t, err)
	require.NoError(t, f.reg.AttachWitness(ctx, alice, "apple-banana", `{"w":1}`))

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	broken := New(&brokenBatch{Store: f.store}, f.policy,
		stats.NewCollector(f.store, log), webvh.NewValidator(), testHost, log)

	err = broken.Delete(ctx, alice, "apple-banana")
	require.ErrorIs(t, err, common.ErrorStore)

	// The batch never committed, so every key survives.
	for _, key := range []string{
		store.DidKey("apple-banana"),
		store.LogKey("apple-banana"),
		store.WitnessKey("apple-banana"),
		store.OwnerKey(alice.DID, "apple-banana"),
		store.StatsKey("apple-banana"),
	} {
		ok, err := f.store.Has(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "key %s should remain", key)
	}
}

// racyHas reports the first probed mnemonic as free, then as taken once
// the claim re-checks it under the lock.
type racyHas struct {
	store.Store
	calls int
}

func (r *racyHas) Has(ctx context.Context, key string) (bool, error) {
	r.calls++
	switch r.calls {
	case 1:
		return false, nil
	case 2:
		return true, nil
	}
	return r.Store.Has(ctx, key)
}

func TestReserveRandomRetriesLostRace(t *testing.T) {
	ctx := context.Background()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	mem := store.NewMemory()
	s := &racyHas{Store: mem}

	policy := acl.NewPolicy(mem, acl.Limits{DefaultMaxDidCount: 20, DefaultMaxTotalSize: 1 << 20}, log)
	system := acl.Actor{DID: "system", Role: acl.RoleAdmin}
	require.NoError(t, policy.Upsert(ctx, system, acl.Entry{DID: alice.DID, Role: acl.RoleOwner}))
	reg := New(s, policy, stats.NewCollector(mem, log), webvh.NewValidator(), testHost, log)

	// The first draw loses the race at claim time; the caller never chose
	// the name, so the registry must draw again instead of failing.
	rec, err := reg.Reserve(ctx, alice, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^[a-z]+-[a-z]+$`, rec.Mnemonic)
	assert.GreaterOrEqual(t, s.calls, 4)
}

func TestDeleteUnauthorizedLeavesRecordIntact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)
	logContent, _ := buildLog(t, "apple-banana")
	_, err = f.reg.Publish(ctx, alice, "apple-banana", logContent)
	require.NoError(t, err)

	err = f.reg.Delete(ctx, bob, "apple-banana")
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	rec, _, _, err := f.reg.Info(ctx, alice, "apple-banana")
	require.NoError(t, err)
	assert.NotNil(t, rec.DidID)
	got, err := f.reg.Log(ctx, "apple-banana")
	require.NoError(t, err)
	assert.Equal(t, logContent, got)
}

func TestConcurrentPublishesGetDistinctVersionCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("apple-banana"))
	require.NoError(t, err)
	logContent, _ := buildLog(t, "apple-banana")

	const workers = 8
	counts := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := f.reg.Publish(ctx, alice, "apple-banana", logContent)
			if err == nil {
				counts <- rec.VersionCount
			}
		}()
	}
	wg.Wait()
	close(counts)

	seen := map[int64]bool{}
	for c := range counts {
		require.False(t, seen[c], "duplicate version_count %d", c)
		seen[c] = true
	}
	assert.Len(t, seen, workers)
}

func TestCleanupPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reg.Reserve(ctx, alice, strPtr("stale-one"))
	require.NoError(t, err)
	_, err = f.reg.Reserve(ctx, alice, strPtr("fresh-one"))
	require.NoError(t, err)
	logContent, _ := buildLog(t, "fresh-one")
	_, err = f.reg.Publish(ctx, alice, "fresh-one", logContent)
	require.NoError(t, err)

	// Pretend time moved past the TTL for everything created so far.
	f.reg.now = func() int64 { return common.NowEpoch() + 7200 }
	require.NoError(t, f.reg.CleanupPending(ctx, time.Hour))

	_, err = f.reg.getRecord(ctx, "stale-one")
	require.True(t, errors.Is(err, common.ErrorNotFound))
	_, err = f.reg.getRecord(ctx, "fresh-one")
	require.NoError(t, err)
}

func TestValidatePath(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		path string
		ok   bool
	}{
		{path: "ab", ok: true},
		{path: "apple-banana", ok: true},
		{path: "team/alpha/x1", ok: true},
		{path: "a", ok: false},
		{path: string(long), ok: false},
		{path: "Upper", ok: false},
		{path: "dot.seg", ok: false},
		{path: "team//alpha", ok: false},
	}
	for _, tt := range tests {
		err := validatePath(tt.path)
		if tt.ok {
			assert.NoError(t, err, "path %q", tt.path)
		} else {
			assert.ErrorIs(t, err, common.ErrorPathInvalid, "path %q", tt.path)
		}
	}
}

func strPtr(s string) *string { return &s }
