package webvh

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/stretchr/testify/require"
)

func testValidator() *Validator {
	return NewValidator()
}

// newChain builds a valid signed log of n entries for example.com.
func newChain(t *testing.T, n int) ([]LogEntry, *Signer) {
	t.Helper()
	signer, err := NewSigner()
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	genesis, err := CreateGenesis(NewDocument("example.com", "apple-banana"), signer, now)
	require.NoError(t, err)

	entries := []LogEntry{*genesis}
	for i := 1; i < n; i++ {
		state := map[string]any{}
		for k, v := range entries[i-1].State {
			state[k] = v
		}
		state["service"] = []any{map[string]any{"id": "#svc", "type": "Example"}}

		next, err := Append(&entries[i-1], state, Parameters{}, signer, now.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		entries = append(entries, *next)
	}
	return entries, signer
}

// mutate re-parses an entry after applying f to its decoded document.
func mutate(t *testing.T, e LogEntry, f func(doc map[string]any)) LogEntry {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(e.Raw()), &doc))
	f(doc)
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	parsed, err := Parse(string(raw))
	require.NoError(t, err)
	return parsed[0]
}

func TestSignerFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 7

	a, err := NewSignerFromSeed(seed)
	require.NoError(t, err)
	b, err := NewSignerFromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, a.Multikey, b.Multikey)

	_, err = NewSignerFromSeed(seed[:16])
	require.Error(t, err)
}

func TestValidateChainSingleEntry(t *testing.T) {
	entries, _ := newChain(t, 1)
	v := testValidator()
	require.NoError(t, v.ValidateChain(entries))
	// A log that validated once always validates again.
	require.NoError(t, v.ValidateChain(entries))
}

func TestValidateChainMultipleEntries(t *testing.T) {
	entries, _ := newChain(t, 3)
	require.NoError(t, testValidator().ValidateChain(entries))
}

func TestValidateChainRejectsVersionGap(t *testing.T) {
	entries, _ := newChain(t, 3)
	gapped := []LogEntry{entries[0], entries[2]}
	err := testValidator().ValidateChain(gapped)
	require.ErrorIs(t, err, common.ErrorInvalidLog)
}

func TestValidateChainScidMismatchBeatsProofCheck(t *testing.T) {
	entries, _ := newChain(t, 1)
	// Tampering with the genesis state breaks both the SCID binding and
	// the proof; the SCID check fires first.
	tampered := mutate(t, entries[0], func(doc map[string]any) {
		doc["state"].(map[string]any)["extra"] = "tampered"
	})
	err := testValidator().ValidateChain([]LogEntry{tampered})
	require.ErrorIs(t, err, common.ErrorInvalidLog)
	require.NotErrorIs(t, err, common.ErrorProofInvalid)
}

func TestValidateChainRejectsTamperedLaterEntry(t *testing.T) {
	entries, _ := newChain(t, 2)
	entries[1] = mutate(t, entries[1], func(doc map[string]any) {
		doc["state"].(map[string]any)["extra"] = "tampered"
	})
	err := testValidator().ValidateChain(entries)
	require.ErrorIs(t, err, common.ErrorInvalidLog)
}

func TestValidateChainRejectsBadSignature(t *testing.T) {
	entries, _ := newChain(t, 1)
	entries[0] = mutate(t, entries[0], func(doc map[string]any) {
		proof := doc["proof"].([]any)[0].(map[string]any)
		value := proof["proofValue"].(string)
		last := value[len(value)-1]
		flip := "2"
		if last == '2' {
			flip = "3"
		}
		proof["proofValue"] = value[:len(value)-1] + flip
	})
	err := testValidator().ValidateChain(entries)
	require.ErrorIs(t, err, common.ErrorProofInvalid)
}

func TestValidateChainRejectsUnknownCryptosuite(t *testing.T) {
	entries, _ := newChain(t, 1)
	// The cryptosuite lives inside the proof, which is excluded from both
	// the SCID and the entry hash, so only proof verification trips.
	entries[0] = mutate(t, entries[0], func(doc map[string]any) {
		doc["proof"].([]any)[0].(map[string]any)["cryptosuite"] = "fancy-suite-2099"
	})
	err := testValidator().ValidateChain(entries)
	require.ErrorIs(t, err, common.ErrorProofInvalid)
}

func TestValidateChainRejectsUnauthorizedSigner(t *testing.T) {
	entries, _ := newChain(t, 1)
	stranger, err := NewSigner()
	require.NoError(t, err)

	next, err := Append(&entries[0], entries[0].State, Parameters{}, stranger, time.Now())
	require.NoError(t, err)
	err = testValidator().ValidateChain([]LogEntry{entries[0], *next})
	require.ErrorIs(t, err, common.ErrorProofInvalid)
}

func TestValidateChainKeyRotation(t *testing.T) {
	entries, oldKey := newChain(t, 1)
	newKey, err := NewSigner()
	require.NoError(t, err)

	// Rotation entry declares the new key but is signed by the old one.
	rotated, err := Append(&entries[0], entries[0].State,
		Parameters{UpdateKeys: []string{newKey.Multikey}}, oldKey, time.Now())
	require.NoError(t, err)

	afterNew, err := Append(rotated, entries[0].State, Parameters{}, newKey, time.Now())
	require.NoError(t, err)
	require.NoError(t, testValidator().ValidateChain([]LogEntry{entries[0], *rotated, *afterNew}))

	afterOld, err := Append(rotated, entries[0].State, Parameters{}, oldKey, time.Now())
	require.NoError(t, err)
	err = testValidator().ValidateChain([]LogEntry{entries[0], *rotated, *afterOld})
	require.ErrorIs(t, err, common.ErrorProofInvalid)
}

func TestValidateChainRejectsEntriesAfterDeactivation(t *testing.T) {
	entries, signer := newChain(t, 1)
	deactivated, err := Append(&entries[0], entries[0].State,
		Parameters{Deactivated: true}, signer, time.Now())
	require.NoError(t, err)
	posthumous, err := Append(deactivated, entries[0].State, Parameters{}, signer, time.Now())
	require.NoError(t, err)

	require.NoError(t, testValidator().ValidateChain([]LogEntry{entries[0], *deactivated}))
	err = testValidator().ValidateChain([]LogEntry{entries[0], *deactivated, *posthumous})
	require.ErrorIs(t, err, common.ErrorInvalidLog)
}
