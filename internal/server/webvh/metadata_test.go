package webvh

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMetadata(t *testing.T) {
	entries, signer := newChain(t, 2)

	ttl := int64(3600)
	third, err := Append(&entries[1], entries[1].State, Parameters{
		Witness: &WitnessParam{
			Threshold: 2,
			Witnesses: []WitnessRef{{ID: "did:example:w1"}, {ID: "did:example:w2"}, {ID: "did:example:w3"}},
		},
		Watchers:      []string{"https://watcher.example.com"},
		NextKeyHashes: []string{"zQmNextKeyHash"},
		TTL:           &ttl,
	}, signer, time.Now())
	require.NoError(t, err)
	entries = append(entries, *third)

	m := ExtractMetadata(entries)
	assert.Equal(t, 3, m.LogEntryCount)
	assert.Equal(t, third.VersionID, m.LatestVersionID)
	assert.Equal(t, third.VersionTime, m.LatestVersionTime)
	assert.Equal(t, "did:webvh:1.0", m.Method)
	assert.True(t, m.PreRotation)
	assert.Equal(t, 2, m.WitnessThreshold)
	assert.Equal(t, 3, m.WitnessCount)
	assert.Equal(t, []string{"did:example:w1", "did:example:w2", "did:example:w3"}, m.Witnesses)
	assert.Equal(t, 1, m.WatcherCount)
	assert.False(t, m.Deactivated)
	require.NotNil(t, m.TTL)
	assert.Equal(t, ttl, *m.TTL)
}

func TestExtractMetadataDeactivated(t *testing.T) {
	entries, signer := newChain(t, 1)
	dead, err := Append(&entries[0], entries[0].State, Parameters{Deactivated: true}, signer, time.Now())
	require.NoError(t, err)

	m := ExtractMetadata([]LogEntry{entries[0], *dead})
	assert.True(t, m.Deactivated)
}

func TestDocumentID(t *testing.T) {
	entries, _ := newChain(t, 1)

	id := DocumentID(entries)
	require.True(t, strings.HasPrefix(id, "did:webvh:"))
	assert.Contains(t, id, entries[0].Params.SCID)
	assert.True(t, strings.HasSuffix(id, ":example.com:apple-banana"))

	assert.Empty(t, DocumentID(nil))
}
