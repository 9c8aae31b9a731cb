package webvh

import (
	"testing"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHost(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "plain host", url: "https://did.example.com", want: "did.example.com"},
		{name: "host with port", url: "http://localhost:8080", want: "localhost%3A8080"},
		{name: "trailing path ignored", url: "https://did.example.com/base", want: "did.example.com"},
		{name: "garbage", url: "://nope", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeHost(tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrorValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveDidID(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	genesis, err := CreateGenesis(NewDocument("localhost%3A8080", "team/alpha"), signer, time.Now())
	require.NoError(t, err)

	id, err := DeriveDidID([]LogEntry{*genesis}, "localhost%3A8080", "team/alpha")
	require.NoError(t, err)
	scid := genesis.Params.SCID
	assert.Equal(t, "did:webvh:"+scid+":localhost%3A8080:team:alpha", id)
	assert.Equal(t, id, DocumentID([]LogEntry{*genesis}))

	_, err = DeriveDidID(nil, "h", "m")
	require.ErrorIs(t, err, common.ErrorInvalidLog)
}
