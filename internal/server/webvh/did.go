package webvh

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
)

// EncodeHost turns the server's public URL into the host segment of a
// did:webvh identifier. A non-default port is kept, percent-encoded as
// %3A per the did:web convention.
func EncodeHost(publicURL string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: invalid public URL %q", common.ErrorValidation, publicURL)
	}
	host := u.Hostname()
	if port := u.Port(); port != "" {
		host = host + "%3A" + port
	}
	return host, nil
}

// DeriveDidID composes the canonical DID for a published log: the genesis
// SCID, the encoded host, and the mnemonic path with slashes turned into
// colons.
func DeriveDidID(entries []LogEntry, host, mnemonic string) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: log has no entries", common.ErrorInvalidLog)
	}
	scid := entries[0].Params.SCID
	if scid == "" {
		return "", fmt.Errorf("%w: genesis entry has no scid parameter", common.ErrorInvalidLog)
	}
	path := strings.ReplaceAll(mnemonic, "/", ":")
	return fmt.Sprintf("did:webvh:%s:%s:%s", scid, host, path), nil
}
