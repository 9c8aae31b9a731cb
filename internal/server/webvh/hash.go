package webvh

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/gowebpki/jcs"
	"github.com/multiformats/go-multihash"
)

const scidPlaceholder = "{SCID}"

// canonicalize renders a JSON value in RFC 8785 canonical form.
func canonicalize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize: %v", common.ErrorInternal, err)
	}
	c, err := jcs.Transform(b)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize: %v", common.ErrorInternal, err)
	}
	return c, nil
}

// multihashB58 is base58btc(multihash-sha2-256(data)), the encoding used
// for both SCIDs and entry hashes.
func multihashB58(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("%w: multihash: %v", common.ErrorInternal, err)
	}
	return mh.B58String(), nil
}

// withoutProof copies the top level of an entry document, dropping the
// proof and substituting versionId. Nested values are shared, never
// mutated.
func withoutProof(doc map[string]any, versionID string) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "proof" {
			continue
		}
		out[k] = v
	}
	out["versionId"] = versionID
	return out
}

// entryHash computes the hash component of an entry's versionId. The
// entry is hashed without its proof and with versionId replaced by prev:
// the previous entry's versionId, or the SCID for the genesis entry.
func entryHash(e *LogEntry, prev string) (string, error) {
	c, err := canonicalize(withoutProof(e.doc, prev))
	if err != nil {
		return "", err
	}
	return multihashB58(c)
}

// verifySCID recomputes the genesis entry's SCID. The declared SCID is
// replaced by the {SCID} placeholder everywhere it appears in the
// canonical form, then the result is hashed; the hash must equal the
// declared SCID.
func verifySCID(genesis *LogEntry) error {
	scid := genesis.Params.SCID
	if scid == "" {
		return fmt.Errorf("%w: genesis entry has no scid parameter", common.ErrorInvalidLog)
	}
	c, err := canonicalize(withoutProof(genesis.doc, scidPlaceholder))
	if err != nil {
		return err
	}
	c = bytes.ReplaceAll(c, []byte(scid), []byte(scidPlaceholder))
	derived, err := multihashB58(c)
	if err != nil {
		return err
	}
	if derived != scid {
		return fmt.Errorf("%w: scid does not match log content", common.ErrorInvalidLog)
	}
	return nil
}
