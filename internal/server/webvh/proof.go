package webvh

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/multiformats/go-multibase"
)

// ed25519 public key multicodec prefix.
var ed25519Prefix = []byte{0xED, 0x01}

// EncodeMultikey renders an ed25519 public key as a multibase multikey.
func EncodeMultikey(pub ed25519.PublicKey) (string, error) {
	data := append(append([]byte{}, ed25519Prefix...), pub...)
	return multibase.Encode(multibase.Base58BTC, data)
}

// DecodeMultikey parses a multikey into an ed25519 public key. Anything
// that is not a base58btc-encoded ed25519 key is rejected.
func DecodeMultikey(key string) (ed25519.PublicKey, error) {
	enc, data, err := multibase.Decode(key)
	if err != nil {
		return nil, fmt.Errorf("%w: multikey: %v", common.ErrorProofInvalid, err)
	}
	if enc != multibase.Base58BTC {
		return nil, fmt.Errorf("%w: multikey must be base58btc", common.ErrorProofInvalid)
	}
	if len(data) != len(ed25519Prefix)+ed25519.PublicKeySize ||
		data[0] != ed25519Prefix[0] || data[1] != ed25519Prefix[1] {
		return nil, fmt.Errorf("%w: multikey is not an ed25519 key", common.ErrorProofInvalid)
	}
	return ed25519.PublicKey(data[2:]), nil
}

// keyFragment extracts the multikey from a verificationMethod reference
// like "did:key:z6Mk...#z6Mk...".
func keyFragment(vm string) string {
	if _, frag, ok := strings.Cut(vm, "#"); ok && frag != "" {
		return frag
	}
	return strings.TrimPrefix(vm, "did:key:")
}

// suiteVerifier checks one proof over an entry document.
type suiteVerifier func(doc map[string]any, p Proof) error

// suites maps cryptosuite names to verifiers. New suites register here.
var suites = map[string]suiteVerifier{
	"eddsa-jcs-2022": verifyEddsaJcs2022,
}

// verifyProof dispatches on the proof's cryptosuite. Unknown suites fail
// verification rather than being skipped.
func verifyProof(doc map[string]any, p Proof) error {
	verify, ok := suites[p.Cryptosuite]
	if !ok {
		return fmt.Errorf("%w: unsupported cryptosuite %q", common.ErrorProofInvalid, p.Cryptosuite)
	}
	return verify(doc, p)
}

// verifyEddsaJcs2022 implements the eddsa-jcs-2022 Data Integrity
// cryptosuite: the signing input is sha256(JCS(proof config)) followed by
// sha256(JCS(entry without proof)).
func verifyEddsaJcs2022(doc map[string]any, p Proof) error {
	pub, err := DecodeMultikey(keyFragment(p.VerificationMethod))
	if err != nil {
		return err
	}

	unsigned := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "proof" {
			continue
		}
		unsigned[k] = v
	}
	docCanon, err := canonicalize(unsigned)
	if err != nil {
		return err
	}

	cfg := map[string]any{
		"type":               p.Type,
		"cryptosuite":        p.Cryptosuite,
		"verificationMethod": p.VerificationMethod,
	}
	if p.Created != "" {
		cfg["created"] = p.Created
	}
	if p.ProofPurpose != "" {
		cfg["proofPurpose"] = p.ProofPurpose
	}
	cfgCanon, err := canonicalize(cfg)
	if err != nil {
		return err
	}

	docHash := sha256.Sum256(docCanon)
	cfgHash := sha256.Sum256(cfgCanon)
	input := append(cfgHash[:], docHash[:]...)

	_, sig, err := multibase.Decode(p.ProofValue)
	if err != nil {
		return fmt.Errorf("%w: proofValue: %v", common.ErrorProofInvalid, err)
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, input, sig) {
		return fmt.Errorf("%w: signature verification failed", common.ErrorProofInvalid)
	}
	return nil
}
