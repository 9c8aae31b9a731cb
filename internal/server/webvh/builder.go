package webvh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/multiformats/go-multibase"
)

// Signer holds an ed25519 update key and signs log entries with the
// eddsa-jcs-2022 cryptosuite.
type Signer struct {
	priv     ed25519.PrivateKey
	Multikey string
}

func NewSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: keygen: %v", common.ErrorInternal, err)
	}
	mk, err := EncodeMultikey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, Multikey: mk}, nil
}

// NewSignerFromSeed derives a deterministic signer from a 32-byte seed,
// so the same seed yields the same update key across restarts.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: signer seed must be %d bytes", common.ErrorValidation, ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	mk, err := EncodeMultikey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, Multikey: mk}, nil
}

func (s *Signer) verificationMethod() string {
	return "did:key:" + s.Multikey + "#" + s.Multikey
}

func (s *Signer) sign(doc map[string]any, created string) (map[string]any, error) {
	p := Proof{
		Type:               "DataIntegrityProof",
		Cryptosuite:        "eddsa-jcs-2022",
		Created:            created,
		VerificationMethod: s.verificationMethod(),
		ProofPurpose:       "assertionMethod",
	}

	docCanon, err := canonicalize(doc)
	if err != nil {
		return nil, err
	}
	cfgCanon, err := canonicalize(map[string]any{
		"type":               p.Type,
		"cryptosuite":        p.Cryptosuite,
		"created":            p.Created,
		"verificationMethod": p.VerificationMethod,
		"proofPurpose":       p.ProofPurpose,
	})
	if err != nil {
		return nil, err
	}
	docHash := sha256.Sum256(docCanon)
	cfgHash := sha256.Sum256(cfgCanon)
	sig := ed25519.Sign(s.priv, append(cfgHash[:], docHash[:]...))

	value, err := multibase.Encode(multibase.Base58BTC, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: proofValue: %v", common.ErrorInternal, err)
	}
	return map[string]any{
		"type":               p.Type,
		"cryptosuite":        p.Cryptosuite,
		"created":            p.Created,
		"verificationMethod": p.VerificationMethod,
		"proofPurpose":       p.ProofPurpose,
		"proofValue":         value,
	}, nil
}

// NewDocument builds a minimal DID document with the SCID placeholder in
// its id, ready to be sealed by CreateGenesis.
func NewDocument(host, mnemonic string) map[string]any {
	path := strings.ReplaceAll(mnemonic, "/", ":")
	return map[string]any{
		"@context": []any{"https://www.w3.org/ns/did/v1"},
		"id":       fmt.Sprintf("did:webvh:%s:%s:%s", scidPlaceholder, host, path),
	}
}

// CreateGenesis derives the SCID for a placeholder document and emits the
// signed first log entry.
func CreateGenesis(state map[string]any, signer *Signer, now time.Time) (*LogEntry, error) {
	prelim := map[string]any{
		"versionId":   scidPlaceholder,
		"versionTime": now.UTC().Format(time.RFC3339),
		"parameters": map[string]any{
			"method":     "did:webvh:1.0",
			"scid":       scidPlaceholder,
			"updateKeys": []any{signer.Multikey},
		},
		"state": state,
	}

	c, err := canonicalize(prelim)
	if err != nil {
		return nil, err
	}
	scid, err := multihashB58(c)
	if err != nil {
		return nil, err
	}

	sealed, err := json.Marshal(prelim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	sealed = bytes.ReplaceAll(sealed, []byte(scidPlaceholder), []byte(scid))
	var doc map[string]any
	if err := json.Unmarshal(sealed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	return sealEntry(doc, scid, 1, signer)
}

// Append extends a log with a new signed entry. The parameters are
// incremental; pass a zero Parameters value for "unchanged".
func Append(prev *LogEntry, state map[string]any, params Parameters, signer *Signer, now time.Time) (*LogEntry, error) {
	n, err := prev.versionNumber()
	if err != nil {
		return nil, err
	}

	rawParams, err := json.Marshal(&params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	var paramsDoc map[string]any
	if err := json.Unmarshal(rawParams, &paramsDoc); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	doc := map[string]any{
		"versionId":   prev.VersionID,
		"versionTime": now.UTC().Format(time.RFC3339),
		"parameters":  paramsDoc,
		"state":       state,
	}
	return sealEntry(doc, prev.VersionID, n+1, signer)
}

// sealEntry finalizes an unsigned entry: versionId from the hash chain,
// then the proof over the sealed content.
func sealEntry(doc map[string]any, prevVersion string, n int, signer *Signer) (*LogEntry, error) {
	hashInput := make(map[string]any, len(doc))
	for k, v := range doc {
		hashInput[k] = v
	}
	hashInput["versionId"] = prevVersion
	c, err := canonicalize(hashInput)
	if err != nil {
		return nil, err
	}
	hash, err := multihashB58(c)
	if err != nil {
		return nil, err
	}
	doc["versionId"] = fmt.Sprintf("%d-%s", n, hash)

	created, _ := doc["versionTime"].(string)
	proof, err := signer.sign(doc, created)
	if err != nil {
		return nil, err
	}
	doc["proof"] = []any{proof}

	line, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return parseLine(string(line))
}
