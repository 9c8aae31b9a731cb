package webvh

import (
	"fmt"
	"strings"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
)

// Validator checks whole did:webvh logs. It is stateless and safe for
// concurrent use.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateChain verifies a parsed log end to end: genesis SCID binding,
// version numbering and hash chaining, and proof authorization by the
// update keys in effect before each entry. Validation is fail-fast; the
// first broken entry decides the error. A log that validated once always
// validates again, entries are never re-interpreted.
func (v *Validator) ValidateChain(entries []LogEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: log has no entries", common.ErrorInvalidLog)
	}

	genesis := &entries[0]
	if err := v.validateGenesis(genesis); err != nil {
		return err
	}

	// Structure first, signatures second: a log that fails SCID or chain
	// checks reports invalid-log even if its proofs are also broken.
	prevVersion := genesis.Params.SCID
	for i := range entries {
		e := &entries[i]
		n, err := e.versionNumber()
		if err != nil {
			return err
		}
		if n != i+1 {
			return fmt.Errorf("%w: entry %d has versionId number %d", common.ErrorInvalidLog, i+1, n)
		}
		hash, err := entryHash(e, prevVersion)
		if err != nil {
			return err
		}
		if want := fmt.Sprintf("%d-%s", n, hash); e.VersionID != want {
			return fmt.Errorf("%w: entry %d hash does not match its content", common.ErrorInvalidLog, i+1)
		}
		prevVersion = e.VersionID
	}

	// Proofs are authorized by the update keys in effect before the entry
	// was appended; the genesis entry authorizes itself.
	authorized := genesis.Params.UpdateKeys
	deactivated := false
	for i := range entries {
		e := &entries[i]
		if deactivated {
			return fmt.Errorf("%w: entry %d follows a deactivation", common.ErrorInvalidLog, i+1)
		}
		if err := v.verifyEntryProofs(e, authorized, i+1); err != nil {
			return err
		}
		if e.Params.UpdateKeys != nil {
			authorized = e.Params.UpdateKeys
		}
		if e.Params.Deactivated {
			deactivated = true
		}
	}
	return nil
}

func (v *Validator) validateGenesis(genesis *LogEntry) error {
	if !strings.HasPrefix(genesis.Params.Method, "did:webvh:") {
		return fmt.Errorf("%w: genesis entry has no did:webvh method parameter", common.ErrorInvalidLog)
	}
	if len(genesis.Params.UpdateKeys) == 0 {
		return fmt.Errorf("%w: genesis entry has no updateKeys", common.ErrorInvalidLog)
	}
	if err := verifySCID(genesis); err != nil {
		return err
	}
	id, ok := genesis.State["id"].(string)
	if !ok || !strings.Contains(id, genesis.Params.SCID) {
		return fmt.Errorf("%w: document id is not bound to the scid", common.ErrorInvalidLog)
	}
	return nil
}

func (v *Validator) verifyEntryProofs(e *LogEntry, authorized []string, lineNo int) error {
	if len(e.Proofs) == 0 {
		return fmt.Errorf("%w: entry %d has no proof", common.ErrorProofInvalid, lineNo)
	}
	for _, p := range e.Proofs {
		key := keyFragment(p.VerificationMethod)
		if !containsKey(authorized, key) {
			return fmt.Errorf("%w: entry %d signed by unauthorized key", common.ErrorProofInvalid, lineNo)
		}
		if err := verifyProof(e.doc, p); err != nil {
			return fmt.Errorf("entry %d: %w", lineNo, err)
		}
	}
	return nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
