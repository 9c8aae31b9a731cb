// Package webvh implements parsing and cryptographic validation of
// did:webvh JSONL logs: SCID binding, version-hash chaining, and
// DataIntegrityProof verification against the update keys authorized by
// the preceding entry.
package webvh

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
)

// Proof is a Data Integrity proof attached to a log entry.
type Proof struct {
	Type               string `json:"type"`
	Cryptosuite        string `json:"cryptosuite"`
	Created            string `json:"created,omitempty"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose,omitempty"`
	ProofValue         string `json:"proofValue"`
}

// WitnessRef names one witness by DID.
type WitnessRef struct {
	ID string `json:"id"`
}

// WitnessParam is the witness configuration carried in entry parameters.
type WitnessParam struct {
	Threshold int          `json:"threshold"`
	Witnesses []WitnessRef `json:"witnesses"`
}

// Parameters are the did:webvh entry parameters. After the genesis entry
// they are incremental: a nil UpdateKeys means "unchanged".
type Parameters struct {
	Method        string        `json:"method,omitempty"`
	SCID          string        `json:"scid,omitempty"`
	UpdateKeys    []string      `json:"updateKeys,omitempty"`
	Portable      bool          `json:"portable,omitempty"`
	NextKeyHashes []string      `json:"nextKeyHashes,omitempty"`
	Witness       *WitnessParam `json:"witness,omitempty"`
	Watchers      []string      `json:"watchers,omitempty"`
	Deactivated   bool          `json:"deactivated,omitempty"`
	TTL           *int64        `json:"ttl,omitempty"`
}

// LogEntry is one line of a did:webvh log. Entries are immutable once
// appended; the raw line is preserved so serialization round-trips.
type LogEntry struct {
	VersionID   string
	VersionTime string
	Params      Parameters
	State       map[string]any
	Proofs      []Proof

	doc map[string]any // full entry as decoded JSON, used for hashing
	raw string
}

// Raw returns the original JSONL line for this entry.
func (e *LogEntry) Raw() string { return e.raw }

// versionNumber returns the integer prefix of versionId, or an error for
// a malformed versionId.
func (e *LogEntry) versionNumber() (int, error) {
	prefix, _, ok := strings.Cut(e.VersionID, "-")
	if !ok {
		return 0, fmt.Errorf("%w: versionId %q has no hash component", common.ErrorInvalidLog, e.VersionID)
	}
	var n int
	if _, err := fmt.Sscanf(prefix, "%d", &n); err != nil || fmt.Sprintf("%d", n) != prefix {
		return 0, fmt.Errorf("%w: versionId %q has no numeric prefix", common.ErrorInvalidLog, e.VersionID)
	}
	return n, nil
}

// lineEntry is the wire shadow used to detect missing required fields.
type lineEntry struct {
	VersionID   *string         `json:"versionId"`
	VersionTime *string         `json:"versionTime"`
	Parameters  *Parameters     `json:"parameters"`
	State       json.RawMessage `json:"state"`
	Proof       json.RawMessage `json:"proof"`
}

// Parse splits raw JSONL content into log entries. Blank lines are
// skipped. Any malformed line or missing required field fails the whole
// parse with common.ErrorInvalidLog.
func Parse(raw string) ([]LogEntry, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: log content cannot be empty", common.ErrorInvalidLog)
	}

	var entries []LogEntry
	for idx, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid log entry at line %d", common.ErrorInvalidLog, idx+1)
		}
		entries = append(entries, *entry)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: log content cannot be empty", common.ErrorInvalidLog)
	}
	return entries, nil
}

func parseLine(line string) (*LogEntry, error) {
	var shadow lineEntry
	if err := json.Unmarshal([]byte(line), &shadow); err != nil {
		return nil, err
	}
	if shadow.VersionID == nil || shadow.VersionTime == nil || shadow.Parameters == nil ||
		shadow.State == nil || shadow.Proof == nil {
		return nil, fmt.Errorf("missing required field")
	}

	var state map[string]any
	if err := json.Unmarshal(shadow.State, &state); err != nil {
		return nil, err
	}

	proofs, err := parseProofs(shadow.Proof)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		return nil, err
	}

	return &LogEntry{
		VersionID:   *shadow.VersionID,
		VersionTime: *shadow.VersionTime,
		Params:      *shadow.Parameters,
		State:       state,
		Proofs:      proofs,
		doc:         doc,
		raw:         line,
	}, nil
}

// parseProofs accepts both a single proof object and an array of proofs.
func parseProofs(raw json.RawMessage) ([]Proof, error) {
	var list []Proof
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var one Proof
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []Proof{one}, nil
}

// Serialize joins entries back into JSONL content. Serialize is the exact
// inverse of Parse for any entry sequence Parse accepted.
func Serialize(entries []LogEntry) string {
	lines := make([]string, len(entries))
	for i := range entries {
		lines[i] = entries[i].raw
	}
	return strings.Join(lines, "\n")
}
