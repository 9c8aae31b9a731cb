package webvh

import "strings"

// Metadata summarizes a validated log for info responses. Parameters are
// incremental, so the summary folds over every entry to find the values
// in effect at the head.
type Metadata struct {
	LogEntryCount     int      `json:"logEntryCount"`
	LatestVersionID   string   `json:"latestVersionId"`
	LatestVersionTime string   `json:"latestVersionTime"`
	Method            string   `json:"method"`
	Portable          bool     `json:"portable"`
	PreRotation       bool     `json:"preRotation"`
	Witnesses         []string `json:"witnesses,omitempty"`
	WitnessCount      int      `json:"witnessCount"`
	WitnessThreshold  int      `json:"witnessThreshold"`
	Watchers          []string `json:"watchers,omitempty"`
	WatcherCount      int      `json:"watcherCount"`
	Deactivated       bool     `json:"deactivated"`
	TTL               *int64   `json:"ttl,omitempty"`
}

// ExtractMetadata builds the metadata summary for a parsed log. It
// assumes the log already passed ValidateChain.
func ExtractMetadata(entries []LogEntry) Metadata {
	m := Metadata{LogEntryCount: len(entries)}
	if len(entries) == 0 {
		return m
	}

	head := entries[len(entries)-1]
	m.LatestVersionID = head.VersionID
	m.LatestVersionTime = head.VersionTime

	for _, e := range entries {
		p := e.Params
		if p.Method != "" {
			m.Method = p.Method
		}
		if p.Portable {
			m.Portable = true
		}
		m.PreRotation = len(p.NextKeyHashes) > 0
		if p.Witness != nil {
			m.WitnessThreshold = p.Witness.Threshold
			m.Witnesses = m.Witnesses[:0]
			for _, w := range p.Witness.Witnesses {
				m.Witnesses = append(m.Witnesses, w.ID)
			}
		}
		if p.Watchers != nil {
			m.Watchers = p.Watchers
		}
		if p.Deactivated {
			m.Deactivated = true
		}
		if p.TTL != nil {
			m.TTL = p.TTL
		}
	}

	m.WitnessCount = len(m.Witnesses)
	m.WatcherCount = len(m.Watchers)

	// A document replaced by a tombstone also counts as deactivated.
	if v, ok := head.State["deactivated"].(bool); ok && v {
		m.Deactivated = true
	}
	return m
}

// DocumentID returns the DID declared by the head entry's document.
func DocumentID(entries []LogEntry) string {
	if len(entries) == 0 {
		return ""
	}
	id, _ := entries[len(entries)-1].State["id"].(string)
	if !strings.HasPrefix(id, "did:webvh:") {
		return ""
	}
	return id
}
