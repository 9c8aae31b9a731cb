package store

import "fmt"

// Logical key layout, backend-agnostic. The owner index is a derived
// secondary structure and is always written in the same batch as the
// primary record.

const (
	DidPrefix     = "did:"
	StatsPrefix   = "stats:"
	AclPrefix     = "acl:"
	SeriesRoot    = "ts:"
	SessionPrefix = "session:"
)

func DidKey(mnemonic string) string {
	return DidPrefix + mnemonic
}

func LogKey(mnemonic string) string {
	return "content:" + mnemonic + ":log"
}

func WitnessKey(mnemonic string) string {
	return "content:" + mnemonic + ":witness"
}

func OwnerKey(owner, mnemonic string) string {
	return "owner:" + owner + ":" + mnemonic
}

func OwnerPrefix(owner string) string {
	return "owner:" + owner + ":"
}

func StatsKey(mnemonic string) string {
	return StatsPrefix + mnemonic
}

func AclKey(did string) string {
	return AclPrefix + did
}

func SessionKey(id string) string {
	return SessionPrefix + id
}

// SeriesKey uses a zero-padded epoch so lexicographic key order matches
// chronological order under prefix scans.
func SeriesKey(mnemonic string, epoch int64) string {
	return fmt.Sprintf("ts:%s:%010d", mnemonic, epoch)
}

func SeriesPrefix(mnemonic string) string {
	return "ts:" + mnemonic + ":"
}
