package common

import "time"

// NowEpoch returns the current unix time in seconds. All persisted
// timestamps in the service use this resolution.
func NowEpoch() int64 {
	return time.Now().Unix()
}
