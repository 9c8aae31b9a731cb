package registry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/server/store"
	"github.com/tyler-smith/go-bip39/wordlists"
)

const (
	minSegmentLen = 2
	maxSegmentLen = 63
)

// validatePath checks a caller-chosen mnemonic path. Each slash-separated
// segment must be 2-63 characters of lowercase letters, digits, or
// hyphens.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path cannot be empty", common.ErrorPathInvalid)
	}
	for _, seg := range strings.Split(path, "/") {
		if len(seg) < minSegmentLen || len(seg) > maxSegmentLen {
			return fmt.Errorf("%w: path segment %q must be %d-%d characters",
				common.ErrorPathInvalid, seg, minSegmentLen, maxSegmentLen)
		}
		for _, r := range seg {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
				return fmt.Errorf("%w: path segment %q contains invalid character %q",
					common.ErrorPathInvalid, seg, r)
			}
		}
	}
	return nil
}

var wordRand = struct {
	sync.Mutex
	*rand.Rand
}{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

// randomMnemonic draws two BIP-39 words and joins them with a hyphen,
// e.g. "famous-ostrich". Collisions are handled by the caller.
func randomMnemonic() string {
	words := wordlists.English
	wordRand.Lock()
	a, b := words[wordRand.Intn(len(words))], words[wordRand.Intn(len(words))]
	wordRand.Unlock()
	return a + "-" + b
}

// generateUniqueMnemonic retries random draws until one is free. The
// space is ~4M combinations, so hitting the attempt cap means the
// namespace is effectively full.
func generateUniqueMnemonic(ctx context.Context, s store.Store) (string, error) {
	for i := 0; i < 100; i++ {
		m := randomMnemonic()
		taken, err := s.Has(ctx, store.DidKey(m))
		if err != nil {
			return "", err
		}
		if !taken {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: could not find a free mnemonic", common.ErrorInternal)
}
