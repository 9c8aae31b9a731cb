package store

import (
	"context"
	"fmt"

	"github.com/affinidi/affinidi-webvh-service/internal/logging"
)

// Options selects and configures the active backend. Exactly one backend
// runs per process; the choice is made at startup, never per request.
type Options struct {
	Backend string // "memory", "bolt", "redis", "dynamodb", "postgres"

	Path string // bolt database file

	RedisURL string

	Dynamo DynamoOptions

	PostgresDSN string
}

// Open constructs the configured backend.
func Open(ctx context.Context, opts Options, log logging.Logger) (Store, error) {
	switch opts.Backend {
	case "memory":
		log.Warn(ctx, "using in-memory store, data is not persisted")
		return NewMemory(), nil
	case "bolt":
		log.Info(ctx, "opening bolt store", "path", opts.Path)
		return OpenBolt(opts.Path)
	case "redis":
		log.Info(ctx, "opening redis store")
		return OpenRedis(ctx, opts.RedisURL)
	case "dynamodb":
		log.Info(ctx, "opening dynamodb store", "table", opts.Dynamo.Table)
		return OpenDynamo(ctx, opts.Dynamo)
	case "postgres":
		log.Info(ctx, "opening postgres store")
		return OpenPostgres(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend: %q", opts.Backend)
	}
}
