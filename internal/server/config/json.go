package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/flagx"
	"github.com/affinidi/affinidi-webvh-service/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "15m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into
// the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	PublicURL                    string         `json:"public_url"`
	ServerDID                    string         `json:"server_did"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	StoreBackend                 string         `json:"store_backend"`
	StorePath                    string         `json:"store_path"`
	RedisURL                     string         `json:"redis_url"`
	DatabaseDSN                  string         `json:"database_dsn"`
	DynamoTable                  string         `json:"dynamo_table"`
	DynamoRegion                 string         `json:"dynamo_region"`
	DynamoEndpoint               string         `json:"dynamo_endpoint"`
	DynamoAccessKey              string         `json:"dynamo_access_key"`
	DynamoSecretKey              string         `json:"dynamo_secret_key"`
	DefaultMaxDidCount           int64          `json:"default_max_did_count"`
	DefaultMaxTotalSize          int64          `json:"default_max_total_size"`
	AdminDID                     string         `json:"admin_did"`
	PendingDidTTL                timex.Duration `json:"pending_did_ttl"`
	CleanupInterval              timex.Duration `json:"cleanup_interval"`
	StoreRetryAttempts           uint64         `json:"store_retry_attempts"`
	StoreRetryBase               timex.Duration `json:"store_retry_base"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; when
// neither is set, no JSON file is loaded. A file that cannot be read or
// parsed panics, a broken config is not worth starting with.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.PublicURL = c.PublicURL
	config.ServerDID = c.ServerDID
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.RefreshTokenValidityDuration = time.Duration(c.RefreshTokenValidityDuration.Duration)
	config.StoreBackend = c.StoreBackend
	config.StorePath = c.StorePath
	config.RedisURL = c.RedisURL
	config.DatabaseDSN = c.DatabaseDSN
	config.DynamoTable = c.DynamoTable
	config.DynamoRegion = c.DynamoRegion
	config.DynamoEndpoint = c.DynamoEndpoint
	config.DynamoAccessKey = c.DynamoAccessKey
	config.DynamoSecretKey = c.DynamoSecretKey
	config.DefaultMaxDidCount = c.DefaultMaxDidCount
	config.DefaultMaxTotalSize = c.DefaultMaxTotalSize
	config.AdminDID = c.AdminDID
	config.PendingDidTTL = time.Duration(c.PendingDidTTL.Duration)
	config.CleanupInterval = time.Duration(c.CleanupInterval.Duration)
	config.StoreRetryAttempts = c.StoreRetryAttempts
	config.StoreRetryBase = time.Duration(c.StoreRetryBase.Duration)
}
