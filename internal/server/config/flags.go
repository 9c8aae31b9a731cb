package config

import (
	"flag"
	"os"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   public base URL (e.g., "https://did.example.com")
//	-o string   server DID presented as message sender
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-b string   store backend ("memory", "bolt", "redis", "dynamodb", "postgres")
//	-f string   bolt database file
//	-e string   redis URL
//	-d string   PostgreSQL DSN
//	-m string   admin DID to seed into the ACL
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in minutes and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-o", "-s", "-t", "-r", "-b", "-f", "-e", "-d", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.PublicURL, "a", config.PublicURL, "public base URL")
	fs.StringVar(&config.ServerDID, "o", config.ServerDID, "server DID")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")

	fs.StringVar(&config.StoreBackend, "b", config.StoreBackend, "store backend")
	fs.StringVar(&config.StorePath, "f", config.StorePath, "bolt database file")
	fs.StringVar(&config.RedisURL, "e", config.RedisURL, "redis URL")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AdminDID, "m", config.AdminDID, "admin DID")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
}
