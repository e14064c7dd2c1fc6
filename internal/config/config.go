// Package config reads and validates the single JSON configuration file
// every process role (api, race-worker, projection-worker, and the
// housekeeping scheduler) is started with.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/bmxtiming/p3server/pkg/plog"
)

// ProgramConfig is the decoded shape of the configuration file. Every field
// has a sensible default below so a deployment can start from an empty or
// partial file.
type ProgramConfig struct {
	// Address the HTTP API (ingest endpoint, dashboard socket, healthz,
	// metrics) listens on.
	HTTPAddr string `json:"http-addr"`

	// NATS server URL the race worker, projection worker, and API all
	// connect to for JetStream.
	NatsURL string `json:"nats-url"`

	// Optional path to a NATS credentials file for authenticated deployments.
	NatsCredsFile string `json:"nats-creds-file"`

	// sqlite3 database file backing the decoder-status projection and its
	// dedupe ledger.
	DB string `json:"db"`

	// Accepted in the config file and defaulted to true, but no code reads
	// it: /ingest/batch payloads are not checked against a JSON schema,
	// only by the API's own field validation.
	Validate bool `json:"validate"`

	// Token-bucket rate limit applied per track_id to /ingest/batch.
	IngestRateLimitPerSecond float64 `json:"ingest-rate-limit-per-second"`
	IngestRateLimitBurst     int     `json:"ingest-rate-limit-burst"`

	// Drop root permissions once .env was read and the port was taken.
	User  string `json:"user"`
	Group string `json:"group"`

	// How long a projection_dedupe row is kept before housekeeping prunes
	// it, and how long a decoder_status row may go unseen before it is
	// considered stale, both parsed with time.ParseDuration.
	DedupeRetention      string `json:"dedupe-retention"`
	StaleDecoderInterval string `json:"stale-decoder-interval"`
}

// Keys holds the validated configuration, set once by Init.
var Keys = ProgramConfig{
	HTTPAddr:                 ":8080",
	NatsURL:                  "nats://127.0.0.1:4222",
	DB:                       "./var/p3.db",
	Validate:                 true,
	IngestRateLimitPerSecond: 200,
	IngestRateLimitBurst:     400,
	DedupeRetention:          "720h",
	StaleDecoderInterval:     "5m",
}

// Init reads flagConfigFile, validates it against the embedded JSON schema,
// and decodes it over the defaults in Keys. A missing file is not an error:
// the defaults above are used as-is.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			plog.Fatalf("config: read %s: %v", flagConfigFile, err)
		}
		return
	}

	if err := Validate(bytes.NewReader(raw)); err != nil {
		plog.Fatalf("config: validate %s: %v", flagConfigFile, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		plog.Fatalf("config: decode %s: %v", flagConfigFile, err)
	}
}
