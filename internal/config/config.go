package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const backendRecordParts = 3

// Config holds everything the process reads from the environment.
//
// BACKENDS is a comma-separated list of `endpoint|model|weight` records,
// e.g. "http://10.0.0.5:8000/v1|llama-3.1-8b|3,https://api.openai.com/v1|gpt-4o-mini|1".
type Config struct {
	Backends         []string      `env:"BACKENDS,required,notEmpty" envSeparator:","`
	BackendAPIKey    string        `env:"BACKEND_API_KEY"`
	ListenAddr       string        `env:"LISTEN_ADDR"                envDefault:":8090"`
	DBPath           string        `env:"DB_PATH"                    envDefault:"db.sqlite"`
	CallTimeout      time.Duration `env:"CALL_TIMEOUT"               envDefault:"30s"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT"            envDefault:"45s"`
	FailureThreshold int           `env:"FAILURE_THRESHOLD"          envDefault:"3"`
	QueueSize        int           `env:"QUEUE_SIZE"                 envDefault:"256"`
	ProbeSpec        string        `env:"PROBE_SPEC"                 envDefault:"* * * * *"`
	SummaryTTL       time.Duration `env:"SUMMARY_TTL"                envDefault:"24h"`
}

// Backend is one parsed BACKENDS record.
type Backend struct {
	Endpoint string
	Model    string
	Weight   int
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}

// ParseBackends validates and decodes the raw BACKENDS records. The process
// must fail at startup rather than run with zero backends.
func (c Config) ParseBackends() ([]Backend, error) {
	backends := make([]Backend, 0, len(c.Backends))

	for _, raw := range c.Backends {
		record := strings.TrimSpace(raw)
		if record == "" {
			continue
		}

		parts := strings.Split(record, "|")
		if len(parts) != backendRecordParts {
			return nil, fmt.Errorf(
				"backend record %q must be endpoint|model|weight",
				record,
			)
		}

		endpoint := strings.TrimSpace(parts[0])
		model := strings.TrimSpace(parts[1])
		if endpoint == "" || model == "" {
			return nil, fmt.Errorf(
				"backend record %q has empty endpoint or model",
				record,
			)
		}

		weight, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf(
				"backend record %q has non-integer weight: %w",
				record, err,
			)
		}
		if weight < 1 {
			return nil, fmt.Errorf("backend record %q has weight < 1", record)
		}

		backends = append(backends, Backend{
			Endpoint: endpoint,
			Model:    model,
			Weight:   weight,
		})
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("BACKENDS contains no usable records")
	}

	return backends, nil
}
