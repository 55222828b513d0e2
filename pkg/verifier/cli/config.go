package cli

import (
	"github.com/opengovern/componentci/pkg/koanf"
)

type Config struct {
	Postgres  koanf.Postgres `json:"postgres,omitempty" koanf:"postgres"`
	NATS      koanf.NATS     `json:"nats,omitempty" koanf:"nats"`
	WorkerURL string         `json:"worker_url,omitempty" koanf:"worker_url"`
}

func DefaultConfig() Config {
	return Config{
		Postgres: koanf.Postgres{
			Host:    "localhost",
			Port:    "5432",
			DB:      "verifier",
			SSLMode: "disable",
		},
		NATS:      koanf.NATS{URL: "nats://localhost:4222"},
		WorkerURL: "http://localhost:8000",
	}
}
