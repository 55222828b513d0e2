package koanf

import (
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Provide loads configuration for the named service. Values are layered:
// struct defaults, then the TOML file named by <NAME>_CONFIG, then environment
// variables of the form <NAME>_SECTION__KEY.
func Provide[T any](name string, def T) T {
	cfg, err := Load(name, def)
	if err != nil {
		log.Fatalf("load %s config: %s", name, err)
	}
	return cfg
}

func Load[T any](name string, def T) (T, error) {
	var cfg T

	k := koanf.New(".")
	if err := k.Load(structs.Provider(def, "koanf"), nil); err != nil {
		return cfg, err
	}

	prefix := EnvPrefix(name)
	if path := os.Getenv(prefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return cfg, err
		}
	}

	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return EnvKey(prefix, s)
	}), nil); err != nil {
		return cfg, err
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func EnvPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
}

// EnvKey maps VERIFIER_POSTGRES__SSL_MODE to postgres.ssl_mode.
func EnvKey(prefix, s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
}
