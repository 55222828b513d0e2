package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/opengovern/componentci/pkg/koanf"
)

type GitConfig struct {
	Username string `json:"username,omitempty" koanf:"username"`
	Token    string `json:"token,omitempty" koanf:"token"`
	// RemoteName is the remote the clone is registered under.
	RemoteName  string `json:"remote_name,omitempty" koanf:"remote_name"`
	BotName     string `json:"bot_name,omitempty" koanf:"bot_name"`
	BotEmail    string `json:"bot_email,omitempty" koanf:"bot_email"`
	SignKeyPath string `json:"sign_key_path,omitempty" koanf:"sign_key_path"`
	SignKeyPass string `json:"sign_key_pass,omitempty" koanf:"sign_key_pass"`
}

type CoreConfig struct {
	Name      string `json:"name,omitempty" koanf:"name"`
	RemoteURL string `json:"remote_url,omitempty" koanf:"remote_url"`
}

type PipelineConfig struct {
	WorkDirBase    string        `json:"work_dir_base,omitempty" koanf:"work_dir_base"`
	InstallCommand string        `json:"install_command,omitempty" koanf:"install_command"`
	BuildCommand   string        `json:"build_command,omitempty" koanf:"build_command"`
	TestCommand    string        `json:"test_command,omitempty" koanf:"test_command"`
	StageTimeout   time.Duration `json:"stage_timeout,omitempty" koanf:"stage_timeout"`
	Engines        []string      `json:"engines,omitempty" koanf:"engines"`
	Core           CoreConfig    `json:"core,omitempty" koanf:"core"`
}

type DisplayConfig struct {
	Enabled    bool   `json:"enabled,omitempty" koanf:"enabled"`
	Binary     string `json:"binary,omitempty" koanf:"binary"`
	Number     int    `json:"number,omitempty" koanf:"number"`
	Resolution string `json:"resolution,omitempty" koanf:"resolution"`
}

type ReleaseConfig struct {
	Enabled bool   `json:"enabled,omitempty" koanf:"enabled"`
	Branch  string `json:"branch,omitempty" koanf:"branch"`
}

type CatalogConfig struct {
	Path string `json:"path,omitempty" koanf:"path"`
}

type WorkerConfig struct {
	ID         string           `json:"id,omitempty" koanf:"id"`
	Postgres   koanf.Postgres   `json:"postgres,omitempty" koanf:"postgres"`
	NATS       koanf.NATS       `json:"nats,omitempty" koanf:"nats"`
	Http       koanf.HttpServer `json:"http,omitempty" koanf:"http"`
	Prometheus koanf.Prometheus `json:"prometheus,omitempty" koanf:"prometheus"`
	Jaeger     koanf.Jaeger     `json:"jaeger,omitempty" koanf:"jaeger"`
	Git        GitConfig        `json:"git,omitempty" koanf:"git"`
	Pipeline   PipelineConfig   `json:"pipeline,omitempty" koanf:"pipeline"`
	Display    DisplayConfig    `json:"display,omitempty" koanf:"display"`
	Release    ReleaseConfig    `json:"release,omitempty" koanf:"release"`
	Catalog    CatalogConfig    `json:"catalog,omitempty" koanf:"catalog"`
}

func Default() WorkerConfig {
	return WorkerConfig{
		ID: "verifier-worker",
		Postgres: koanf.Postgres{
			Host:    "localhost",
			Port:    "5432",
			DB:      "verifier",
			SSLMode: "disable",
		},
		NATS: koanf.NATS{URL: "nats://localhost:4222"},
		Http: koanf.HttpServer{Address: "0.0.0.0:8000"},
		Jaeger: koanf.Jaeger{
			ServiceName: "verifier-worker",
		},
		Git: GitConfig{
			Username:   "x-access-token",
			RemoteName: "origin",
			BotName:    "verifier-bot",
			BotEmail:   "verifier-bot@users.noreply.github.com",
		},
		Pipeline: PipelineConfig{
			WorkDirBase:    filepath.Join(os.TempDir(), "verifier"),
			InstallCommand: "npm ci",
			BuildCommand:   "npm run build",
			TestCommand:    "npm test",
			StageTimeout:   30 * time.Minute,
			Engines:        []string{"chrome", "firefox"},
		},
		Display: DisplayConfig{
			Enabled:    true,
			Binary:     "Xvfb",
			Number:     99,
			Resolution: "1280x1024x24",
		},
		Release: ReleaseConfig{
			Branch: "release",
		},
		Catalog: CatalogConfig{
			Path: "/etc/verifier/components.yaml",
		},
	}
}
