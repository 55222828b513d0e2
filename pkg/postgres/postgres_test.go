package postgres

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/koanf"
)

func TestConfigDefaults(t *testing.T) {
	cfg := FromKoanf(koanf.Postgres{Host: "localhost", Port: "5432", Username: "postgres", Password: "s3cr/t", DB: "verifier"})
	require.NoError(t, cfg.validate())

	c := cfg.withDefaults()
	assert.Equal(t, "disable", c.SSLMode)
	assert.Equal(t, 25, c.MaxOpenConns)
	assert.Equal(t, 10, c.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, c.ConnMaxLifetime)
	assert.Empty(t, cfg.SSLMode, "defaults must not leak into the caller's config")

	u, err := url.Parse(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "localhost:5432", u.Host)
	assert.Equal(t, "/verifier", u.Path)
	pass, _ := u.User.Password()
	assert.Equal(t, "s3cr/t", pass)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "UTC", u.Query().Get("TimeZone"))
}

func TestConfigValidateReportsEveryMissingField(t *testing.T) {
	err := (&Config{Port: "5432"}).validate()
	require.Error(t, err)
	for _, field := range []string{"host", "user", "password", "db"} {
		assert.ErrorContains(t, err, "postgres "+field+" is empty")
	}
	assert.NotContains(t, err.Error(), "port")
}

func TestNewClientRejectsNil(t *testing.T) {
	_, err := NewClient(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(&Config{}, nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{}, zap.NewNop())
	assert.Error(t, err)
}
