package dockertest

import (
	"os"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opengovern/componentci/pkg/postgres"
)

// Host is where published container ports are reachable.
func Host() string {
	if h, ok := os.LookupEnv("DOCKERTEST_HOST"); ok {
		return h
	}
	return "localhost"
}

// StartupPostgreSQL runs a throwaway postgres container for the test and
// returns a gorm handle built by postgres.NewClient. The test is skipped when
// no docker daemon is reachable.
func StartupPostgreSQL(t *testing.T) *gorm.DB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not reachable: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "14",
		Env:        []string{"POSTGRES_USER=verifier", "POSTGRES_PASSWORD=verifier", "POSTGRES_DB=verifier"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() {
		require.NoError(t, pool.Purge(resource), "purge postgres")
	})
	// reaped by docker even when the test binary is killed
	require.NoError(t, resource.Expire(300))

	cfg := &postgres.Config{
		Host:            Host(),
		Port:            resource.GetPort("5432/tcp"),
		User:            "verifier",
		Passwd:          "verifier",
		DB:              "verifier",
		ConnectAttempts: 1,
	}
	var orm *gorm.DB
	err = pool.Retry(func() error {
		orm, err = postgres.NewClient(cfg, zap.NewNop())
		return err
	})
	require.NoError(t, err, "wait for postgres connection")

	return orm
}
