package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("local defaults", func(t *testing.T) {
		for _, k := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME", "TEST_DB_SSL_MODE"} {
			t.Setenv(k, "")
		}
		cfg := DefaultTestDBConfig()
		assert.Equal(t, TestDBConfig{
			Host: "localhost", Port: "55432", User: "proofwork", Password: "proofwork", DBName: "proofwork", SSLMode: "disable",
		}, cfg)
	})

	t.Run("ci overrides", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")
		cfg := DefaultTestDBConfig()
		assert.Equal(t, "postgres", cfg.Host)
		assert.Equal(t, "5432", cfg.Port)
	})
}

func TestTestDBConfig_DSN(t *testing.T) {
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss", DBName: "proofwork", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/proofwork?sslmode=disable", cfg.DSN(""))
	assert.Equal(t, "postgres://u:p%40ss@db:5432/proofwork?search_path=t_abc%2Cpublic&sslmode=disable", cfg.DSN("t_abc"))
}

func TestEnvBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", " y "} {
		t.Setenv("PW_FLAG", v)
		assert.True(t, envBool("PW_FLAG"), v)
	}
	t.Setenv("PW_FLAG", "off")
	assert.False(t, envBool("PW_FLAG"))
}
