package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	Env = map[string]string{"MECA_ID_ALLOCATOR": "redis"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("MECA_ID_ALLOCATOR", "db")

	assert.Equal(t, "redis", GetEnv("MECA_ID_ALLOCATOR", "db"))
}

func TestGetEnvFallsBackToProcessEnvironment(t *testing.T) {
	Env = map[string]string{}
	t.Cleanup(func() { Env = nil })
	t.Setenv("APP_PORT", "4100")

	assert.Equal(t, "4100", GetEnv("APP_PORT", "4000"))
	assert.Equal(t, "fallback", GetEnv("UNSET_KEY_FOR_TEST", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	Env = map[string]string{"EXPIRY_SWEEP_INTERVAL_MINUTES": "15", "MEMBERSHIP_TERM_DAYS": "one year"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 15, GetEnvInt("EXPIRY_SWEEP_INTERVAL_MINUTES", 60))
	assert.Equal(t, 365, GetEnvInt("MEMBERSHIP_TERM_DAYS", 365))
	assert.Equal(t, 120, GetEnvInt("API_RATE_LIMIT_PER_MINUTE", 120))
}
