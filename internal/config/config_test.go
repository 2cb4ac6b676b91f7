package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Accounts.CreateAttempts)
	assert.Equal(t, 5*time.Second, cfg.Accounts.CreateRetryDelay)
	assert.Equal(t, 163, cfg.Plans.DefaultID)
	assert.Equal(t, 172, cfg.Plans.BondFeeID)
	id, ok := cfg.Plans.PlanID("1 Gbps")
	assert.True(t, ok)
	assert.Equal(t, 164, id)
	assert.Equal(t, "failed_orders.json", cfg.FailureFile)
}

func TestLoadPrecedence(t *testing.T) {
	yml := writeFile(t, "config.yaml", `
run_address: "127.0.0.1:7000"
accounts:
  base_url: https://pc.example.net
  create_attempts: 4
plans:
  mappings:
    - description: "500 Mbps"
      id: 170
  default_id: 150
`)
	dotenv := writeFile(t, ".env", "PC_API_KEY=from-dotenv\nSERVICE_PLAN_DEFAULT_ID=151\nEMAIL_RECIPIENTS=a@example.com, b@example.com\n")
	t.Setenv("SERVICE_PLAN_DEFAULT_ID", "152")

	cfg, err := Load(Options{ConfigFile: yml, EnvFile: dotenv})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.RunAddress)
	assert.Equal(t, 4, cfg.Accounts.CreateAttempts)
	assert.Equal(t, "from-dotenv", cfg.Accounts.APIKey)
	assert.Equal(t, 152, cfg.Plans.DefaultID)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Mail.Recipients)
	assert.Equal(t, "https://pc.example.net:444/api/1/index.php", cfg.Accounts.APIURL)

	id, ok := cfg.Plans.PlanID("500 Mbps")
	assert.True(t, ok)
	assert.Equal(t, 170, id)

	_, set := os.LookupEnv("PC_API_KEY")
	assert.False(t, set, "dotenv values must not leak into the process environment")
}

func TestLoadPlanEnvOverride(t *testing.T) {
	t.Setenv("SERVICE_PLAN_1GBPS_ID", "200")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	id, _ := cfg.Plans.PlanID("1 Gbps")
	assert.Equal(t, 200, id)
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("MAIL_PORT", "twenty-five")
	t.Setenv("PC_CREATE_RETRY_DELAY", "soon")

	_, err := Load(Options{})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "MAIL_PORT")
	assert.Contains(t, err.Error(), "PC_CREATE_RETRY_DELAY")
}

func TestValidateListsEveryMissingKey(t *testing.T) {
	cfg := Default()
	cfg.Accounts.APIKey = "k"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, key := range []string{"UTOPIA_API_KEY", "PC_URL", "MAIL_SERVER", "EMAIL_RECIPIENTS", "CUSTOMER_PORTAL_PASSWORD"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.NotContains(t, err.Error(), "PC_API_KEY")
}

func validConfig() *Config {
	cfg := Default()
	cfg.Accounts.APIKey = "k"
	cfg.Accounts.BaseURL = "https://pc.example.net"
	cfg.Accounts.PortalPassword = "pw"
	cfg.OrderSource.APIKey = "u"
	cfg.OrderSource.BaseURL = "https://utopia.example.net"
	cfg.Mail.Server = "smtp.example.net"
	cfg.Mail.Sender = "noreply@example.net"
	cfg.Mail.Recipients = []string{"ops@example.net"}
	return cfg
}

func TestHolderReload(t *testing.T) {
	first := validConfig()
	next := validConfig()
	next.Plans.DefaultID = 999

	calls := 0
	h := NewHolder(first, func() (*Config, error) {
		calls++
		if calls == 1 {
			return next, nil
		}
		broken := validConfig()
		broken.Mail.Server = ""
		return broken, nil
	})

	old := h.Current()
	got, err := h.Reload()
	require.NoError(t, err)
	assert.Same(t, next, got)
	assert.Same(t, next, h.Current())
	assert.Equal(t, 163, old.Plans.DefaultID, "earlier snapshot stays intact")

	_, err = h.Reload()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Same(t, next, h.Current())
}
