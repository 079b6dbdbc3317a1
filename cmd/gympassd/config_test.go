package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gympass/pkg/membership"
)

const sampleConfig = `
server:
  addr: ":9090"
storage:
  driver: memory
log:
  format: console
facilities:
  - id: camden
    name: Camden
    latitude: 51.539
    longitude: -0.1426
    required_tier: standard
  - id: mayfair
    required_tier: Elite
    inactive: true
pricing:
  standard: "4.50"
  elite: 12
subscribers:
  - id: user1
    email: u1@example.com
    postcode: NW1 8AB
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gympass.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "X-Subscriber-ID", cfg.Server.SubscriberHeader)
	assert.Equal(t, membership.DefaultSweepInterval, cfg.Sweep.Interval)
	assert.Equal(t, time.Minute, cfg.Stripe.RateLimitWindow)
	assert.Equal(t, int32(4), cfg.Storage.LockConns)
	assert.Equal(t, 4, cfg.Dispatch.SpillLimit)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	t.Setenv("GYMPASS_SERVER_ADDR", ":7070")
	t.Setenv("GYMPASS_STRIPE_WEBHOOK_SECRET", "whsec_test")

	cfg, err := loadConfig(viper.New(), writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr, "env overrides file")
	assert.Equal(t, "whsec_test", cfg.Stripe.WebhookSecret)
	assert.Equal(t, "console", cfg.Log.Format)

	facilities := cfg.facilities()
	require.Len(t, facilities, 2)
	assert.Equal(t, membership.TierStandard, facilities[0].RequiredTier)
	require.NotNil(t, facilities[0].Location)
	assert.InDelta(t, 51.539, facilities[0].Location.Latitude, 1e-9)
	assert.Equal(t, membership.TierElite, facilities[1].RequiredTier)
	assert.Equal(t, membership.FacilityInactive, facilities[1].Status)
	assert.Nil(t, facilities[1].Location)

	rules := cfg.pricingRules()
	require.Len(t, rules, 2)
	for _, r := range rules {
		switch r.Tier {
		case membership.TierStandard:
			assert.Equal(t, "4.5", r.Cost.String())
		case membership.TierElite:
			assert.Equal(t, "12", r.Cost.String())
		default:
			t.Errorf("unexpected tier %s", r.Tier)
		}
	}
	require.Len(t, cfg.Subscribers, 1)
	assert.Equal(t, "NW1 8AB", cfg.Subscribers[0].Postcode)
}

func TestConfig_Validate(t *testing.T) {
	lat := 51.5
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"facility without id", func(c *Config) { c.Facilities = []FacilityConfig{{}} }},
		{"facility bad tier", func(c *Config) { c.Facilities = []FacilityConfig{{ID: "x", RequiredTier: "gold"}} }},
		{"facility half location", func(c *Config) { c.Facilities = []FacilityConfig{{ID: "x", Latitude: &lat}} }},
		{"pricing bad tier", func(c *Config) { c.Pricing = map[string]string{"gold": "1"} }},
		{"pricing bad cost", func(c *Config) { c.Pricing = map[string]string{"elite": "cheap"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(viper.New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
