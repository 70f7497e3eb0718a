// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "vacbot", cfg.Logger().ServiceName)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, 180*time.Second, cfg.Browser().DefaultTimeout)
	assert.Equal(t, "[formcontrolname='otp']", cfg.Site().Selectors.OTP)
	assert.Equal(t, "vacbot-captcha-text", cfg.Site().ChallengeInputID)
	assert.Equal(t, 6, cfg.Site().OTPLength)
	assert.Equal(t, 5, cfg.Site().ChallengeLength)
	assert.Equal(t, "direct", cfg.API().Transport)
	assert.Equal(t, 294, cfg.Poller().DistrictID)
	assert.Equal(t, 2*time.Second, cfg.Poller().Interval)
	assert.Equal(t, []int{1, 7}, cfg.Poller().WindowOffsetsDays)
	assert.Equal(t, 45, cfg.Poller().MaxAgeLimitExclusive)
	assert.Equal(t, 1, cfg.Booking().Dose)
	assert.Equal(t, 1, cfg.Booking().SlotIndex)
	assert.Zero(t, cfg.Controller().MaxRestarts)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		noTimeout := *cfg
		noTimeout.BrowserCfg.DefaultTimeout = 0
		err := noTimeout.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.default_timeout must be a positive duration")

		noSite := *cfg
		noSite.SiteCfg.URL = ""
		err = noSite.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "site.url is a required configuration field")

		negativeRestarts := *cfg
		negativeRestarts.ControllerCfg.MaxRestarts = -1
		err = negativeRestarts.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "controller.max_restarts must not be negative")

		badIndex := *cfg
		badIndex.BookingCfg.SlotIndex = -2
		err = badIndex.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "booking.slot_index must not be negative")
	})

	t.Run("API Validation", func(t *testing.T) {
		valid := APIConfig{BaseURL: "https://example.test/api", Transport: "page", RequestsPerSecond: 2}
		assert.NoError(t, valid.Validate())

		badTransport := valid
		badTransport.Transport = "carrier-pigeon"
		err := badTransport.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport must be one of")

		noRate := valid
		noRate.RequestsPerSecond = 0
		err = noRate.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requests_per_second must be greater than 0")
	})

	t.Run("Poller Validation", func(t *testing.T) {
		valid := PollerConfig{DistrictID: 294, Interval: 2 * time.Second, WindowOffsetsDays: []int{1, 7}, MaxAgeLimitExclusive: 45}
		assert.NoError(t, valid.Validate())

		noWindows := valid
		noWindows.WindowOffsetsDays = nil
		err := noWindows.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "window_offsets_days must list at least one offset")

		noInterval := valid
		noInterval.Interval = 0
		err = noInterval.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "interval must be a positive duration")
	})

	t.Run("Telegram Validation", func(t *testing.T) {
		valid := TelegramConfig{Enabled: true, Token: "123:abc", ChatID: 42}
		assert.NoError(t, valid.Validate())

		disabled := TelegramConfig{}
		assert.NoError(t, disabled.Validate(), "disabled telegram config should always be valid")

		missingToken := valid
		missingToken.Token = ""
		err := missingToken.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "telegram token is required but not found")

		missingChat := valid
		missingChat.ChatID = 0
		err = missingChat.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chat_id is required")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: true
  default_timeout: 90s
poller:
  district_id: 363
  window_offsets_days: [0, 3]
booking:
  slot_index: 0
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.True(t, cfg.Browser().Headless)
		assert.Equal(t, 90*time.Second, cfg.Browser().DefaultTimeout)
		assert.Equal(t, 363, cfg.Poller().DistrictID)
		assert.Equal(t, []int{0, 3}, cfg.Poller().WindowOffsetsDays)
		assert.Equal(t, 0, cfg.Booking().SlotIndex)
		// Defaults survive alongside file values.
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("poller.district_id", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "district_id must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("notify.telegram.enabled", true)

		t.Setenv("VACBOT_TELEGRAM_TOKEN", "987:env-token")
		t.Setenv("VACBOT_TELEGRAM_CHAT_ID", "1001")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "987:env-token", cfg.Notify().Telegram.Token)
		assert.Equal(t, int64(1001), cfg.Notify().Telegram.ChatID)
	})
}

func TestRunConfigSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetRunConfig(RunConfig{PhoneNumber: "9999999999"})
	cfg.SetBrowserHeadless(true)
	cfg.SetBrowserDefaultTimeout(time.Minute)
	cfg.SetPollerDistrictID(5)

	assert.Equal(t, "9999999999", cfg.Run().PhoneNumber)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, time.Minute, cfg.Browser().DefaultTimeout)
	assert.Equal(t, 5, cfg.Poller().DistrictID)
}
