package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DEFAULT_COMMISSION_PERCENT")
	unsetEnvWithCleanup(t, "COMMISSION_BORNE_BY")
	unsetEnvWithCleanup(t, "SUPPORTED_CURRENCIES")
	unsetEnvWithCleanup(t, "SERVER_PORT")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DefaultCommissionPercent != 8.5 {
		t.Fatalf("expected default commission 8.5, got %v", cfg.DefaultCommissionPercent)
	}
	if cfg.CommissionBorneBy != "customer" {
		t.Fatalf("expected commission borne by customer, got %q", cfg.CommissionBorneBy)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	currencies := cfg.SupportedCurrencyList()
	if len(currencies) != 4 || currencies[0] != "USD" || currencies[3] != "MXN" {
		t.Fatalf("expected default currency list USD,EUR,ARS,MXN, got %v", currencies)
	}
}

func TestLoadConfig_UsesSettlementServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "SETTLEMENT_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "SETTLEMENT_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_RejectsCommissionOutsideBounds(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DEFAULT_COMMISSION_PERCENT", "80")

	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatal("expected commission above 50 to be rejected")
	}
}

func TestLoadConfig_RejectsUnknownCommissionPolicy(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "COMMISSION_BORNE_BY", "platform")

	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatal("expected unknown commission policy to be rejected")
	}
}

func TestSupportedCurrencyList_NormalizesInput(t *testing.T) {
	cfg := Config{SupportedCurrencies: " usd, mxn ,,EUR "}
	got := cfg.SupportedCurrencyList()
	if len(got) != 3 || got[0] != "USD" || got[1] != "MXN" || got[2] != "EUR" {
		t.Fatalf("expected [USD MXN EUR], got %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			os.Setenv(key, prev)
			return
		}
		os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if !hadPrev {
		return
	}
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		os.Setenv(key, prev)
	})
}
