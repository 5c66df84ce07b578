package gateway

import (
	"errors"
	"strings"
	"testing"

	"github.com/licenseworks/ms-go-paygate/app/types"
)

func validRegistryConfig() Config {
	return Config{
		Enabled: []string{"payfast", "paddle", "nowpayments"},
		PayFast: PayFastConfig{
			MerchantID:  "10000100",
			MerchantKey: "46f0cd694581a",
			NotifyURL:   "https://pay.example.com/webhooks/payfast",
		},
		Paddle: PaddleConfig{
			APIKey:        "pdl_live_apikey",
			WebhookSecret: "pdl_ntfset_secret",
		},
		NOWPayments: NOWPaymentsConfig{
			APIKey:    "NOWAPIKEY",
			IPNSecret: "ipn-secret",
		},
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	registry, err := NewRegistryFromConfig(validRegistryConfig())
	if err != nil {
		t.Fatalf("NewRegistryFromConfig: %v", err)
	}

	names := registry.Names()
	if len(names) != 3 {
		t.Fatalf("expected 3 providers, got %v", names)
	}

	g, err := registry.Get(types.ProviderPayFast)
	if err != nil {
		t.Fatalf("Get payfast: %v", err)
	}
	if g.Name() != "payfast" {
		t.Fatalf("unexpected provider: %s", g.Name())
	}

	if _, err := registry.GetByName("paddle"); err != nil {
		t.Fatalf("GetByName paddle: %v", err)
	}
	if _, err := registry.Get(types.ProviderMock); !errors.Is(err, ErrProviderNotSupported) {
		t.Fatalf("expected ErrProviderNotSupported for mock, got %v", err)
	}
	if _, err := registry.GetByName("stripe"); !errors.Is(err, ErrProviderNotSupported) {
		t.Fatalf("expected ErrProviderNotSupported for stripe, got %v", err)
	}
}

func TestNewRegistryFromConfigUnknownProvider(t *testing.T) {
	cfg := validRegistryConfig()
	cfg.Enabled = append(cfg.Enabled, "worldpay")

	if _, err := NewRegistryFromConfig(cfg); err == nil || !strings.Contains(err.Error(), "worldpay") {
		t.Fatalf("expected error naming the unknown provider, got %v", err)
	}
}

func TestNewRegistryFromConfigMissingCredentials(t *testing.T) {
	cfg := validRegistryConfig()
	cfg.Paddle.WebhookSecret = ""

	if _, err := NewRegistryFromConfig(cfg); err == nil || !strings.Contains(err.Error(), "paddle") {
		t.Fatalf("expected error naming the misconfigured provider, got %v", err)
	}
}

func TestNewRegistryFromConfigMockRequiresSandbox(t *testing.T) {
	cfg := Config{Enabled: []string{"mock"}}
	if _, err := NewRegistryFromConfig(cfg); err == nil {
		t.Fatal("expected mock without sandbox mode to fail")
	}

	cfg.Sandbox = true
	registry, err := NewRegistryFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig: %v", err)
	}
	if _, err := registry.GetByName("mock"); err != nil {
		t.Fatalf("GetByName mock: %v", err)
	}
}

func TestNewRegistryFromConfigRequiresProviders(t *testing.T) {
	if _, err := NewRegistryFromConfig(Config{}); err == nil {
		t.Fatal("expected empty provider list to fail")
	}
}
