package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/licenseworks/ms-go-paygate/app/types"
)

type Registry struct {
	byCode map[types.ProviderCode]Gateway
	byName map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	byCode := make(map[types.ProviderCode]Gateway, len(gateways))
	byName := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		byCode[g.Code()] = g
		byName[g.Name()] = g
	}
	return &Registry{byCode: byCode, byName: byName}
}

func (r *Registry) Get(code types.ProviderCode) (Gateway, error) {
	g, ok := r.byCode[code]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return g, nil
}

func (r *Registry) GetByName(name string) (Gateway, error) {
	g, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return g, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config selects and credentials the providers for one deployment.
// NewRegistryFromConfig refuses to start on an unknown provider name or a
// provider whose credentials are incomplete; a half-configured gateway
// must never come up.
type Config struct {
	Enabled []string
	Sandbox bool

	PayFast     PayFastConfig
	Paddle      PaddleConfig
	NOWPayments NOWPaymentsConfig
	Mock        MockConfig
}

func NewRegistryFromConfig(cfg Config) (*Registry, error) {
	gateways := make([]Gateway, 0, len(cfg.Enabled))
	seen := make(map[string]bool, len(cfg.Enabled))

	for _, name := range cfg.Enabled {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "payfast":
			g, err := NewPayFast(cfg.PayFast)
			if err != nil {
				return nil, err
			}
			gateways = append(gateways, g)
		case "paddle":
			g, err := NewPaddle(cfg.Paddle)
			if err != nil {
				return nil, err
			}
			gateways = append(gateways, g)
		case "nowpayments":
			g, err := NewNOWPayments(cfg.NOWPayments)
			if err != nil {
				return nil, err
			}
			gateways = append(gateways, g)
		case "mock":
			if !cfg.Sandbox {
				return nil, fmt.Errorf("mock provider requires sandbox mode")
			}
			gateways = append(gateways, NewMock(cfg.Mock, nil))
		default:
			return nil, fmt.Errorf("unknown payment provider %q", name)
		}
	}

	if len(gateways) == 0 {
		return nil, fmt.Errorf("no payment providers enabled")
	}

	return NewRegistry(gateways...), nil
}
