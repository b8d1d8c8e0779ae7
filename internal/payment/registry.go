package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedGateway возвращается, если шлюз с указанным именем не зарегистрирован.
var ErrUnsupportedGateway = errors.New("payment: unsupported gateway")

// Registry хранит шлюзы по системному имени. Заполняется один раз при запуске.
type Registry struct {
	gateways map[string]Gateway
}

// RegistryOption настраивает реестр.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	timeout time.Duration
}

// WithCallTimeout оборачивает каждый шлюз ограничением времени вызова.
func WithCallTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.timeout = d
	}
}

// NewRegistry создаёт реестр из переданных шлюзов.
func NewRegistry(gateways []Gateway, opts ...RegistryOption) (*Registry, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payment: at least one gateway is required")
	}

	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		if g == nil {
			return nil, errors.New("payment: nil gateway registration")
		}
		key := normalizeName(g.SystemName())
		if key == "" {
			return nil, fmt.Errorf("payment: invalid gateway system name %q", g.SystemName())
		}
		if _, dup := m[key]; dup {
			return nil, fmt.Errorf("payment: duplicate gateway %q", key)
		}
		if o.timeout > 0 {
			g = WithTimeout(g, o.timeout)
		}
		m[key] = g
	}

	return &Registry{gateways: m}, nil
}

// Gateway возвращает шлюз по системному имени.
func (r *Registry) Gateway(systemName string) (Gateway, error) {
	if r == nil {
		return nil, errors.New("payment: registry is nil")
	}
	g, ok := r.gateways[normalizeName(systemName)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, systemName)
	}
	return g, nil
}

// Capabilities возвращает возможности шлюза либо пустые возможности для неизвестного имени.
func (r *Registry) Capabilities(systemName string) Capabilities {
	g, err := r.Gateway(systemName)
	if err != nil {
		return Capabilities{}
	}
	return g.Capabilities()
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
