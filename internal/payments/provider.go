package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrGatewayDeclined is returned when the gateway answered but refused the
// operation. The raw response is preserved on the result.
var ErrGatewayDeclined = errors.New("payments: gateway declined")

// AuthorizeRequest opens a payment session with the gateway. Amount is rial.
type AuthorizeRequest struct {
	Amount      int64
	Description string
	CallbackURL string
	Email       string
	Mobile      string
}

// AuthorizeResult carries the gateway handle for a pending payment.
type AuthorizeResult struct {
	Authority  string
	PaymentURL string
	Raw        string
}

// VerifyRequest confirms a payment after the customer returns. Amount is rial.
type VerifyRequest struct {
	Amount    int64
	Authority string
}

// VerifyResult is the gateway verdict. Code carries the provider status code
// verbatim; callers decide which codes settle.
type VerifyResult struct {
	Code    int
	RefID   string
	CardPAN string
	Raw     string
}

// Provider defines the contract for payment gateway adapters.
type Provider interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)
	Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error)
}

// Manager coordinates provider selection over the registered adapters.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider selection.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap["zarinpal"]; ok {
		m.defaultProvider = "zarinpal"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Authorize delegates to the resolved provider.
func (m *Manager) Authorize(ctx context.Context, paymentCtx PaymentContext, req AuthorizeRequest) (AuthorizeResult, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return AuthorizeResult{}, err
	}
	return provider.Authorize(ctx, req)
}

// Verify delegates to the resolved provider.
func (m *Manager) Verify(ctx context.Context, paymentCtx PaymentContext, req VerifyRequest) (VerifyResult, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return VerifyResult{}, err
	}
	return provider.Verify(ctx, req)
}
