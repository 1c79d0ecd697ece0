package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bakejoy/api/internal/platform/config"
	"github.com/bakejoy/api/internal/repositories"
	"github.com/bakejoy/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart          services.CartService
	DesignUploads services.DesignUploadService
	Orders        services.OrderService
	Settlement    services.SettlementService
	Notifications services.NotificationService
	System        services.SystemService
}

// Gateways collects the external adapters the service graph depends on. The
// repositories registry covers persistence; everything else arrives here.
type Gateways struct {
	Payments     services.PaymentGateway
	SMS          services.SMSGateway
	Events       services.OrderEventPublisher
	Cache        services.ValueCache
	UploadSigner services.UploadURLSigner
	PathBuilder  services.ObjectPathBuilder
	Sanitizer    func(string) string
}

// ContainerDeps carries the cross-cutting inputs for container assembly.
type ContainerDeps struct {
	Registry repositories.Registry
	Gateways Gateways
	Build    services.BuildInfo
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and gateway adapters for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// gateways, while tests can supply in-memory registries and stubs.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services
	reg := deps.Registry

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Counters:         reg.Counters(),
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	if notificationsRepo := reg.Notifications(); notificationsRepo != nil && deps.Gateways.SMS != nil {
		notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
			Notifications: notificationsRepo,
			Templates:     reg.SMSTemplates(),
			Gateway:       deps.Gateways.SMS,
			Cache:         deps.Gateways.Cache,
			StoreName:     cfg.SMS.StoreName,
			Clock:         clock,
			Logger:        logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification service: %w", err)
		}
		svc.Notifications = notificationSvc
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		StatusLogs: reg.StatusLogs(),
		Notes:      reg.InternalNotes(),
		UnitOfWork: reg,
		Clock:      clock,
		Events:     deps.Gateways.Events,
		Notifier:   svc.Notifications,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	pricing, err := services.NewCakePricingEngine(services.CakePricingEngineDeps{
		Catalog: reg.Catalog(),
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Orders:     reg.Orders(),
		StatusLogs: reg.StatusLogs(),
		Counters:   reg.Counters(),
		Catalog:    reg.Catalog(),
		Pricing:    pricing,
		UnitOfWork: reg,
		Clock:      clock,
		Events:     deps.Gateways.Events,
		Notifier:   svc.Notifications,
		Sanitizer:  deps.Gateways.Sanitizer,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	if deps.Gateways.Payments != nil {
		settlementSvc, err := services.NewSettlementService(services.SettlementServiceDeps{
			Orders:       reg.Orders(),
			Transactions: reg.Transactions(),
			Gateway:      deps.Gateways.Payments,
			Lifecycle:    svc.Orders,
			Clock:        clock,
			Logger:       logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build settlement service: %w", err)
		}
		svc.Settlement = settlementSvc
	}

	if deps.Gateways.UploadSigner != nil && deps.Gateways.PathBuilder != nil {
		uploadSvc, err := services.NewDesignUploadService(services.DesignUploadServiceDeps{
			Signer:      deps.Gateways.UploadSigner,
			PathBuilder: deps.Gateways.PathBuilder,
			Clock:       clock,
			Logger:      logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build design upload service: %w", err)
		}
		svc.DesignUploads = uploadSvc
	}

	return svc, nil
}
