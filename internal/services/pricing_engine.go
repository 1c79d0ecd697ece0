package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/bakejoy/api/internal/domain"
)

var (
	// ErrPricingInput signals bad pricing input such as a missing product
	// reference or a non-positive quantity.
	ErrPricingInput = errors.New("pricing: invalid input")
	// ErrPricingProduct indicates the referenced product is unknown or inactive.
	ErrPricingProduct = errors.New("pricing: product unavailable")
	// ErrPricingWeight indicates a weight-priced cake resolved to a
	// non-positive weight.
	ErrPricingWeight = errors.New("pricing: invalid weight")
	// ErrPricingOverflow indicates an amount exceeded the representable range.
	ErrPricingOverflow = errors.New("pricing: amount overflow")
)

// CakePricingEngineDeps bundles collaborators for the pricing engine.
type CakePricingEngineDeps struct {
	Catalog CatalogGateway
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

// CakePricingEngine computes unit and order totals from catalog snapshots.
// All amounts are toman.
type CakePricingEngine struct {
	catalog CatalogGateway
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCakePricingEngine wires dependencies into a concrete PricingEngine.
func NewCakePricingEngine(deps CakePricingEngineDeps) (*CakePricingEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing engine: catalog gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &CakePricingEngine{
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (e *CakePricingEngine) PriceItem(ctx context.Context, item OrderItem) (int64, error) {
	productID := strings.TrimSpace(item.Product.ID)
	if productID == "" {
		return 0, fmt.Errorf("%w: product id is required", ErrPricingInput)
	}

	switch item.Product.Kind {
	case domain.ProductKindCake:
		return e.priceCake(ctx, productID, item.SizeVariantID)
	case domain.ProductKindPartySupply:
		return e.pricePartySupply(ctx, productID)
	default:
		return 0, fmt.Errorf("%w: unknown product kind %q", ErrPricingInput, item.Product.Kind)
	}
}

func (e *CakePricingEngine) PriceOrder(ctx context.Context, order Order) (PricingBreakdown, error) {
	if len(order.Items) == 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: order has no items", ErrPricingInput)
	}

	breakdown := PricingBreakdown{Lines: make([]domain.LinePricing, 0, len(order.Items))}
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: item %s has non-positive quantity", ErrPricingInput, item.ID)
		}

		unitPrice, err := e.PriceItem(ctx, item)
		if err != nil {
			return PricingBreakdown{}, err
		}

		lineBase, err := mulAmount(unitPrice, int64(item.Quantity))
		if err != nil {
			return PricingBreakdown{}, err
		}

		addonTotal := int64(0)
		for _, addon := range item.Addons {
			if addon.Quantity <= 0 {
				return PricingBreakdown{}, fmt.Errorf("%w: addon %s has non-positive quantity", ErrPricingInput, addon.AddonID)
			}
			if addon.UnitPrice < 0 {
				return PricingBreakdown{}, fmt.Errorf("%w: addon %s has negative price", ErrPricingInput, addon.AddonID)
			}
			sub, err := mulAmount(addon.UnitPrice, int64(addon.Quantity))
			if err != nil {
				return PricingBreakdown{}, err
			}
			addonTotal, err = addAmount(addonTotal, sub)
			if err != nil {
				return PricingBreakdown{}, err
			}
		}

		lineTotal, err := addAmount(lineBase, addonTotal)
		if err != nil {
			return PricingBreakdown{}, err
		}

		breakdown.Lines = append(breakdown.Lines, domain.LinePricing{
			ItemID:     item.ID,
			UnitPrice:  unitPrice,
			AddonTotal: addonTotal,
			LineTotal:  lineTotal,
		})

		breakdown.Total, err = addAmount(breakdown.Total, lineTotal)
		if err != nil {
			return PricingBreakdown{}, err
		}
	}

	e.logger(ctx, "pricing.order.calculated", map[string]any{
		"order": order.ID,
		"lines": len(breakdown.Lines),
		"total": breakdown.Total,
	})
	return breakdown, nil
}

func (e *CakePricingEngine) priceCake(ctx context.Context, cakeID string, sizeVariantID *string) (int64, error) {
	cake, err := e.catalog.Cake(ctx, cakeID)
	if err != nil {
		return 0, fmt.Errorf("%w: cake %s: %v", ErrPricingProduct, cakeID, err)
	}
	if !cake.Active {
		return 0, fmt.Errorf("%w: cake %s is inactive", ErrPricingProduct, cakeID)
	}

	var variant *domain.SizeVariantSnapshot
	if sizeVariantID != nil && strings.TrimSpace(*sizeVariantID) != "" {
		v, err := e.catalog.SizeVariant(ctx, strings.TrimSpace(*sizeVariantID))
		if err != nil {
			return 0, fmt.Errorf("%w: size variant %s: %v", ErrPricingProduct, *sizeVariantID, err)
		}
		if v.CakeID != cake.ID {
			return 0, fmt.Errorf("%w: size variant %s does not belong to cake %s", ErrPricingInput, v.ID, cake.ID)
		}
		variant = &v
	}

	base := cake.BasePrice
	// A sale price only applies when it undercuts the base price.
	if cake.SalePrice != nil && *cake.SalePrice >= 0 && *cake.SalePrice < base {
		base = *cake.SalePrice
	}
	if base < 0 {
		return 0, fmt.Errorf("%w: cake %s has negative base price", ErrPricingInput, cake.ID)
	}

	var price int64
	switch cake.PriceType {
	case domain.PriceTypeFixed:
		price = base
	case domain.PriceTypePerKg:
		if variant == nil {
			return 0, fmt.Errorf("%w: weight-priced cake %s requires a size variant", ErrPricingInput, cake.ID)
		}
		weight := variant.EstimatedKg
		if variant.WeightOverrideKg != nil {
			weight = *variant.WeightOverrideKg
		}
		if weight <= 0 {
			return 0, fmt.Errorf("%w: cake %s variant %s resolved to %.3f kg", ErrPricingWeight, cake.ID, variant.ID, weight)
		}
		scaled := float64(base) * weight
		if scaled > float64(math.MaxInt64) {
			return 0, fmt.Errorf("%w: cake %s", ErrPricingOverflow, cake.ID)
		}
		price = int64(math.Round(scaled))
	default:
		return 0, fmt.Errorf("%w: cake %s has unknown price type %q", ErrPricingInput, cake.ID, cake.PriceType)
	}

	if variant != nil {
		price, err = addAmount(price, variant.PriceModifier)
		if err != nil {
			return 0, err
		}
	}
	if price < 0 {
		price = 0
	}
	return price, nil
}

func (e *CakePricingEngine) pricePartySupply(ctx context.Context, supplyID string) (int64, error) {
	supply, err := e.catalog.PartySupply(ctx, supplyID)
	if err != nil {
		return 0, fmt.Errorf("%w: party supply %s: %v", ErrPricingProduct, supplyID, err)
	}
	if !supply.Active {
		return 0, fmt.Errorf("%w: party supply %s is inactive", ErrPricingProduct, supplyID)
	}
	if supply.Price < 0 {
		return 0, fmt.Errorf("%w: party supply %s has negative price", ErrPricingInput, supplyID)
	}
	return supply.Price, nil
}

func addAmount(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%w: %d + %d", ErrPricingOverflow, a, b)
	}
	return sum, nil
}

func mulAmount(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a {
		return 0, fmt.Errorf("%w: %d * %d", ErrPricingOverflow, a, b)
	}
	return product, nil
}
