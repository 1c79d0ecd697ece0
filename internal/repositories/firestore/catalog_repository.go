package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/bakejoy/api/internal/domain"
	pfirestore "github.com/bakejoy/api/internal/platform/firestore"
	"github.com/bakejoy/api/internal/repositories"
)

const (
	cakeCollection        = "cakes"
	sizeVariantCollection = "sizeVariants"
	partySupplyCollection = "partySupplies"
	addonCollection       = "addons"
)

// CatalogRepository reads the product snapshots the ordering flow needs. The
// catalog itself is maintained elsewhere; this repository never writes.
type CatalogRepository struct {
	cakes    *pfirestore.BaseRepository[cakeDocument]
	variants *pfirestore.BaseRepository[sizeVariantDocument]
	supplies *pfirestore.BaseRepository[partySupplyDocument]
	addons   *pfirestore.BaseRepository[addonDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		cakes:    pfirestore.NewBaseRepository[cakeDocument](provider, cakeCollection),
		variants: pfirestore.NewBaseRepository[sizeVariantDocument](provider, sizeVariantCollection),
		supplies: pfirestore.NewBaseRepository[partySupplyDocument](provider, partySupplyCollection),
		addons:   pfirestore.NewBaseRepository[addonDocument](provider, addonCollection),
	}, nil
}

// Cake loads the pricing snapshot of a cake.
func (r *CatalogRepository) Cake(ctx context.Context, cakeID string) (domain.CakeSnapshot, error) {
	if r == nil || r.cakes == nil {
		return domain.CakeSnapshot{}, errors.New("catalog repository not initialised")
	}
	cakeID = strings.TrimSpace(cakeID)
	if cakeID == "" {
		return domain.CakeSnapshot{}, errors.New("catalog repository: cake id is required")
	}

	doc, err := r.cakes.Get(ctx, cakeID)
	if err != nil {
		return domain.CakeSnapshot{}, err
	}
	return domain.CakeSnapshot{
		ID:        doc.ID,
		Name:      doc.Data.Name,
		BasePrice: doc.Data.BasePrice,
		PriceType: domain.PriceType(doc.Data.PriceType),
		SalePrice: doc.Data.SalePrice,
		Active:    doc.Data.Active,
	}, nil
}

// SizeVariant loads the pricing snapshot of a cake size variant.
func (r *CatalogRepository) SizeVariant(ctx context.Context, variantID string) (domain.SizeVariantSnapshot, error) {
	if r == nil || r.variants == nil {
		return domain.SizeVariantSnapshot{}, errors.New("catalog repository not initialised")
	}
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return domain.SizeVariantSnapshot{}, errors.New("catalog repository: variant id is required")
	}

	doc, err := r.variants.Get(ctx, variantID)
	if err != nil {
		return domain.SizeVariantSnapshot{}, err
	}
	return domain.SizeVariantSnapshot{
		ID:               doc.ID,
		CakeID:           doc.Data.CakeID,
		SizeName:         doc.Data.SizeName,
		EstimatedKg:      doc.Data.EstimatedKg,
		WeightOverrideKg: doc.Data.WeightOverrideKg,
		PriceModifier:    doc.Data.PriceModifier,
	}, nil
}

// PartySupply loads the flat-priced snapshot of a party supply.
func (r *CatalogRepository) PartySupply(ctx context.Context, supplyID string) (domain.PartySupplySnapshot, error) {
	if r == nil || r.supplies == nil {
		return domain.PartySupplySnapshot{}, errors.New("catalog repository not initialised")
	}
	supplyID = strings.TrimSpace(supplyID)
	if supplyID == "" {
		return domain.PartySupplySnapshot{}, errors.New("catalog repository: supply id is required")
	}

	doc, err := r.supplies.Get(ctx, supplyID)
	if err != nil {
		return domain.PartySupplySnapshot{}, err
	}
	return domain.PartySupplySnapshot{
		ID:     doc.ID,
		Name:   doc.Data.Name,
		Price:  doc.Data.Price,
		Active: doc.Data.Active,
	}, nil
}

// Addon loads the flat-priced snapshot of an addon.
func (r *CatalogRepository) Addon(ctx context.Context, addonID string) (domain.AddonSnapshot, error) {
	if r == nil || r.addons == nil {
		return domain.AddonSnapshot{}, errors.New("catalog repository not initialised")
	}
	addonID = strings.TrimSpace(addonID)
	if addonID == "" {
		return domain.AddonSnapshot{}, errors.New("catalog repository: addon id is required")
	}

	doc, err := r.addons.Get(ctx, addonID)
	if err != nil {
		return domain.AddonSnapshot{}, err
	}
	return domain.AddonSnapshot{
		ID:     doc.ID,
		Name:   doc.Data.Name,
		Price:  doc.Data.Price,
		Active: doc.Data.Active,
	}, nil
}

type cakeDocument struct {
	Name      string `firestore:"name"`
	BasePrice int64  `firestore:"basePrice"`
	PriceType string `firestore:"priceType"`
	SalePrice *int64 `firestore:"salePrice,omitempty"`
	Active    bool   `firestore:"active"`
}

type sizeVariantDocument struct {
	CakeID           string   `firestore:"cakeId"`
	SizeName         string   `firestore:"sizeName"`
	EstimatedKg      float64  `firestore:"estimatedKg"`
	WeightOverrideKg *float64 `firestore:"weightOverrideKg,omitempty"`
	PriceModifier    int64    `firestore:"priceModifier"`
}

type partySupplyDocument struct {
	Name   string `firestore:"name"`
	Price  int64  `firestore:"price"`
	Active bool   `firestore:"active"`
}

type addonDocument struct {
	Name   string `firestore:"name"`
	Price  int64  `firestore:"price"`
	Active bool   `firestore:"active"`
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
