package domain

// LinePricing stores the priced outcome of a single order item.
type LinePricing struct {
	ItemID     string
	UnitPrice  int64
	AddonTotal int64
	LineTotal  int64
}

// PricingBreakdown captures the aggregated monetary results of pricing an
// order's lines. Amounts are whole toman.
type PricingBreakdown struct {
	Lines []LinePricing
	Total int64
}
