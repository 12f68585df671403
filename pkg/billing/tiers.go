package billing

// TierResolver maps billing price ids to service tiers and guards the
// checkout price allow-list.
type TierResolver struct {
	priceTiers    map[string]Tier
	allowedPrices map[string]bool
}

// NewTierResolver builds a resolver from the configured price→tier mapping
// and price allow-list. Unknown tier names degrade to free.
func NewTierResolver(priceTiers map[string]string, allowedPriceIDs []string) *TierResolver {
	tiers := make(map[string]Tier, len(priceTiers))
	for price, name := range priceTiers {
		tiers[price] = parseTier(name)
	}

	allowed := make(map[string]bool, len(allowedPriceIDs))
	for _, id := range allowedPriceIDs {
		allowed[id] = true
	}

	return &TierResolver{
		priceTiers:    tiers,
		allowedPrices: allowed,
	}
}

// TierForPrice returns the tier a price id grants. Total function: any
// unrecognized price id resolves to free.
func (r *TierResolver) TierForPrice(priceID string) Tier {
	if tier, ok := r.priceTiers[priceID]; ok {
		return tier
	}
	return TierFree
}

// PriceAllowed reports whether a price id may be used for checkout or
// reactivation
func (r *TierResolver) PriceAllowed(priceID string) bool {
	return r.allowedPrices[priceID]
}

func parseTier(name string) Tier {
	switch Tier(name) {
	case TierSilver, TierGold, TierEnterprise, TierDiamond:
		return Tier(name)
	default:
		return TierFree
	}
}
