package model

import (
	"strings"

	"marketplace-billing/internal/domain"
)

// PlanFamily splits the catalog into provider (listing owners) and customer plans.
type PlanFamily string

const (
	FamilyProvider PlanFamily = "PROVIDER"
	FamilyUser     PlanFamily = "USER"
)

func ParsePlanFamily(s string) (PlanFamily, error) {
	switch PlanFamily(strings.ToUpper(strings.TrimSpace(s))) {
	case FamilyProvider:
		return FamilyProvider, nil
	case FamilyUser:
		return FamilyUser, nil
	default:
		return "", domain.ErrUnknownFamily
	}
}

type PlanID string

const (
	PlanProviderBasic    PlanID = "provider_basic"
	PlanProviderSilver   PlanID = "provider_silver"
	PlanProviderGold     PlanID = "provider_gold"
	PlanProviderPlatinum PlanID = "provider_platinum"

	PlanUserFree    PlanID = "user_free"
	PlanUserPremium PlanID = "user_premium"
	PlanUserVIP     PlanID = "user_vip"
)

// DefaultCurrency is the only currency the catalog is priced in.
const DefaultCurrency = "EGP"

// providerPeriodMonths is the fixed billing period of every paid provider plan.
const providerPeriodMonths = 12

// Features is the full entitlement bundle of a plan. Values only ever come
// from the catalog; nothing else sets them.
type Features struct {
	// provider
	MaxListings        int  `json:"max_listings"`
	FeaturedListings   int  `json:"featured_listings"`
	PhotosPerListing   int  `json:"photos_per_listing"`
	VerifiedBadge      bool `json:"verified_badge"`
	AnalyticsDashboard bool `json:"analytics_dashboard"`
	PrioritySupport    bool `json:"priority_support"`
	TopOfSearch        bool `json:"top_of_search"`

	// customer
	SavedSearches   int  `json:"saved_searches"`
	AdFree          bool `json:"ad_free"`
	DirectMessaging bool `json:"direct_messaging"`
	EarlyAccess     bool `json:"early_access"`
}

// PriceTier is one purchasable duration of a plan. Amounts are minor units.
type PriceTier struct {
	Months int   `json:"months"`
	Price  int64 `json:"price"`
}

// Plan is one immutable catalog entry.
type Plan struct {
	ID       PlanID      `json:"id"`
	Family   PlanFamily  `json:"family"`
	Name     string      `json:"name"`
	Rank     int         `json:"rank"`
	Currency string      `json:"currency"`
	Features Features    `json:"features"`
	Tiers    []PriceTier `json:"tiers"`
}

func (p Plan) IsFree() bool { return len(p.Tiers) == 0 }

// CanonicalPrice is the price of the shortest tier (the annual price for providers).
func (p Plan) CanonicalPrice() int64 {
	if p.IsFree() {
		return 0
	}
	return p.Tiers[0].Price
}

// AcceptsAmount reports whether amount is one of the plan's list prices.
func (p Plan) AcceptsAmount(amount int64) bool {
	for _, t := range p.Tiers {
		if t.Price == amount {
			return true
		}
	}
	return false
}

// PeriodMonths derives the subscription length bought with amount: the longest
// tier whose price does not exceed it, never less than the shortest tier.
func (p Plan) PeriodMonths(amount int64) int {
	if p.IsFree() {
		return 0
	}
	months := p.Tiers[0].Months
	for _, t := range p.Tiers {
		if t.Price <= amount && t.Months > months {
			months = t.Months
		}
	}
	return months
}

// LookupPlan resolves id inside family. Unknown ids, and ids of the other
// family, are errors.
func LookupPlan(family PlanFamily, id PlanID) (Plan, error) {
	p, err := planByID(id)
	if err != nil {
		return Plan{}, err
	}
	if p.Family != family {
		return Plan{}, domain.ErrUnknownPlan
	}
	return p, nil
}

// FreePlan returns the free tier of family.
func FreePlan(family PlanFamily) (Plan, error) {
	switch family {
	case FamilyProvider:
		return planByID(PlanProviderBasic)
	case FamilyUser:
		return planByID(PlanUserFree)
	default:
		return Plan{}, domain.ErrUnknownFamily
	}
}

// Plans lists the whole catalog in display order.
func Plans() []Plan {
	ids := []PlanID{
		PlanProviderBasic, PlanProviderSilver, PlanProviderGold, PlanProviderPlatinum,
		PlanUserFree, PlanUserPremium, PlanUserVIP,
	}
	out := make([]Plan, 0, len(ids))
	for _, id := range ids {
		p, _ := planByID(id)
		out = append(out, p)
	}
	return out
}

// planByID is the single source of truth for plan contents. Every call
// returns fresh values so callers cannot mutate the catalog.
func planByID(id PlanID) (Plan, error) {
	switch id {
	case PlanProviderBasic:
		return Plan{
			ID: id, Family: FamilyProvider, Name: "Basic", Rank: 0, Currency: DefaultCurrency,
			Features: Features{MaxListings: 1, PhotosPerListing: 5},
		}, nil
	case PlanProviderSilver:
		return Plan{
			ID: id, Family: FamilyProvider, Name: "Silver", Rank: 1, Currency: DefaultCurrency,
			Features: Features{MaxListings: 5, FeaturedListings: 1, PhotosPerListing: 15, VerifiedBadge: true},
			Tiers:    []PriceTier{{Months: providerPeriodMonths, Price: 12000}},
		}, nil
	case PlanProviderGold:
		return Plan{
			ID: id, Family: FamilyProvider, Name: "Gold", Rank: 2, Currency: DefaultCurrency,
			Features: Features{
				MaxListings: 20, FeaturedListings: 5, PhotosPerListing: 30,
				VerifiedBadge: true, AnalyticsDashboard: true,
			},
			Tiers: []PriceTier{{Months: providerPeriodMonths, Price: 30000}},
		}, nil
	case PlanProviderPlatinum:
		return Plan{
			ID: id, Family: FamilyProvider, Name: "Platinum", Rank: 3, Currency: DefaultCurrency,
			Features: Features{
				MaxListings: 100, FeaturedListings: 20, PhotosPerListing: 50,
				VerifiedBadge: true, AnalyticsDashboard: true, PrioritySupport: true, TopOfSearch: true,
			},
			Tiers: []PriceTier{{Months: providerPeriodMonths, Price: 60000}},
		}, nil
	case PlanUserFree:
		return Plan{
			ID: id, Family: FamilyUser, Name: "Free", Rank: 0, Currency: DefaultCurrency,
			Features: Features{SavedSearches: 3},
		}, nil
	case PlanUserPremium:
		return Plan{
			ID: id, Family: FamilyUser, Name: "Premium", Rank: 1, Currency: DefaultCurrency,
			Features: Features{SavedSearches: 25, AdFree: true, DirectMessaging: true},
			Tiers: []PriceTier{
				{Months: 1, Price: 1000},
				{Months: 3, Price: 2700},
				{Months: 6, Price: 5000},
				{Months: 12, Price: 9000},
			},
		}, nil
	case PlanUserVIP:
		return Plan{
			ID: id, Family: FamilyUser, Name: "VIP", Rank: 2, Currency: DefaultCurrency,
			Features: Features{SavedSearches: 100, AdFree: true, DirectMessaging: true, EarlyAccess: true},
			Tiers: []PriceTier{
				{Months: 1, Price: 2500},
				{Months: 3, Price: 6900},
				{Months: 6, Price: 12900},
				{Months: 12, Price: 24000},
			},
		}, nil
	default:
		return Plan{}, domain.ErrUnknownPlan
	}
}
