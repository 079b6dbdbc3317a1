package membership

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Product metadata keys read by Resolve.
const (
	MetadataTier         = "tier"
	MetadataMonthlyLimit = "monthly_limit"
	MetadataGuestPasses  = "guest_passes"
)

// TierProfile is the tier-derived part of a subscription
type TierProfile struct {
	Tier             Tier
	MonthlyLimit     int
	GuestPassesLimit int
	Price            decimal.Decimal
	Currency         string
}

// ProductInfo is what the payment provider tells us about a subscribed price
type ProductInfo struct {
	Name     string
	Metadata map[string]string
	// UnitAmount is in the currency's minor unit (cents)
	UnitAmount int64
	Currency   string
}

type tierDefaults struct {
	monthlyLimit int
	guestPasses  int
}

// Per-tier quota defaults used when product metadata does not carry them:
//
//	standard:  8 visits, 0 guest passes
//	premium:  16 visits, 2 guest passes
//	elite:    30 visits, 5 guest passes
var defaultQuotas = map[Tier]tierDefaults{
	TierStandard: {monthlyLimit: 8, guestPasses: 0},
	TierPremium:  {monthlyLimit: 16, guestPasses: 2},
	TierElite:    {monthlyLimit: 30, guestPasses: 5},
}

// DefaultProfile returns the quota defaults for a tier, falling back to standard.
func DefaultProfile(t Tier) TierProfile {
	d, ok := defaultQuotas[t]
	if !ok {
		t = TierStandard
		d = defaultQuotas[TierStandard]
	}
	return TierProfile{
		Tier:             t,
		MonthlyLimit:     d.monthlyLimit,
		GuestPassesLimit: d.guestPasses,
		Price:            decimal.Zero,
	}
}

// Resolve maps product data to a tier profile. It never fails: unknown or
// malformed metadata falls back to name matching and then to tier defaults.
func Resolve(p ProductInfo) TierProfile {
	tier := resolveTier(p)
	profile := DefaultProfile(tier)

	if n, ok := nonNegativeInt(p.Metadata[MetadataMonthlyLimit]); ok {
		profile.MonthlyLimit = n
	}
	if n, ok := nonNegativeInt(p.Metadata[MetadataGuestPasses]); ok {
		profile.GuestPassesLimit = n
	}

	profile.Price = decimal.New(p.UnitAmount, -2)
	profile.Currency = strings.ToLower(p.Currency)
	return profile
}

func resolveTier(p ProductInfo) Tier {
	if t, ok := ParseTier(p.Metadata[MetadataTier]); ok {
		return t
	}

	name := strings.ToLower(p.Name)
	switch {
	case strings.Contains(name, string(TierElite)):
		return TierElite
	case strings.Contains(name, string(TierPremium)):
		return TierPremium
	default:
		return TierStandard
	}
}

func nonNegativeInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
