package match

import (
	"github.com/shopspring/decimal"

	"offsetcore/pkg/domain"
)

// Pricing suggestion actions.
const (
	ActionReducePrice   = "reduce_price"
	ActionMaintainPrice = "maintain_price"
)

// DefaultTargetScore is the match quality a listing should attract before
// its price is considered competitive.
const DefaultTargetScore = 0.7

// PriceSuggestion advises a supplier on repricing a listing based on the
// quality of the matches it currently attracts.
type PriceSuggestion struct {
	SupplyListingID string          `json:"supply_listing_id"`
	Action          string          `json:"action"`
	CurrentPrice    decimal.Decimal `json:"current_price_per_unit"`
	SuggestedPrice  decimal.Decimal `json:"suggested_price_per_unit"`
	AverageScore    float64         `json:"average_match_score"`
	MatchCount      int             `json:"match_count"`
	Reason          string          `json:"reason"`
}

// noMatchReduction applies when a listing attracts no matches at all.
var noMatchReduction = decimal.RequireFromString("0.10")

// maxScoreReduction caps the price cut driven by a weak average score.
const maxScoreReduction = 0.2

// SuggestPriceAdjustment recommends a price move for the listing. A listing
// with no matches gets a flat cut; one whose matches score below targetScore
// gets a cut proportional to the shortfall; otherwise the price holds.
func (e *Engine) SuggestPriceAdjustment(listingID string, targetScore float64) (PriceSuggestion, error) {
	if targetScore <= 0 {
		targetScore = DefaultTargetScore
	}
	listing, ok := e.store.GetListing(listingID)
	if !ok {
		return PriceSuggestion{}, domain.NotFoundError{Entity: domain.EntityListing, ID: listingID}
	}

	matches := e.MatchesForSupply(listingID)
	suggestion := PriceSuggestion{
		SupplyListingID: listingID,
		CurrentPrice:    listing.PricePerUnit,
		MatchCount:      len(matches),
	}

	if len(matches) == 0 {
		suggestion.Action = ActionReducePrice
		suggestion.SuggestedPrice = listing.PricePerUnit.Mul(decimal.NewFromInt(1).Sub(noMatchReduction)).Round(2)
		suggestion.Reason = "no matches found at the current price"
		return suggestion, nil
	}

	scoreSum := 0.0
	for _, m := range matches {
		scoreSum += m.OverallScore()
	}
	avg := scoreSum / float64(len(matches))
	suggestion.AverageScore = avg

	if avg < targetScore {
		reduction := ((targetScore - avg) / targetScore) * maxScoreReduction
		if reduction > maxScoreReduction {
			reduction = maxScoreReduction
		}
		factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(reduction))
		suggestion.Action = ActionReducePrice
		suggestion.SuggestedPrice = listing.PricePerUnit.Mul(factor).Round(2)
		suggestion.Reason = "average match score below target"
		return suggestion, nil
	}

	suggestion.Action = ActionMaintainPrice
	suggestion.SuggestedPrice = listing.PricePerUnit
	suggestion.Reason = "matches meet the target score"
	return suggestion, nil
}
