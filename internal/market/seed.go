package market

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"offsetcore/internal/demand"
	"offsetcore/pkg/domain"
)

// SeedResult reports what the sample data loader created.
type SeedResult struct {
	ListingIDs []string `json:"listing_ids"`
	DemandIDs  []string `json:"demand_ids"`
}

// Seed loads a small deterministic sample market: three active listings in
// different authorities and two searching demand requests derived from
// surveys. It is intended for demos and local development.
func (s *Service) Seed(ctx context.Context) (SeedResult, error) {
	var result SeedResult
	now := s.clock()

	listings := []domain.SupplyListing{
		{
			LandownerID:    "lo-meadow",
			LandownerName:  "Meadow Trust",
			SiteName:       "Long Meadow",
			Postcode:       "OX2 6NN",
			LocalAuthority: "Oxfordshire County Council",
			Coordinates:    &domain.Coordinates{Latitude: 51.7520, Longitude: -1.2577},
			HabitatUnits: []domain.HabitatUnit{{
				HabitatType:           domain.HabitatGrasslandSpeciesRich,
				Condition:             domain.ConditionGood,
				AreaHectares:          decimal.NewFromInt(3),
				StrategicSignificance: domain.SignificanceHigh,
			}},
			TotalSiteAreaHa:        decimal.NewFromInt(3),
			DeliveryStartDate:      now,
			DeliveryCompletionDate: now.AddDate(0, 9, 0),
			MonitoringPeriodYears:  30,
			PricePerUnit:           decimal.NewFromInt(22000),
			PaymentTerms:           "staged",
			LandTenure:             "freehold",
		},
		{
			LandownerID:    "lo-carr",
			LandownerName:  "Fenland Estates",
			SiteName:       "Carr Wood",
			Postcode:       "CB6 1AB",
			LocalAuthority: "Cambridgeshire County Council",
			Coordinates:    &domain.Coordinates{Latitude: 52.3996, Longitude: 0.2617},
			HabitatUnits: []domain.HabitatUnit{{
				HabitatType:           domain.HabitatWoodlandBroadleaf,
				Condition:             domain.ConditionModerate,
				AreaHectares:          decimal.NewFromInt(4),
				StrategicSignificance: domain.SignificanceMedium,
			}},
			TotalSiteAreaHa:        decimal.NewFromInt(4),
			DeliveryStartDate:      now,
			DeliveryCompletionDate: now.AddDate(1, 0, 0),
			MonitoringPeriodYears:  30,
			PricePerUnit:           decimal.NewFromInt(18500),
			PaymentTerms:           "upfront",
			LandTenure:             "freehold",
		},
		{
			LandownerID:    "lo-heath",
			LandownerName:  "Heathside Farming",
			SiteName:       "Upper Heath",
			Postcode:       "GU26 6AA",
			LocalAuthority: "Surrey County Council",
			Coordinates:    &domain.Coordinates{Latitude: 51.1150, Longitude: -0.7430},
			HabitatUnits: []domain.HabitatUnit{{
				HabitatType:           domain.HabitatHeathlandLowland,
				Condition:             domain.ConditionPoor,
				AreaHectares:          decimal.NewFromInt(6),
				StrategicSignificance: domain.SignificanceVeryHigh,
			}},
			TotalSiteAreaHa:        decimal.NewFromInt(6),
			DeliveryStartDate:      now,
			DeliveryCompletionDate: now.AddDate(0, 6, 0),
			MonitoringPeriodYears:  30,
			PricePerUnit:           decimal.NewFromInt(15000),
			PaymentTerms:           "staged",
			LandTenure:             "leasehold",
		},
	}
	for i, listing := range listings {
		created, err := s.CreateListing(ctx, listing)
		if err != nil {
			return SeedResult{}, fmt.Errorf("seed listing %d: %w", i, err)
		}
		if _, err := s.PublishListing(ctx, created.ID); err != nil {
			return SeedResult{}, fmt.Errorf("seed publish %d: %w", i, err)
		}
		result.ListingIDs = append(result.ListingIDs, created.ID)
	}

	surveys := []struct {
		req   domain.DemandRequest
		input demand.SurveyInput
	}{
		{
			req: domain.DemandRequest{
				DeveloperID:       "dev-riverside",
				DeveloperName:     "Riverside Homes Ltd",
				ProjectName:       "Riverside Phase 2",
				Postcode:          "OX4 4GP",
				Coordinates:       &domain.Coordinates{Latitude: 51.7326, Longitude: -1.2160},
				PlanningReference: "24/01822/FUL",
				MaxDistanceKm:     75,
				MaxPricePerUnit:   decimal.NewFromInt(26000),
				RequiredByDate:    now.AddDate(1, 6, 0),
			},
			input: demand.SurveyInput{
				SiteReference:  "riverside-phase-2",
				Postcode:       "OX4 4GP",
				LocalAuthority: "Oxfordshire County Council",
				AssessmentDate: now,
				AssessorName:   "J. Whitfield",
				Parcels: []demand.SurveyParcel{
					{
						HabitatType:  domain.HabitatGrasslandSpeciesRich,
						Condition:    domain.ConditionModerate,
						AreaHectares: decimal.NewFromInt(2),
						Significance: domain.SignificanceLow,
					},
					{
						HabitatType:  domain.HabitatGrasslandModified,
						Condition:    domain.ConditionPoor,
						AreaHectares: decimal.NewFromInt(3),
						Significance: domain.SignificanceLow,
						Retained:     true,
					},
				},
			},
		},
		{
			req: domain.DemandRequest{
				DeveloperID:       "dev-fenedge",
				DeveloperName:     "Fen Edge Developments",
				ProjectName:       "Fen Edge Logistics Park",
				Postcode:          "CB7 4EX",
				Coordinates:       &domain.Coordinates{Latitude: 52.4190, Longitude: 0.2874},
				PlanningReference: "24/00974/OUT",
				MaxDistanceKm:     50,
				MaxPricePerUnit:   decimal.NewFromInt(21000),
				RequiredByDate:    now.AddDate(2, 0, 0),
			},
			input: demand.SurveyInput{
				SiteReference:  "fen-edge-logistics",
				Postcode:       "CB7 4EX",
				LocalAuthority: "Cambridgeshire County Council",
				AssessmentDate: now,
				AssessorName:   "M. Okafor",
				Parcels: []demand.SurveyParcel{
					{
						HabitatType:  domain.HabitatWoodlandBroadleaf,
						Condition:    domain.ConditionModerate,
						AreaHectares: decimal.NewFromInt(1),
						Significance: domain.SignificanceMedium,
					},
					{
						HabitatType:  domain.HabitatArable,
						Condition:    domain.ConditionNotApplicable,
						AreaHectares: decimal.NewFromInt(5),
						Significance: domain.SignificanceLow,
						Retained:     true,
					},
				},
			},
		},
	}
	for i, seed := range surveys {
		created, err := s.CreateDemandFromSurvey(ctx, seed.req, seed.input)
		if err != nil {
			return SeedResult{}, fmt.Errorf("seed demand %d: %w", i, err)
		}
		result.DemandIDs = append(result.DemandIDs, created.ID)
	}
	return result, nil
}
