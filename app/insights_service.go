package app

import (
	"context"

	"deepwork/internal/errors"
	"deepwork/models"
	"deepwork/ports"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// InsightsService computes summary statistics over a user's finalized
// sessions and daily rollups. Everything here is advisory read-side
// reporting; the authoritative numbers live on the ledger rows.
type InsightsService struct {
	ledger ports.SessionLedger
}

// NewInsightsService creates an insights service
func NewInsightsService(ledger ports.SessionLedger) *InsightsService {
	return &InsightsService{ledger: ledger}
}

// insightsSampleLimit caps how much history one insights call scans
const insightsSampleLimit = 500

// FocusInsights summarizes a user's recent focus behavior
type FocusInsights struct {
	SessionCount        int     `json:"session_count"`
	CompletionRate      float64 `json:"completion_rate"`
	MeanMinutes         float64 `json:"mean_minutes"`
	MedianMinutes       float64 `json:"median_minutes"`
	P90Minutes          float64 `json:"p90_minutes"`
	DistractionsPerHour float64 `json:"distractions_per_hour"`
	// TrendSlope is the least-squares slope of daily focus minutes over
	// the trailing window: positive means the habit is growing
	TrendSlope float64 `json:"trend_slope"`
	TrendDays  int     `json:"trend_days"`
}

// Compute builds insights from the user's last sessions and a trailing
// window of daily aggregates
func (s *InsightsService) Compute(ctx context.Context, userID uuid.UUID, trendDays int) (*FocusInsights, error) {
	sessions, err := s.ledger.ListFinalized(ctx, userID, insightsSampleLimit)
	if err != nil {
		return nil, errors.StoreUnavailable("durable", err)
	}

	insights := &FocusInsights{SessionCount: len(sessions)}
	if len(sessions) > 0 {
		durations := make([]float64, 0, len(sessions))
		totalMinutes := 0
		totalDistractions := 0
		completed := 0
		for _, session := range sessions {
			durations = append(durations, float64(session.ActualMinutes))
			totalMinutes += session.ActualMinutes
			totalDistractions += session.DistractionCount
			if session.Status == models.SessionCompleted {
				completed++
			}
		}

		insights.CompletionRate = float64(completed) / float64(len(sessions))
		// stats errors only on empty input, which is excluded above
		insights.MeanMinutes, _ = stats.Mean(durations)
		insights.MedianMinutes, _ = stats.Median(durations)
		insights.P90Minutes, _ = stats.Percentile(durations, 90)
		if totalMinutes > 0 {
			insights.DistractionsPerHour = float64(totalDistractions) / (float64(totalMinutes) / 60.0)
		}
	}

	aggregates, err := s.ledger.ListDailyAggregates(ctx, userID, trendDays)
	if err != nil {
		return nil, errors.StoreUnavailable("durable", err)
	}
	insights.TrendDays = len(aggregates)
	if len(aggregates) >= 2 {
		xs := make([]float64, len(aggregates))
		ys := make([]float64, len(aggregates))
		for i, agg := range aggregates {
			xs[i] = float64(i)
			ys[i] = float64(agg.TotalFocusMinutes)
		}
		_, insights.TrendSlope = stat.LinearRegression(xs, ys, nil, false)
	}

	return insights, nil
}
