package scoring

import (
	"math"

	"deepwork/models"
)

// Config holds the scoring tunables. Defaults match the product's
// published point economy.
type Config struct {
	PointsPerMinute       int
	CompletionBonus       int
	PenaltyPerDistraction int
	BoostedPenalty        int
}

// DefaultConfig returns the standard point economy
func DefaultConfig() Config {
	return Config{
		PointsPerMinute:       10,
		CompletionBonus:       50,
		PenaltyPerDistraction: 10,
		BoostedPenalty:        -10,
	}
}

// Input is the finalized session telemetry fed into scoring
type Input struct {
	DurationMinutes  int
	MentalState      models.MentalState
	DistractionCount int
	Boosted          bool
	Completed        bool
}

// profile is the per-mental-state multiplier and distraction shield
type profile struct {
	multiplier float64
	forgiven   int
}

// profiles keys on normalized mental state; unknown states have
// already collapsed to neutral by the time lookup happens.
var profiles = map[models.MentalState]profile{
	models.MentalStateFlow:    {multiplier: 1.5, forgiven: 0},
	models.MentalStateTired:   {multiplier: 0.6, forgiven: 0},
	models.MentalStateAnxious: {multiplier: 1.0, forgiven: 2},
	models.MentalStateNeutral: {multiplier: 1.0, forgiven: 0},
}

// Score converts finalized session telemetry into a signed point delta.
// It is total over its input domain: unknown mental states score as
// neutral, and no combination of inputs fails. The delta may be
// negative; the floor at zero applies to a user's cumulative total,
// never to the delta itself.
func Score(in Input, cfg Config) int {
	if in.Boosted {
		// Flat cost for skipping the rest of a session, regardless of
		// everything else the client reported.
		return cfg.BoostedPenalty
	}

	p := profiles[in.MentalState.Normalize()]

	effective := in.DistractionCount - p.forgiven
	if effective < 0 {
		effective = 0
	}

	base := float64(in.DurationMinutes * cfg.PointsPerMinute)
	if in.Completed {
		base += float64(cfg.CompletionBonus)
	}
	penalty := float64(effective*cfg.PenaltyPerDistraction) * p.multiplier

	return int(math.Round(base - penalty))
}
