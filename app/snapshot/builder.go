package snapshot

import (
	"sort"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/scoring"
)

// Policy holds the named aggregation constants. Callers may override
// individual fields before building.
type Policy struct {
	CompositeWeights       map[scoring.Axis]float64
	AutonomyMinSignals     int     // 7-day signal floor for a confident level
	AutonomyUncertaintyCap float64 // combined uncertainty gate
}

func DefaultPolicy() Policy {
	return Policy{
		CompositeWeights:       scoring.CompositeWeights,
		AutonomyMinSignals:     5,
		AutonomyUncertaintyCap: 0.4,
	}
}

// Inputs is everything the builder needs for one date. Signals must be
// ordered by id; the builder folds them in slice order so recomputing the
// same inputs is bit-identical.
type Inputs struct {
	Date     string
	Signals  []database.Signal
	Prior    *database.DailySnapshot // previous day, for per-axis deltas
	WeekAgo  *database.DailySnapshot // seven days back, for the composite trend
	Canaries []database.CanaryDefinition

	// AutonomySignals7d counts signals in the trailing 7-day window that
	// touch any autonomy axis.
	AutonomySignals7d int
}

// Build rolls the date's signals up into a DailySnapshot.
func Build(in Inputs, policy Policy) database.DailySnapshot {
	axisScores := buildAxisScores(in.Signals, in.Prior)

	var gapAxes []scoring.Axis
	covered := 0
	for _, axis := range scoring.TrackedAxes {
		if axisScores[axis].SignalCount > 0 {
			covered++
		} else {
			gapAxes = append(gapAxes, axis)
		}
	}

	composite := compositeScore(axisScores, policy.CompositeWeights)

	signalIDs := make([]string, 0, len(in.Signals))
	for _, sig := range in.Signals {
		signalIDs = append(signalIDs, sig.ID)
	}
	sort.Strings(signalIDs)

	return database.DailySnapshot{
		Date:           in.Date,
		AxisScores:     axisScores,
		CanaryStatuses: evaluateCanaries(in.Canaries, axisScores),
		CoverageScore:  float64(covered) / float64(len(scoring.TrackedAxes)),
		CompositeScore: composite,
		CompositeTrend: trend(composite, in.WeekAgo),
		Autonomy:       autonomyLevel(axisScores, in.AutonomySignals7d, policy),
		GapAxes:        gapAxes,
		SignalIDs:      signalIDs,
	}
}

// buildAxisScores computes the confidence-weighted mean of signed
// magnitudes and uncertainties per axis. Accumulation follows slice order,
// so equal inputs always produce equal floats.
func buildAxisScores(signals []database.Signal, prior *database.DailySnapshot) map[scoring.Axis]scoring.AxisScore {
	type accum struct {
		weightedScore       float64
		weightedUncertainty float64
		weight              float64
		count               int
	}

	accums := make(map[scoring.Axis]*accum)
	for _, sig := range signals {
		seen := make(map[scoring.Axis]bool)
		for _, impact := range sig.AxesImpacted {
			if !scoring.IsTracked(impact.Axis) {
				continue
			}

			acc := accums[impact.Axis]
			if acc == nil {
				acc = &accum{}
				accums[impact.Axis] = acc
			}

			uncertainty := impact.Uncertainty
			if uncertainty <= 0 {
				uncertainty = scoring.DefaultUncertainty
			}

			acc.weightedScore += sig.Confidence * impact.Signed()
			acc.weightedUncertainty += sig.Confidence * uncertainty
			acc.weight += sig.Confidence
			if !seen[impact.Axis] {
				acc.count++
				seen[impact.Axis] = true
			}
		}
	}

	scores := make(map[scoring.Axis]scoring.AxisScore, len(scoring.TrackedAxes))
	for _, axis := range scoring.TrackedAxes {
		acc := accums[axis]
		if acc == nil || acc.weight == 0 {
			scores[axis] = scoring.AxisScore{}
			continue
		}

		score := scoring.Clamp(acc.weightedScore/acc.weight, -1, 1)

		delta := 0.0
		if prior != nil {
			if prev, ok := prior.AxisScores[axis]; ok && prev.SignalCount > 0 {
				delta = score - prev.Score
			}
		}

		scores[axis] = scoring.AxisScore{
			Score:       score,
			Uncertainty: acc.weightedUncertainty / acc.weight,
			Delta:       delta,
			SignalCount: acc.count,
		}
	}

	return scores
}

// compositeScore is the weighted mean of [0,100]-normalized axis scores,
// restricted to axes with at least one signal.
func compositeScore(axisScores map[scoring.Axis]scoring.AxisScore, weights map[scoring.Axis]float64) float64 {
	var sum, weightSum float64
	for _, axis := range scoring.TrackedAxes {
		as := axisScores[axis]
		if as.SignalCount == 0 {
			continue
		}
		w := weights[axis]
		if w == 0 {
			w = 1
		}
		sum += w * scoring.Normalize100(as.Score)
		weightSum += w
	}

	if weightSum == 0 {
		return 0
	}
	return scoring.Clamp(sum/weightSum, 0, 100)
}

// trend thresholds over the week-over-week composite delta.
const (
	trendAdvancingDelta = 2.0
	trendDecliningDelta = -2.0
	trendMixedDelta     = 0.5
)

func trend(composite float64, weekAgo *database.DailySnapshot) scoring.Trend {
	if weekAgo == nil {
		return scoring.TrendStable
	}

	delta := composite - weekAgo.CompositeScore
	switch {
	case delta > trendAdvancingDelta:
		return scoring.TrendAdvancing
	case delta < trendDecliningDelta:
		return scoring.TrendDeclining
	case delta > trendMixedDelta:
		return scoring.TrendMixed
	default:
		return scoring.TrendStable
	}
}

func evaluateCanaries(defs []database.CanaryDefinition, axisScores map[scoring.Axis]scoring.AxisScore) []scoring.CanaryStatus {
	statuses := make([]scoring.CanaryStatus, 0, len(defs))
	for _, def := range defs {
		var sum float64
		covered := 0
		for _, axis := range def.AxesWatched {
			as := axisScores[axis]
			if as.SignalCount == 0 {
				continue
			}
			sum += scoring.Normalize01(as.Score)
			covered++
		}

		status := scoring.CanaryStatus{CanaryID: def.ID, Name: def.Name, State: scoring.CanaryGray}
		if covered > 0 {
			level := sum / float64(covered)
			status.Level = level
			status.State = classifyCanary(level, def)
		}
		statuses = append(statuses, status)
	}

	return statuses
}

func classifyCanary(level float64, def database.CanaryDefinition) scoring.CanaryState {
	switch {
	case level >= def.GreenFloor:
		return scoring.CanaryGreen
	case level >= def.YellowFloor:
		return scoring.CanaryYellow
	case level > 0:
		return scoring.CanaryRed
	default:
		return scoring.CanaryGray
	}
}

// autonomyLevel derives the 0-4 level from the planning, tool_use and
// alignment_safety axes. When the 7-day evidence floor or the uncertainty
// gate trips, the level is capped at 2 and flagged instead of being shown
// at full confidence.
func autonomyLevel(axisScores map[scoring.Axis]scoring.AxisScore, signals7d int, policy Policy) scoring.Autonomy {
	var scoreSum, uncertaintySum float64
	covered := 0
	for _, axis := range scoring.AutonomyAxes {
		as := axisScores[axis]
		if as.SignalCount == 0 {
			continue
		}
		scoreSum += scoring.Normalize01(as.Score)
		uncertaintySum += as.Uncertainty
		covered++
	}

	result := scoring.Autonomy{SignalCount7d: signals7d}
	if covered == 0 {
		result.InsufficientData = true
		return result
	}

	mean := scoreSum / float64(covered)
	result.CombinedUncertainty = uncertaintySum / float64(covered)
	result.Level = int(mean*4 + 0.5)
	if result.Level > 4 {
		result.Level = 4
	}

	if signals7d < policy.AutonomyMinSignals {
		result.InsufficientData = true
	}
	if result.CombinedUncertainty > policy.AutonomyUncertaintyCap {
		result.HighUncertainty = true
	}
	if (result.InsufficientData || result.HighUncertainty) && result.Level > 2 {
		result.Level = 2
	}

	return result
}
