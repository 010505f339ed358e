package scoring

// Axis is a named capability dimension tracked over time. Axis-level scores
// live in [-1, 1]; -1 is strong regression, +1 is strong advancement.
type Axis string

const (
	AxisReasoning          Axis = "reasoning"
	AxisPlanning           Axis = "planning"
	AxisToolUse            Axis = "tool_use"
	AxisCoding             Axis = "coding"
	AxisKnowledge          Axis = "knowledge"
	AxisPerception         Axis = "perception"
	AxisSocialIntelligence Axis = "social_intelligence"
	AxisSelfImprovement    Axis = "self_improvement"
	AxisAlignmentSafety    Axis = "alignment_safety"
)

// TrackedAxes lists every axis in display order. Coverage is measured
// against this set.
var TrackedAxes = []Axis{
	AxisReasoning,
	AxisPlanning,
	AxisToolUse,
	AxisCoding,
	AxisKnowledge,
	AxisPerception,
	AxisSocialIntelligence,
	AxisSelfImprovement,
	AxisAlignmentSafety,
}

// CompositeWeights holds the per-axis importance weights used for the
// composite score. Policy constants, overridable before startup.
var CompositeWeights = map[Axis]float64{
	AxisReasoning:          1.5,
	AxisPlanning:           1.3,
	AxisToolUse:            1.3,
	AxisCoding:             1.2,
	AxisKnowledge:          1.0,
	AxisPerception:         0.8,
	AxisSocialIntelligence: 0.8,
	AxisSelfImprovement:    1.1,
	AxisAlignmentSafety:    1.0,
}

// AutonomyAxes are the only axes that feed the derived autonomy level.
var AutonomyAxes = []Axis{AxisPlanning, AxisToolUse, AxisAlignmentSafety}

func IsTracked(a Axis) bool {
	for _, t := range TrackedAxes {
		if t == a {
			return true
		}
	}
	return false
}

// Normalize01 maps an axis score from [-1, 1] to [0, 1].
func Normalize01(score float64) float64 {
	return (Clamp(score, -1, 1) + 1) / 2
}

// Normalize100 maps an axis score from [-1, 1] to [0, 100].
func Normalize100(score float64) float64 {
	return Normalize01(score) * 100
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
