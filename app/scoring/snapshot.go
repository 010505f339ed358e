package scoring

// AxisScore is the per-axis rollup inside a daily snapshot.
type AxisScore struct {
	Score       float64 `json:"score"`
	Uncertainty float64 `json:"uncertainty"`
	Delta       float64 `json:"delta"`
	SignalCount int     `json:"signal_count"`
}

type CanaryState string

const (
	CanaryGreen  CanaryState = "green"
	CanaryYellow CanaryState = "yellow"
	CanaryRed    CanaryState = "red"
	CanaryGray   CanaryState = "gray"
)

// CanaryStatus is one evaluated canary inside a daily snapshot.
type CanaryStatus struct {
	CanaryID string      `json:"canary_id"`
	Name     string      `json:"name"`
	Level    float64     `json:"level"`
	State    CanaryState `json:"state"`
}

type Trend string

const (
	TrendAdvancing Trend = "advancing"
	TrendDeclining Trend = "declining"
	TrendMixed     Trend = "mixed"
	TrendStable    Trend = "stable"
)

// Autonomy is the derived autonomy assessment inside a daily snapshot.
// Level is 0-4; when the confidence gate trips, Level is capped at 2 and
// the corresponding flag is set.
type Autonomy struct {
	Level               int     `json:"level"`
	CombinedUncertainty float64 `json:"combined_uncertainty"`
	SignalCount7d       int     `json:"signal_count_7d"`
	HighUncertainty     bool    `json:"high_uncertainty"`
	InsufficientData    bool    `json:"insufficient_data"`
}
