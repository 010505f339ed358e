package scoring

// Version stamps signals with the scoring schema they were normalized
// under, so historical rows survive schema evolution.
const Version = 2

// DefaultUncertainty is assumed when a signal's axis impact carries no
// uncertainty estimate.
const DefaultUncertainty = 0.3

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// AxisImpact is one signal's claimed movement on a single axis.
// Magnitude is unsigned in [0, 1]; Direction signs it.
type AxisImpact struct {
	Axis        Axis      `json:"axis"`
	Direction   Direction `json:"direction"`
	Magnitude   float64   `json:"magnitude"`
	Uncertainty float64   `json:"uncertainty,omitempty"`
}

// Signed returns the magnitude signed by direction.
func (a AxisImpact) Signed() float64 {
	if a.Direction == DirectionDown {
		return -a.Magnitude
	}
	return a.Magnitude
}

// Metric is an optional benchmark measurement attached to a signal.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Citation ties a claim back to a source location.
type Citation struct {
	URL        string `json:"url"`
	QuotedSpan string `json:"quoted_span,omitempty"`
}
