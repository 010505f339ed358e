package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capradar/capradar/app/scoring"
)

var extractionPrompt = `You read a document about AI systems and extract structured
capability claims. Respond with bare JSON, no prose, matching:

{"claims": [{
  "claim_summary": "one-sentence factual summary",
  "axes": [{"axis": "<axis>", "direction": "up|down", "magnitude": 0.0-1.0, "uncertainty": 0.0-1.0}],
  "metric": {"name": "...", "value": 0.0, "unit": "..."},
  "citations": [{"url": "...", "quoted_span": "verbatim supporting quote"}],
  "confidence": 0.0-1.0
}]}

Valid axes: ` + strings.Join(axisNames(), ", ") + `.
"metric" is optional; every claim needs axes or a metric. Return {"claims": []}
if the document makes no capability claims.`

func axisNames() []string {
	names := make([]string, len(scoring.TrackedAxes))
	for i, a := range scoring.TrackedAxes {
		names[i] = string(a)
	}
	return names
}

// Result is a validated, normalized extraction response.
type Result struct {
	Claims []Claim
}

type Claim struct {
	ClaimSummary string
	Axes         []scoring.AxisImpact
	Metric       *scoring.Metric
	Citations    []scoring.Citation
	Confidence   float64
}

// ValidationError marks an AI response that failed schema checks. It is
// recorded on the document and not retried: the same prompt would repeat
// the same bad output.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "extraction validation failed: " + e.Reason
}

type rawResult struct {
	Claims []rawClaim `json:"claims"`
}

type rawClaim struct {
	ClaimSummary string             `json:"claim_summary"`
	Axes         []rawAxisImpact    `json:"axes"`
	Metric       *scoring.Metric    `json:"metric"`
	Citations    []scoring.Citation `json:"citations"`
	Confidence   *float64           `json:"confidence"`
}

type rawAxisImpact struct {
	Axis        string   `json:"axis"`
	Direction   string   `json:"direction"`
	Magnitude   *float64 `json:"magnitude"`
	Uncertainty *float64 `json:"uncertainty"`
}

// ParseResult validates raw model output against the extraction schema and
// normalizes it: bounds clamped, directions canonicalized, missing
// uncertainties defaulted. Any malformed claim fails the whole response.
func ParseResult(data []byte) (*Result, error) {
	var raw rawResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("response is not valid JSON: %v", err)}
	}

	result := &Result{Claims: make([]Claim, 0, len(raw.Claims))}
	for i, rc := range raw.Claims {
		claim, err := normalizeClaim(rc)
		if err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("claim %d: %v", i, err)}
		}
		result.Claims = append(result.Claims, claim)
	}

	return result, nil
}

func normalizeClaim(rc rawClaim) (Claim, error) {
	summary := strings.TrimSpace(rc.ClaimSummary)
	if summary == "" {
		return Claim{}, fmt.Errorf("claim_summary is empty")
	}

	if rc.Confidence == nil {
		return Claim{}, fmt.Errorf("confidence is missing")
	}

	axes := make([]scoring.AxisImpact, 0, len(rc.Axes))
	for _, ra := range rc.Axes {
		impact, err := normalizeAxisImpact(ra)
		if err != nil {
			return Claim{}, err
		}
		axes = append(axes, impact)
	}

	if len(axes) == 0 && rc.Metric == nil {
		return Claim{}, fmt.Errorf("claim has neither axes nor a metric")
	}

	if rc.Metric != nil && strings.TrimSpace(rc.Metric.Name) == "" {
		return Claim{}, fmt.Errorf("metric name is empty")
	}

	citations := make([]scoring.Citation, 0, len(rc.Citations))
	for _, c := range rc.Citations {
		if strings.TrimSpace(c.URL) == "" {
			continue
		}
		citations = append(citations, c)
	}

	return Claim{
		ClaimSummary: summary,
		Axes:         axes,
		Metric:       rc.Metric,
		Citations:    citations,
		Confidence:   scoring.Clamp(*rc.Confidence, 0, 1),
	}, nil
}

func normalizeAxisImpact(ra rawAxisImpact) (scoring.AxisImpact, error) {
	axis := scoring.Axis(strings.ToLower(strings.TrimSpace(ra.Axis)))
	if !scoring.IsTracked(axis) {
		return scoring.AxisImpact{}, fmt.Errorf("unknown axis %q", ra.Axis)
	}

	var direction scoring.Direction
	switch strings.ToLower(strings.TrimSpace(ra.Direction)) {
	case "up", "increase", "advance":
		direction = scoring.DirectionUp
	case "down", "decrease", "decline":
		direction = scoring.DirectionDown
	default:
		return scoring.AxisImpact{}, fmt.Errorf("invalid direction %q for axis %s", ra.Direction, axis)
	}

	if ra.Magnitude == nil {
		return scoring.AxisImpact{}, fmt.Errorf("magnitude missing for axis %s", axis)
	}

	uncertainty := scoring.DefaultUncertainty
	if ra.Uncertainty != nil {
		uncertainty = scoring.Clamp(*ra.Uncertainty, 0, 1)
	}

	return scoring.AxisImpact{
		Axis:        axis,
		Direction:   direction,
		Magnitude:   scoring.Clamp(*ra.Magnitude, 0, 1),
		Uncertainty: uncertainty,
	}, nil
}
