package report

import (
	"encoding/json"
	"math"

	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// Scores are the values derived from one AI analysis result.
type Scores struct {
	Exterior *float64
	Engine   *float64
	Trust    *int
	Verdict  string
}

// Derive reads exterior and engine scores from result, accepting either the flat
// exteriorScore/engineScore fields or nested exterior.score/engine.score, and derives
// the trust score and verdict from them.
func Derive(result map[string]any) Scores {
	s := Scores{
		Exterior: scoreField(result, "exteriorScore", "exterior"),
		Engine:   scoreField(result, "engineScore", "engine"),
	}
	s.Trust = TrustScore(s.Exterior, s.Engine)
	s.Verdict = Verdict(s.Trust)
	return s
}

// TrustScore is the rounded mean of both scores when both exist, otherwise whichever exists.
func TrustScore(exterior, engine *float64) *int {
	var v float64
	switch {
	case exterior != nil && engine != nil:
		v = (*exterior + *engine) / 2
	case exterior != nil:
		v = *exterior
	case engine != nil:
		v = *engine
	default:
		return nil
	}
	n := int(math.Round(v))
	return &n
}

// Verdict maps a trust score to its band.
func Verdict(trust *int) string {
	if trust == nil {
		return models.VerdictUnknown
	}
	switch t := *trust; {
	case t >= 80:
		return models.VerdictExcellent
	case t >= 65:
		return models.VerdictGood
	case t >= 50:
		return models.VerdictFair
	default:
		return models.VerdictPoor
	}
}

func scoreField(result map[string]any, flat, nested string) *float64 {
	if v, ok := number(result[flat]); ok {
		return &v
	}
	if obj, ok := result[nested].(map[string]any); ok {
		if v, ok := number(obj["score"]); ok {
			return &v
		}
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
