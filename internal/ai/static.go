package ai

import (
	"context"
	"hash/fnv"

	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// StaticAnalyzer answers without any network call. Scores are derived from the job
// ID so repeated runs of the same job agree. Used for local development.
type StaticAnalyzer struct{}

func NewStaticAnalyzer() *StaticAnalyzer { return &StaticAnalyzer{} }

func (a *StaticAnalyzer) Name() string { return "mock" }

func (a *StaticAnalyzer) Ping(context.Context) error { return nil }

func (a *StaticAnalyzer) Analyze(ctx context.Context, req models.AnalyzeRequest) (models.AnalyzeResult, error) {
	if err := ctx.Err(); err != nil {
		return models.AnalyzeResult{}, err
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(req.JobID))
	sum := h.Sum32()
	exterior := 60 + float64(sum%40)
	engine := 55 + float64((sum/40)%45)

	issues := []any{}
	if exterior < 75 {
		issues = append(issues, "Minor paint scratches detected")
	}
	if req.AudioURL == "" {
		issues = append(issues, "No engine audio provided; engine score estimated from photos")
	} else if engine < 70 {
		issues = append(issues, "Irregular idle detected in engine audio")
	}

	return models.AnalyzeResult{
		ContentType: "application/json",
		Payload: map[string]any{
			"jobId":         req.JobID,
			"exteriorScore": exterior,
			"engineScore":   engine,
			"issues":        issues,
			"raw": map[string]any{
				"imagesAnalyzed": float64(len(req.ImageURLs)),
				"audioAnalyzed":  req.AudioURL != "",
			},
		},
	}, nil
}

var _ models.Analyzer = (*StaticAnalyzer)(nil)
