package mock

import (
	"context"

	"github.com/kiranshivaraju/carinspect/internal/ai"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// MockAnalyzer satisfies models.Analyzer for testing.
type MockAnalyzer struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.AnalyzeRequest) (models.AnalyzeResult, error)
	PingFunc    func(ctx context.Context) error
}

func (m *MockAnalyzer) Name() string { return m.Name_ }

func (m *MockAnalyzer) Analyze(ctx context.Context, req models.AnalyzeRequest) (models.AnalyzeResult, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return models.AnalyzeResult{Payload: map[string]any{}}, nil
}

func (m *MockAnalyzer) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// NewMockAnalyzer returns a MockAnalyzer answering exteriorScore 90 and engineScore 80.
func NewMockAnalyzer() *MockAnalyzer {
	return NewScoringAnalyzer(map[string]any{
		"exteriorScore": float64(90),
		"engineScore":   float64(80),
		"issues":        []any{},
	})
}

// NewScoringAnalyzer returns a MockAnalyzer that always answers with payload.
func NewScoringAnalyzer(payload map[string]any) *MockAnalyzer {
	return &MockAnalyzer{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, req models.AnalyzeRequest) (models.AnalyzeResult, error) {
			out := make(map[string]any, len(payload)+1)
			for k, v := range payload {
				out[k] = v
			}
			out["jobId"] = req.JobID
			return models.AnalyzeResult{Payload: out, ContentType: "application/json"}, nil
		},
	}
}

// NewFailingAnalyzer returns a MockAnalyzer that always returns the given error.
func NewFailingAnalyzer(err error) *MockAnalyzer {
	return &MockAnalyzer{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.AnalyzeRequest) (models.AnalyzeResult, error) {
			return models.AnalyzeResult{}, err
		},
		PingFunc: func(_ context.Context) error { return err },
	}
}

// NewTimeoutAnalyzer returns a MockAnalyzer that blocks until context is cancelled.
func NewTimeoutAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.AnalyzeRequest) (models.AnalyzeResult, error) {
			<-ctx.Done()
			return models.AnalyzeResult{}, ai.ErrServiceTimeout
		},
	}
}

// Compile-time check that MockAnalyzer implements Analyzer.
var _ models.Analyzer = (*MockAnalyzer)(nil)
