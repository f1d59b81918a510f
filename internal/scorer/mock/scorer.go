// Package mock provides scorer implementations for testing and development.
package mock

import (
	"context"

	"github.com/KLibras/klibras-api/internal/scorer"
)

// MockScorer satisfies scorer.Scorer for testing.
type MockScorer struct {
	Name_     string
	ScoreFunc func(ctx context.Context, video []byte, expectedAction string) (scorer.Verdict, error)
}

func (m *MockScorer) Name() string { return m.Name_ }

func (m *MockScorer) Score(ctx context.Context, video []byte, expectedAction string) (scorer.Verdict, error) {
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, video, expectedAction)
	}
	return scorer.Verdict{}, nil
}

// NewMockScorer returns a MockScorer that always recognizes the expected
// action with high confidence.
func NewMockScorer() *MockScorer {
	return &MockScorer{
		Name_: "mock",
		ScoreFunc: func(_ context.Context, _ []byte, expectedAction string) (scorer.Verdict, error) {
			return scorer.Verdict{
				ActionFound:     true,
				PredictedAction: expectedAction,
				Confidence:      0.92,
				IsMatch:         true,
			}, nil
		},
	}
}

// NewFailingScorer returns a MockScorer that always returns the given error.
func NewFailingScorer(err error) *MockScorer {
	return &MockScorer{
		Name_: "mock-failing",
		ScoreFunc: func(_ context.Context, _ []byte, _ string) (scorer.Verdict, error) {
			return scorer.Verdict{}, err
		},
	}
}

// NewTimeoutScorer returns a MockScorer that blocks until context is cancelled.
func NewTimeoutScorer() *MockScorer {
	return &MockScorer{
		Name_: "mock-timeout",
		ScoreFunc: func(ctx context.Context, _ []byte, _ string) (scorer.Verdict, error) {
			<-ctx.Done()
			return scorer.Verdict{}, ctx.Err()
		},
	}
}

// Compile-time check that MockScorer implements Scorer.
var _ scorer.Scorer = (*MockScorer)(nil)
