// Package scorer turns raw video bytes into a classification verdict: which
// sign the video demonstrates and whether it matches the expected one.
package scorer

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for scoring failures. Every error returned by Score wraps
// one of these; the worker records them as a failed job, never as a crash.
var (
	ErrDecodeFailed = errors.New("decode failed")
	ErrNoFrames     = errors.New("no frames or landmarks extracted")
	ErrInference    = errors.New("model inference failed")
)

// Verdict is the scorer's output for one video.
type Verdict struct {
	// ActionFound is true when the predicted action matches the expected one
	// with confidence at or above the configured threshold.
	ActionFound     bool
	PredictedAction string
	Confidence      float64
	// IsMatch is true when the predicted action equals the expected action,
	// regardless of confidence.
	IsMatch bool
}

// Scorer is the core interface for video classification. Never call a
// concrete pipeline directly — always inject this interface.
type Scorer interface {
	// Score classifies the video against the expected action.
	Score(ctx context.Context, video []byte, expectedAction string) (Verdict, error)
	// Name returns the scorer identifier (e.g., "pipeline", "mock").
	Name() string
}

// Frame is one decoded video frame as packed RGB24 pixels.
type Frame struct {
	Width  int
	Height int
	RGB    []byte
}

// FrameDecoder turns a raw video into a frame sequence.
type FrameDecoder interface {
	Decode(ctx context.Context, video []byte) ([]Frame, error)
}

// LandmarkExtractor produces the fixed-size keypoint feature vector for one
// frame. Implementations must be safe for concurrent use: the extractor is
// constructed once per worker process and shared.
type LandmarkExtractor interface {
	ExtractKeypoints(ctx context.Context, frame Frame) ([]float32, error)
}

// Classifier maps a fixed-length keypoint sequence to a probability
// distribution over its action label set.
type Classifier interface {
	Predict(ctx context.Context, sequence [][]float32) ([]float64, error)
	Actions() []string
}

// PipelineOptions configures a Pipeline scorer.
type PipelineOptions struct {
	Decoder    FrameDecoder
	Extractor  LandmarkExtractor
	Classifier Classifier

	ConfidenceThreshold float64
	SequenceLength      int
}

// Pipeline implements Scorer as decode → per-frame keypoint extraction →
// fixed-length normalization → classification.
type Pipeline struct {
	decoder    FrameDecoder
	extractor  LandmarkExtractor
	classifier Classifier
	threshold  float64
	seqLen     int
}

// NewPipeline assembles a Pipeline scorer.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Decoder == nil || opts.Extractor == nil || opts.Classifier == nil {
		return nil, fmt.Errorf("pipeline scorer requires a decoder, extractor, and classifier")
	}
	if opts.SequenceLength < 2 {
		return nil, fmt.Errorf("sequence length must be at least 2, got %d", opts.SequenceLength)
	}
	if len(opts.Classifier.Actions()) == 0 {
		return nil, fmt.Errorf("classifier has no actions configured")
	}
	return &Pipeline{
		decoder:    opts.Decoder,
		extractor:  opts.Extractor,
		classifier: opts.Classifier,
		threshold:  opts.ConfidenceThreshold,
		seqLen:     opts.SequenceLength,
	}, nil
}

func (p *Pipeline) Name() string { return "pipeline" }

func (p *Pipeline) Score(ctx context.Context, video []byte, expectedAction string) (Verdict, error) {
	frames, err := p.decoder.Decode(ctx, video)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if len(frames) == 0 {
		return Verdict{}, ErrNoFrames
	}

	features := make([][]float32, 0, len(frames))
	for i, frame := range frames {
		kp, err := p.extractor.ExtractKeypoints(ctx, frame)
		if err != nil {
			return Verdict{}, fmt.Errorf("extract keypoints for frame %d: %w", i, err)
		}
		features = append(features, kp)
	}

	sequence := normalizeSequence(features, p.seqLen)

	dist, err := p.classifier.Predict(ctx, sequence)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInference, err)
	}

	actions := p.classifier.Actions()
	if len(dist) != len(actions) {
		return Verdict{}, fmt.Errorf("%w: got %d probabilities for %d actions",
			ErrInference, len(dist), len(actions))
	}

	best := 0
	for i := range dist {
		if dist[i] > dist[best] {
			best = i
		}
	}

	predicted := actions[best]
	confidence := clamp01(dist[best])
	isMatch := predicted == expectedAction

	return Verdict{
		ActionFound:     isMatch && confidence >= p.threshold,
		PredictedAction: predicted,
		Confidence:      confidence,
		IsMatch:         isMatch,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ Scorer = (*Pipeline)(nil)
