package scorer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/KLibras/klibras-api/internal/scorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeDecoder struct {
	frames []scorer.Frame
	err    error
}

func (f *fakeDecoder) Decode(context.Context, []byte) ([]scorer.Frame, error) {
	return f.frames, f.err
}

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) ExtractKeypoints(_ context.Context, frame scorer.Frame) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, scorer.FeatureSize), nil
}

type fakeClassifier struct {
	actions []string
	dist    []float64
	err     error

	gotSeqLen int
}

func (f *fakeClassifier) Predict(_ context.Context, sequence [][]float32) ([]float64, error) {
	f.gotSeqLen = len(sequence)
	return f.dist, f.err
}

func (f *fakeClassifier) Actions() []string { return f.actions }

func makeFrames(n int) []scorer.Frame {
	frames := make([]scorer.Frame, n)
	for i := range frames {
		frames[i] = scorer.Frame{Width: 2, Height: 2, RGB: make([]byte, 12)}
	}
	return frames
}

func newTestPipeline(t *testing.T, dec *fakeDecoder, cls *fakeClassifier) *scorer.Pipeline {
	t.Helper()
	p, err := scorer.NewPipeline(scorer.PipelineOptions{
		Decoder:             dec,
		Extractor:           &fakeExtractor{},
		Classifier:          cls,
		ConfidenceThreshold: 0.75,
		SequenceLength:      100,
	})
	require.NoError(t, err)
	return p
}

// --- tests ---

func TestPipeline_RecognizesExpectedAction(t *testing.T) {
	cls := &fakeClassifier{
		actions: []string{"obrigado", "tudo_bem", "qual_seu_nome", "bom_dia", "null"},
		dist:    []float64{0.02, 0.03, 0.01, 0.92, 0.02},
	}
	p := newTestPipeline(t, &fakeDecoder{frames: makeFrames(150)}, cls)

	v, err := p.Score(context.Background(), []byte("video"), "bom_dia")
	require.NoError(t, err)

	assert.True(t, v.ActionFound)
	assert.True(t, v.IsMatch)
	assert.Equal(t, "bom_dia", v.PredictedAction)
	assert.InDelta(t, 0.92, v.Confidence, 1e-9)
	assert.Equal(t, 100, cls.gotSeqLen)
}

func TestPipeline_MatchBelowThreshold(t *testing.T) {
	cls := &fakeClassifier{
		actions: []string{"obrigado", "null"},
		dist:    []float64{0.6, 0.4},
	}
	p := newTestPipeline(t, &fakeDecoder{frames: makeFrames(10)}, cls)

	v, err := p.Score(context.Background(), []byte("video"), "obrigado")
	require.NoError(t, err)

	// Predicted matches but confidence < 0.75: IsMatch without ActionFound.
	assert.False(t, v.ActionFound)
	assert.True(t, v.IsMatch)
	assert.InDelta(t, 0.6, v.Confidence, 1e-9)
}

func TestPipeline_WrongAction(t *testing.T) {
	cls := &fakeClassifier{
		actions: []string{"obrigado", "null"},
		dist:    []float64{0.95, 0.05},
	}
	p := newTestPipeline(t, &fakeDecoder{frames: makeFrames(10)}, cls)

	v, err := p.Score(context.Background(), []byte("video"), "bom_dia")
	require.NoError(t, err)

	assert.False(t, v.ActionFound)
	assert.False(t, v.IsMatch)
	assert.Equal(t, "obrigado", v.PredictedAction)
}

func TestPipeline_DecodeFailure(t *testing.T) {
	p := newTestPipeline(t, &fakeDecoder{err: errors.New("moov atom not found")},
		&fakeClassifier{actions: []string{"null"}, dist: []float64{1}})

	_, err := p.Score(context.Background(), []byte("not a video"), "bom_dia")
	require.Error(t, err)
	assert.ErrorIs(t, err, scorer.ErrDecodeFailed)
}

func TestPipeline_NoFrames(t *testing.T) {
	p := newTestPipeline(t, &fakeDecoder{frames: nil},
		&fakeClassifier{actions: []string{"null"}, dist: []float64{1}})

	_, err := p.Score(context.Background(), []byte("video"), "bom_dia")
	assert.ErrorIs(t, err, scorer.ErrNoFrames)
}

func TestPipeline_InferenceFailure(t *testing.T) {
	cls := &fakeClassifier{
		actions: []string{"null"},
		err:     errors.New("model server unavailable"),
	}
	p := newTestPipeline(t, &fakeDecoder{frames: makeFrames(5)}, cls)

	_, err := p.Score(context.Background(), []byte("video"), "bom_dia")
	assert.ErrorIs(t, err, scorer.ErrInference)
}

func TestPipeline_DistributionSizeMismatch(t *testing.T) {
	cls := &fakeClassifier{
		actions: []string{"obrigado", "null"},
		dist:    []float64{0.2, 0.3, 0.5},
	}
	p := newTestPipeline(t, &fakeDecoder{frames: makeFrames(5)}, cls)

	_, err := p.Score(context.Background(), []byte("video"), "obrigado")
	assert.ErrorIs(t, err, scorer.ErrInference)
}

func TestPipeline_ConfidenceClamped(t *testing.T) {
	cls := &fakeClassifier{
		actions: []string{"obrigado"},
		dist:    []float64{1.2},
	}
	p := newTestPipeline(t, &fakeDecoder{frames: makeFrames(5)}, cls)

	v, err := p.Score(context.Background(), []byte("video"), "obrigado")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Confidence)
}

func TestAssembleKeypoints_ZeroFilled(t *testing.T) {
	out := scorer.AssembleKeypoints(nil, nil)
	require.Len(t, out, scorer.FeatureSize)
	for _, v := range out {
		assert.Equal(t, float32(0), v)
	}
}

func TestAssembleKeypoints_Layout(t *testing.T) {
	pose := make([]scorer.PoseLandmark, scorer.PoseLandmarkCount)
	pose[0] = scorer.PoseLandmark{X: 0.1, Y: 0.2, Z: 0.3, Visibility: 0.9}

	left := scorer.HandDetection{Handedness: "Left", Landmarks: make([]scorer.HandLandmark, scorer.HandLandmarkCount)}
	left.Landmarks[0] = scorer.HandLandmark{X: 0.4, Y: 0.5, Z: 0.6}

	right := scorer.HandDetection{Handedness: "Right", Landmarks: make([]scorer.HandLandmark, scorer.HandLandmarkCount)}
	right.Landmarks[20] = scorer.HandLandmark{X: 0.7, Y: 0.8, Z: 0.9}

	out := scorer.AssembleKeypoints(pose, []scorer.HandDetection{left, right})
	require.Len(t, out, scorer.FeatureSize)

	assert.Equal(t, float32(0.1), out[0])
	assert.Equal(t, float32(0.9), out[3])
	assert.Equal(t, float32(0.4), out[scorer.PoseFeatureSize])
	assert.Equal(t, float32(0.9), out[scorer.FeatureSize-1])
}

func TestAssembleKeypoints_UnknownHandednessIgnored(t *testing.T) {
	hand := scorer.HandDetection{Handedness: "Both", Landmarks: make([]scorer.HandLandmark, 1)}
	hand.Landmarks[0] = scorer.HandLandmark{X: 1}

	out := scorer.AssembleKeypoints(nil, []scorer.HandDetection{hand})
	for _, v := range out {
		assert.Equal(t, float32(0), v)
	}
}
