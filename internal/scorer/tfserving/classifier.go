// Package tfserving runs the action-recognition model through a TensorFlow
// Serving predict endpoint.
package tfserving

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KLibras/klibras-api/internal/scorer"
)

// Sentinel errors for model server failures.
var (
	ErrUnreachable = errors.New("model server unreachable")
	ErrTimeout     = errors.New("model inference timeout")
	ErrBadResponse = errors.New("model server returned invalid response")
)

// Classifier implements scorer.Classifier against a TF Serving REST API.
type Classifier struct {
	predictURL string
	actions    []string
	client     *http.Client
}

// NewClassifier creates a Classifier. baseURL points at the serving root;
// actions is the model's output label set, index-aligned with the returned
// distribution.
func NewClassifier(baseURL string, actions []string, timeout time.Duration) *Classifier {
	return &Classifier{
		predictURL: baseURL + "/v1/models/action_recognizer:predict",
		actions:    actions,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *Classifier) Actions() []string { return c.actions }

type predictRequest struct {
	Instances [][][]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
}

// Predict sends one sequence (batch of 1) and returns the probability
// distribution over the action set.
func (c *Classifier) Predict(ctx context.Context, sequence [][]float32) ([]float64, error) {
	payload, err := json.Marshal(predictRequest{Instances: [][][]float32{sequence}})
	if err != nil {
		return nil, fmt.Errorf("encoding predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.predictURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(pr.Predictions) != 1 {
		return nil, fmt.Errorf("%w: expected 1 prediction, got %d", ErrBadResponse, len(pr.Predictions))
	}
	return pr.Predictions[0], nil
}

var _ scorer.Classifier = (*Classifier)(nil)
