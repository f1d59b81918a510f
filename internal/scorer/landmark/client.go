// Package landmark extracts per-frame keypoints from the landmark detection
// sidecar over HTTP.
package landmark

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KLibras/klibras-api/internal/scorer"
	"golang.org/x/sync/errgroup"
)

// Sentinel errors for landmark sidecar failures.
var (
	ErrUnreachable = errors.New("landmarker unreachable")
	ErrTimeout     = errors.New("landmarker timeout")
	ErrBadResponse = errors.New("landmarker returned invalid response")
)

// Client implements scorer.LandmarkExtractor against the landmark sidecar's
// HTTP API. Pose and hand detection are independent models over the same
// frame, so the two requests run concurrently and join before the keypoint
// vector is assembled.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a landmark sidecar client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type frameRequest struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	RGB    string `json:"rgb"` // base64 packed RGB24
}

type poseResponse struct {
	Landmarks []scorer.PoseLandmark `json:"landmarks"`
}

type handsResponse struct {
	Hands []scorer.HandDetection `json:"hands"`
}

func (c *Client) ExtractKeypoints(ctx context.Context, frame scorer.Frame) ([]float32, error) {
	req := frameRequest{
		Width:  frame.Width,
		Height: frame.Height,
		RGB:    base64.StdEncoding.EncodeToString(frame.RGB),
	}

	var (
		pose  poseResponse
		hands handsResponse
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.post(gctx, "/v1/detect/pose", req, &pose)
	})
	g.Go(func() error {
		return c.post(gctx, "/v1/detect/hands", req, &hands)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return scorer.AssembleKeypoints(pose.Landmarks, hands.Hands), nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

var _ scorer.LandmarkExtractor = (*Client)(nil)
