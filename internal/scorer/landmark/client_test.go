package landmark

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KLibras/klibras-api/internal/scorer"
)

func testFrame() scorer.Frame {
	return scorer.Frame{Width: 2, Height: 2, RGB: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}
}

func TestExtractKeypoints_ValidResponse(t *testing.T) {
	pose := make([]scorer.PoseLandmark, scorer.PoseLandmarkCount)
	pose[0] = scorer.PoseLandmark{X: 0.5, Y: 0.25, Z: 0.1, Visibility: 0.99}

	left := scorer.HandDetection{Handedness: "Left", Landmarks: make([]scorer.HandLandmark, scorer.HandLandmarkCount)}
	left.Landmarks[0] = scorer.HandLandmark{X: 0.7}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		var req frameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Width != 2 || req.Height != 2 {
			t.Errorf("unexpected dimensions: %dx%d", req.Width, req.Height)
		}
		rgb, err := base64.StdEncoding.DecodeString(req.RGB)
		if err != nil || len(rgb) != 12 {
			t.Errorf("bad rgb payload: %v (len %d)", err, len(rgb))
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/detect/pose":
			json.NewEncoder(w).Encode(poseResponse{Landmarks: pose})
		case "/v1/detect/hands":
			json.NewEncoder(w).Encode(handsResponse{Hands: []scorer.HandDetection{left}})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second)
	kp, err := c.ExtractKeypoints(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(kp) != scorer.FeatureSize {
		t.Fatalf("expected %d features, got %d", scorer.FeatureSize, len(kp))
	}
	if kp[0] != 0.5 {
		t.Errorf("expected pose x at index 0, got %v", kp[0])
	}
	if kp[scorer.PoseFeatureSize] != 0.7 {
		t.Errorf("expected left hand x at offset %d, got %v", scorer.PoseFeatureSize, kp[scorer.PoseFeatureSize])
	}
}

func TestExtractKeypoints_EmptyDetections(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/detect/pose":
			json.NewEncoder(w).Encode(poseResponse{})
		case "/v1/detect/hands":
			json.NewEncoder(w).Encode(handsResponse{})
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second)
	kp, err := c.ExtractKeypoints(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No person in frame still yields a full zero vector.
	if len(kp) != scorer.FeatureSize {
		t.Fatalf("expected %d features, got %d", scorer.FeatureSize, len(kp))
	}
	for i, v := range kp {
		if v != 0 {
			t.Fatalf("expected zero at %d, got %v", i, v)
		}
	}
}

func TestExtractKeypoints_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second)
	_, err := c.ExtractKeypoints(context.Background(), testFrame())
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
}

func TestExtractKeypoints_Unreachable(t *testing.T) {
	// Closed server: connection refused.
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close()

	c := NewClient(ts.URL, time.Second)
	_, err := c.ExtractKeypoints(context.Background(), testFrame())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestExtractKeypoints_InvalidJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second)
	_, err := c.ExtractKeypoints(context.Background(), testFrame())
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
}
