// Package ffmpeg decodes videos into raw RGB frames by shelling out to the
// ffmpeg binary.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/KLibras/klibras-api/internal/scorer"
)

// Defaults trade accuracy for latency: landmark extraction does not need
// full resolution or frame rate, only the final fixed-length sequence
// contract matters.
const (
	defaultWidth  = 256
	defaultHeight = 256
	defaultFPS    = 12
)

// Decoder implements scorer.FrameDecoder using the ffmpeg CLI.
type Decoder struct {
	path   string
	width  int
	height int
	fps    int
}

// NewDecoder creates a Decoder invoking the ffmpeg binary at path.
func NewDecoder(path string) *Decoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &Decoder{
		path:   path,
		width:  defaultWidth,
		height: defaultHeight,
		fps:    defaultFPS,
	}
}

// Decode writes the video to a temp file and extracts downscaled, fps-sampled
// RGB24 frames from ffmpeg's stdout.
func (d *Decoder) Decode(ctx context.Context, video []byte) ([]scorer.Frame, error) {
	tmp, err := os.CreateTemp("", "klibras-video-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("create temp video: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(video); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp video: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp video: %w", err)
	}

	args := []string{
		"-v", "error",
		"-i", tmp.Name(),
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", d.fps, d.width, d.height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, firstLine(stderr.String()))
	}

	frameSize := d.width * d.height * 3
	raw := stdout.Bytes()
	if len(raw) < frameSize {
		return nil, nil
	}

	frames := make([]scorer.Frame, 0, len(raw)/frameSize)
	for off := 0; off+frameSize <= len(raw); off += frameSize {
		frames = append(frames, scorer.Frame{
			Width:  d.width,
			Height: d.height,
			RGB:    raw[off : off+frameSize],
		})
	}
	return frames, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ scorer.FrameDecoder = (*Decoder)(nil)
