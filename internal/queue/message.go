package queue

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// wireMessage is the JSON payload carried through the broker. The video
// bytes are text-encoded: base64 on publish, base64 or hex accepted on
// decode (earlier producers used hex).
type wireMessage struct {
	JobID          string `json:"job_id"`
	ExpectedAction string `json:"expected_action"`
	VideoContent   string `json:"video_content"`
	UserID         int64  `json:"user_id"`
}

// Message is a decoded video-recognition job.
type Message struct {
	JobID          uuid.UUID
	UserID         int64
	ExpectedAction string
	Video          []byte
}

// EncodeMessage serializes a recognition job for the broker.
func EncodeMessage(msg Message) ([]byte, error) {
	body, err := json.Marshal(wireMessage{
		JobID:          msg.JobID.String(),
		ExpectedAction: msg.ExpectedAction,
		VideoContent:   base64.StdEncoding.EncodeToString(msg.Video),
		UserID:         msg.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode queue message: %w", err)
	}
	return body, nil
}

// DecodeMessage parses a broker payload back into a recognition job.
func DecodeMessage(body []byte) (*Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode queue message: %w", err)
	}

	jobID, err := uuid.Parse(wire.JobID)
	if err != nil {
		return nil, fmt.Errorf("decode queue message: bad job_id %q: %w", wire.JobID, err)
	}
	if wire.ExpectedAction == "" {
		return nil, fmt.Errorf("decode queue message: expected_action is empty")
	}

	video, err := decodeVideoContent(wire.VideoContent)
	if err != nil {
		return nil, fmt.Errorf("decode queue message: %w", err)
	}

	return &Message{
		JobID:          jobID,
		UserID:         wire.UserID,
		ExpectedAction: wire.ExpectedAction,
		Video:          video,
	}, nil
}

func decodeVideoContent(content string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(content); err == nil {
		return b, nil
	}
	if b, err := hex.DecodeString(content); err == nil {
		return b, nil
	}
	return nil, ErrBadEncoding
}
