package jobs

import (
	"encoding/json"
	"fmt"
)

// Payload is the queue message tying a job id to the batch fields it should
// run against.
type Payload struct {
	JobID string         `json:"job_id"`
	Batch map[string]any `json:"batch,omitempty"`
}

func (p Payload) Encode() (string, error) {
	if p.JobID == "" {
		return "", fmt.Errorf("a payload requires a job id")
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode the payload for job %q: %w", p.JobID, err)
	}
	return string(encoded), nil
}

func DecodePayload(raw string) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Payload{}, fmt.Errorf("failed to decode a queue payload: %w", err)
	}
	if payload.JobID == "" {
		return Payload{}, fmt.Errorf("queue payload %q names no job", raw)
	}
	return payload, nil
}
