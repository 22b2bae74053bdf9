package metastore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaVersion is the current payload schema version. Decoding rejects
// payloads written by a newer schema.
const SchemaVersion = 1

// Kind tags what a payload describes.
type Kind string

const (
	KindFixedJob Kind = "job-fixed"
	KindOpenJob  Kind = "job-open"
	KindProposal Kind = "proposal"
)

// Payload is the off-chain metadata document referenced by a job or
// proposal through its content id.
type Payload struct {
	Version      int               `json:"version"`
	Kind         Kind              `json:"kind"`
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description"`
	Requirements []string          `json:"requirements,omitempty"`
	Location     string            `json:"location,omitempty"`
	Attachments  []string          `json:"attachments,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

func (p Payload) Validate() error {
	if p.Version != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", ErrInvalidPayload, p.Version)
	}
	switch p.Kind {
	case KindFixedJob, KindOpenJob:
		if strings.TrimSpace(p.Title) == "" {
			return fmt.Errorf("%w: job payload requires a title", ErrInvalidPayload)
		}
	case KindProposal:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, p.Kind)
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidPayload)
	}
	return nil
}

func encodePayload(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("metastore: encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
