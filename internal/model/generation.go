package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// GenerationStatus is the lifecycle state of one generation attempt.
//
// A generation is created as pending and moves to exactly one terminal
// state. There is no transition out of completed or failed.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

// Terminal reports whether the status is completed or failed.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// Settings is the small fixed-shape record sent along with a prompt.
//
// It is stored as a JSON document in the generations.settings column
// (TEXT on SQLite, JSONB on PostgreSQL). Implementing driver.Valuer and
// sql.Scanner lets database/sql convert it in both directions without the
// repository having to marshal by hand.
type Settings struct {
	AspectRatio string `json:"aspectRatio"`
	NumOutputs  int    `json:"numOutputs"`
	HDR         bool   `json:"hdr"`
}

// Value encodes the settings as a JSON string.
// A string (not []byte) is returned so PostgreSQL infers jsonb instead of bytea.
func (s Settings) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("model: encoding settings: %w", err)
	}
	return string(b), nil
}

// Scan decodes a JSON document read from the database.
func (s *Settings) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = Settings{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("model: cannot scan %T into Settings", src)
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return fmt.Errorf("model: decoding settings: %w", err)
	}
	return nil
}

// Generation is one attempted invocation of the inference model.
type Generation struct {
	ID        string           `json:"id"        db:"id"`
	UserID    string           `json:"userId"    db:"user_id"`
	Prompt    string           `json:"prompt"    db:"prompt"`
	Settings  Settings         `json:"settings"  db:"settings"`
	Status    GenerationStatus `json:"status"    db:"status"`
	Error     string           `json:"error,omitempty" db:"error_message"` // empty unless failed
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time        `json:"updatedAt" db:"updated_at"`
}
