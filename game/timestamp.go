// File: game/timestamp.go
// License: Apache-2.0

package game

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire format of every timestamp, always UTC.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Timestamp is a second-precision UTC instant encoded as
// YYYY-MM-DDTHH:MM:SSZ.
type Timestamp struct {
	time.Time
}

// At wraps t truncated to the second.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Second)}
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(TimestampLayout))
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string in ISO 8601 format (YYYY-MM-DDTHH:MM:SSZ)")
	}
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return fmt.Errorf("timestamp must follow ISO 8601 format YYYY-MM-DDTHH:MM:SSZ")
	}
	ts.Time = t
	return nil
}
