package adcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AwareTime is a timezone-aware datetime. Unmarshalling rejects values
// without an explicit UTC offset; the protocol does not admit naive
// datetimes anywhere.
type AwareTime struct {
	time.Time
}

// ParseAwareTime parses an RFC 3339 datetime, requiring an offset.
func ParseAwareTime(s string) (AwareTime, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return AwareTime{}, fmt.Errorf("datetime %q must be RFC 3339 with a timezone offset: %w", s, err)
	}
	return AwareTime{t}, nil
}

func (t *AwareTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("datetime must be a string: %w", err)
	}
	parsed, err := ParseAwareTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t AwareTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(time.RFC3339))
}

// StartTime is either a timezone-aware datetime or the literal "asap".
type StartTime struct {
	ASAP bool
	Time time.Time
}

func (s *StartTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("start_time must be a string: %w", err)
	}
	if strings.EqualFold(raw, "asap") {
		*s = StartTime{ASAP: true}
		return nil
	}
	t, err := ParseAwareTime(raw)
	if err != nil {
		return err
	}
	*s = StartTime{Time: t.Time}
	return nil
}

func (s StartTime) MarshalJSON() ([]byte, error) {
	if s.ASAP {
		return json.Marshal("asap")
	}
	return json.Marshal(s.Time.Format(time.RFC3339))
}

// Resolve returns the effective start instant: now for "asap", the declared
// time otherwise.
func (s StartTime) Resolve(now time.Time) time.Time {
	if s.ASAP {
		return now
	}
	return s.Time
}
