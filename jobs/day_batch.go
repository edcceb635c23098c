package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// DayBatch scopes a run to one calendar day.
type DayBatch struct {
	Day time.Time
}

func (b DayBatch) Encode() (string, error) {
	encoded, err := json.Marshal(struct {
		Day string `json:"day"`
	}{Day: b.Day.Format(dayLayout)})
	if err != nil {
		return "", fmt.Errorf("failed to encode a day batch: %w", err)
	}
	return string(encoded), nil
}

// Fields returns the payload representation of the batch.
func (b DayBatch) Fields() map[string]any {
	return map[string]any{"day": b.Day.Format(dayLayout)}
}

func (b DayBatch) Validate() error {
	if b.Day.IsZero() {
		return fmt.Errorf("a day batch requires a day")
	}
	if b.Day.After(time.Now()) {
		return fmt.Errorf("day %s is in the future", b.Day.Format(dayLayout))
	}
	return nil
}

// DayBatchFactory builds DayBatch values from payload fields, falling back
// to the current day when the payload names none.
type DayBatchFactory struct {
	Now func() time.Time
}

func (f DayBatchFactory) FromMap(fields map[string]any) (Batch, error) {
	raw, ok := fields["day"]
	if !ok {
		return DayBatch{Day: f.today()}, nil
	}

	str, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected the day to be a string, got %T", raw)
	}

	day, err := time.Parse(dayLayout, str)
	if err != nil {
		return nil, fmt.Errorf("failed to parse day %q: %w", str, err)
	}
	return DayBatch{Day: day}, nil
}

func (f DayBatchFactory) today() time.Time {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return now().UTC().Truncate(24 * time.Hour)
}
