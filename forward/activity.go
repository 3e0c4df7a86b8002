package forward

import (
	"encoding/json"
	"fmt"
)

// Activity is the summary form of an upstream activity. Strings the
// upstream left out are encoded as null.
type Activity struct {
	ID          int64     `json:"id"`
	Name        *string   `json:"name"`
	Type        *string   `json:"type"`
	Distance    float64   `json:"distance"`
	MovingTime  int64     `json:"moving_time"`
	StartDate   *string   `json:"start_date"`
	StartLatLng []float64 `json:"start_latlng,omitempty"`
}

type rawActivity struct {
	ID          int64     `json:"id"`
	Name        *string   `json:"name"`
	Type        *string   `json:"type"`
	Distance    float64   `json:"distance"`
	MovingTime  int64     `json:"moving_time"`
	StartDate   *string   `json:"start_date"`
	StartLatLng []float64 `json:"start_latlng"`
}

// MapActivities reduces an upstream activity array to []Activity. Any
// other JSON value yields an empty array.
func MapActivities(body json.RawMessage) (json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		var probe any
		if json.Unmarshal(body, &probe) == nil {
			return json.RawMessage("[]"), nil
		}
		return nil, fmt.Errorf("failed to parse activity list: %w", err)
	}

	out := make([]Activity, 0, len(items))
	for i, item := range items {
		var a rawActivity
		if err := json.Unmarshal(item, &a); err != nil {
			return nil, fmt.Errorf("failed to parse activity %d: %w", i, err)
		}

		act := Activity{
			ID:         a.ID,
			Name:       a.Name,
			Type:       a.Type,
			Distance:   a.Distance,
			MovingTime: a.MovingTime,
			StartDate:  a.StartDate,
		}
		if len(a.StartLatLng) >= 2 {
			act.StartLatLng = []float64{a.StartLatLng[0], a.StartLatLng[1]}
		}
		out = append(out, act)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode activities: %w", err)
	}
	return data, nil
}
