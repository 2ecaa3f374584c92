package remote

import (
	"fmt"
	"strings"
	"time"

	"github.com/macrolog/macrolog/internal/schema"
)

// entryWire is an entry as the service sends it. created_at may come with
// or without a zone; a missing zone means UTC.
type entryWire struct {
	ID          schema.EntryID `json:"id"`
	Name        string         `json:"food_name"`
	Calories    float64        `json:"calories"`
	Protein     float64        `json:"protein"`
	Carbs       float64        `json:"carbs"`
	Fats        float64        `json:"fats"`
	ServingSize *string        `json:"serving_size"`
	ImageURL    *string        `json:"image_url"`
	EntryDate   schema.Date    `json:"entry_date"`
	CreatedAt   string         `json:"created_at"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// entry converts the wire form to a confirmed entry and checks it.
func (w entryWire) entry() (schema.FoodEntry, error) {
	created, err := parseTimestamp(w.CreatedAt)
	if err != nil {
		return schema.FoodEntry{}, err
	}
	e := schema.FoodEntry{
		ID:        w.ID,
		Name:      w.Name,
		Calories:  w.Calories,
		Protein:   w.Protein,
		Carbs:     w.Carbs,
		Fats:      w.Fats,
		EntryDate: w.EntryDate,
		CreatedAt: created,
		State:     schema.StateConfirmed,
	}
	if w.ServingSize != nil {
		e.ServingSize = *w.ServingSize
	}
	if w.ImageURL != nil {
		e.ImageURL = *w.ImageURL
	}
	if err := e.Validate(); err != nil {
		return schema.FoodEntry{}, err
	}
	return e, nil
}

// errorBody is the service's error envelope.
type errorBody struct {
	Detail  interface{} `json:"detail"`
	Message string      `json:"message"`
	Error   string      `json:"error"`
}

func (b errorBody) text() string {
	switch d := b.Detail.(type) {
	case string:
		return d
	case nil:
	default:
		return fmt.Sprint(d)
	}
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}
