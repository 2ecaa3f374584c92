package schema

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid entry")

// MaxNameLength bounds the food name.
const MaxNameLength = 200

// SyncState records whether the remote service has accepted an entry.
type SyncState string

const (
	// StateConfirmed means the identifier and values are authoritative per
	// the remote service.
	StateConfirmed SyncState = "confirmed"

	// StatePending means the entry was written locally and still has to be
	// created remotely.
	StatePending SyncState = "pending"
)

// Valid reports whether s is a known state.
func (s SyncState) Valid() bool {
	return s == StateConfirmed || s == StatePending
}

// Draft is the user-supplied content of a new entry.
type Draft struct {
	Name        string  `json:"food_name"`
	Calories    float64 `json:"calories"`
	Protein     float64 `json:"protein"`
	Carbs       float64 `json:"carbs"`
	Fats        float64 `json:"fats"`
	ServingSize string  `json:"serving_size,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	EntryDate   Date    `json:"entry_date"`
}

// SetDefaults fills the entry date with the date of now when unset.
func (d *Draft) SetDefaults(now time.Time) {
	if d.EntryDate.IsZero() {
		d.EntryDate = DateOf(now)
	}
}

// Validate checks the draft content.
func (d *Draft) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: food name is required", ErrInvalid)
	}
	if len(d.Name) > MaxNameLength {
		return fmt.Errorf("%w: food name must be %d characters or less (got %d)", ErrInvalid, MaxNameLength, len(d.Name))
	}
	for _, m := range []struct {
		name  string
		value float64
	}{
		{"calories", d.Calories},
		{"protein", d.Protein},
		{"carbs", d.Carbs},
		{"fats", d.Fats},
	} {
		if math.IsNaN(m.value) || math.IsInf(m.value, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalid, m.name)
		}
		if m.value < 0 {
			return fmt.Errorf("%w: %s must not be negative (got %g)", ErrInvalid, m.name, m.value)
		}
	}
	if d.EntryDate.IsZero() {
		return fmt.Errorf("%w: entry date is required", ErrInvalid)
	}
	return nil
}

// Totals returns the draft's macros.
func (d *Draft) Totals() MacroTotals {
	return MacroTotals{Calories: d.Calories, Protein: d.Protein, Carbs: d.Carbs, Fats: d.Fats}
}

// FoodEntry is a logged food item, either confirmed by the remote service or
// pending local creation.
type FoodEntry struct {
	ID          EntryID   `json:"id"`
	Name        string    `json:"food_name"`
	Calories    float64   `json:"calories"`
	Protein     float64   `json:"protein"`
	Carbs       float64   `json:"carbs"`
	Fats        float64   `json:"fats"`
	ServingSize string    `json:"serving_size,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	EntryDate   Date      `json:"entry_date"`
	CreatedAt   time.Time `json:"created_at"`

	// Local bookkeeping. Pending rows always carry the ClientRef that is
	// sent as the idempotency key on every create attempt.
	State     SyncState `json:"sync_state,omitempty"`
	ClientRef string    `json:"client_ref,omitempty"`
}

// NewPending builds a pending entry from a draft.
func NewPending(id EntryID, d Draft, createdAt time.Time, clientRef string) FoodEntry {
	return FoodEntry{
		ID:          id,
		Name:        d.Name,
		Calories:    d.Calories,
		Protein:     d.Protein,
		Carbs:       d.Carbs,
		Fats:        d.Fats,
		ServingSize: d.ServingSize,
		ImageURL:    d.ImageURL,
		EntryDate:   d.EntryDate,
		CreatedAt:   createdAt.UTC(),
		State:       StatePending,
		ClientRef:   clientRef,
	}
}

// Draft returns the entry's content without its identity, for resubmission.
func (e *FoodEntry) Draft() Draft {
	return Draft{
		Name:        e.Name,
		Calories:    e.Calories,
		Protein:     e.Protein,
		Carbs:       e.Carbs,
		Fats:        e.Fats,
		ServingSize: e.ServingSize,
		ImageURL:    e.ImageURL,
		EntryDate:   e.EntryDate,
	}
}

// Totals returns the entry's macros.
func (e *FoodEntry) Totals() MacroTotals {
	return MacroTotals{Calories: e.Calories, Protein: e.Protein, Carbs: e.Carbs, Fats: e.Fats}
}

// IsPending reports whether the entry awaits remote creation.
func (e *FoodEntry) IsPending() bool {
	return e.State == StatePending
}

// Validate checks content, identity and the state/identifier pairing.
func (e *FoodEntry) Validate() error {
	d := e.Draft()
	if err := d.Validate(); err != nil {
		return err
	}
	if e.ID == 0 {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if !e.State.Valid() {
		return fmt.Errorf("%w: unknown sync state %q", ErrInvalid, e.State)
	}
	if e.State == StateConfirmed && !e.ID.IsConfirmed() {
		return fmt.Errorf("%w: confirmed entry has placeholder id %s", ErrInvalid, e.ID)
	}
	if e.State == StatePending && !e.ID.IsPlaceholder() {
		return fmt.Errorf("%w: pending entry has server id %s", ErrInvalid, e.ID)
	}
	if e.State == StatePending && e.ClientRef == "" {
		return fmt.Errorf("%w: pending entry %s has no client reference", ErrInvalid, e.ID)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalid)
	}
	return nil
}

// Confirmed returns a copy of e marked confirmed, as received from the
// remote service.
func (e FoodEntry) Confirmed() FoodEntry {
	e.State = StateConfirmed
	e.ClientRef = ""
	return e
}
