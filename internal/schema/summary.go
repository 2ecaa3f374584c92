package schema

import (
	"encoding/json"
)

// MacroTotals holds the four tracked macro values.
type MacroTotals struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
}

// Add returns t + o.
func (t MacroTotals) Add(o MacroTotals) MacroTotals {
	return MacroTotals{
		Calories: t.Calories + o.Calories,
		Protein:  t.Protein + o.Protein,
		Carbs:    t.Carbs + o.Carbs,
		Fats:     t.Fats + o.Fats,
	}
}

// Sum adds up the macros of every entry.
func Sum(entries []FoodEntry) MacroTotals {
	var t MacroTotals
	for i := range entries {
		t = t.Add(entries[i].Totals())
	}
	return t
}

// MacroGoals is the per-user daily target.
type MacroGoals struct {
	Calories float64 `json:"calorie_goal"`
	Protein  float64 `json:"protein_goal"`
	Carbs    float64 `json:"carb_goal"`
	Fats     float64 `json:"fat_goal"`
}

// DefaultGoals is used until the remote service has provided real goals.
func DefaultGoals() MacroGoals {
	return MacroGoals{Calories: 2000, Protein: 150, Carbs: 200, Fats: 65}
}

// IsZero reports whether no goal is set.
func (g MacroGoals) IsZero() bool {
	return g == MacroGoals{}
}

// SummarySource records where a summary came from.
type SummarySource string

const (
	SourceRemote SummarySource = "remote"
	SourceLocal  SummarySource = "local"
)

// MacroSummary pairs a day's totals with the goals in effect.
type MacroSummary struct {
	Date   Date
	Totals MacroTotals
	Goals  MacroGoals
	Source SummarySource
}

// Remaining returns goals minus totals. Values go negative when a goal is
// exceeded.
func (s MacroSummary) Remaining() MacroTotals {
	return MacroTotals{
		Calories: s.Goals.Calories - s.Totals.Calories,
		Protein:  s.Goals.Protein - s.Totals.Protein,
		Carbs:    s.Goals.Carbs - s.Totals.Carbs,
		Fats:     s.Goals.Fats - s.Totals.Fats,
	}
}

// summaryWire is the flat shape of /dashboard/summary.
type summaryWire struct {
	Date        Date          `json:"date"`
	Calories    float64       `json:"calories"`
	Protein     float64       `json:"protein"`
	Carbs       float64       `json:"carbs"`
	Fats        float64       `json:"fats"`
	CalorieGoal float64       `json:"calorie_goal"`
	ProteinGoal float64       `json:"protein_goal"`
	CarbGoal    float64       `json:"carb_goal"`
	FatGoal     float64       `json:"fat_goal"`
	Source      SummarySource `json:"source,omitempty"`
}

// MarshalJSON emits the flat remote shape.
func (s MacroSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(summaryWire{
		Date:        s.Date,
		Calories:    s.Totals.Calories,
		Protein:     s.Totals.Protein,
		Carbs:       s.Totals.Carbs,
		Fats:        s.Totals.Fats,
		CalorieGoal: s.Goals.Calories,
		ProteinGoal: s.Goals.Protein,
		CarbGoal:    s.Goals.Carbs,
		FatGoal:     s.Goals.Fats,
		Source:      s.Source,
	})
}

// UnmarshalJSON reads the flat remote shape.
func (s *MacroSummary) UnmarshalJSON(b []byte) error {
	var w summaryWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = MacroSummary{
		Date:   w.Date,
		Totals: MacroTotals{Calories: w.Calories, Protein: w.Protein, Carbs: w.Carbs, Fats: w.Fats},
		Goals:  MacroGoals{Calories: w.CalorieGoal, Protein: w.ProteinGoal, Carbs: w.CarbGoal, Fats: w.FatGoal},
		Source: w.Source,
	}
	return nil
}
