package recognize

import (
	"strings"

	"github.com/macrolog/macrolog/internal/schema"
)

// perServing holds typical macros for one serving of common foods.
var perServing = map[string]schema.MacroTotals{
	"apple":          {Calories: 95, Protein: 0.5, Carbs: 25, Fats: 0.3},
	"banana":         {Calories: 105, Protein: 1.3, Carbs: 27, Fats: 0.4},
	"chicken breast": {Calories: 165, Protein: 31, Carbs: 0, Fats: 3.6},
	"rice":           {Calories: 130, Protein: 2.7, Carbs: 28, Fats: 0.3},
	"bread":          {Calories: 79, Protein: 3, Carbs: 15, Fats: 1},
	"egg":            {Calories: 70, Protein: 6, Carbs: 0.6, Fats: 5},
	"salmon":         {Calories: 206, Protein: 22, Carbs: 0, Fats: 12},
	"broccoli":       {Calories: 55, Protein: 3.7, Carbs: 11, Fats: 0.6},
	"pasta":          {Calories: 131, Protein: 5, Carbs: 25, Fats: 1.1},
}

// genericServing is used for foods not in the table.
var genericServing = schema.MacroTotals{Calories: 100, Protein: 5, Carbs: 15, Fats: 2}

// Estimate returns typical macros for one serving of name. The bool is false
// when name matched nothing and a generic serving was returned.
func Estimate(name string) (schema.MacroTotals, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return genericServing, false
	}
	if m, ok := perServing[name]; ok {
		return m, true
	}
	// The longest matching key wins; ties go to the alphabetically first.
	best := ""
	for food := range perServing {
		if !strings.Contains(name, food) && !strings.Contains(food, name) {
			continue
		}
		if len(food) > len(best) || (len(food) == len(best) && food < best) {
			best = food
		}
	}
	if best == "" {
		return genericServing, false
	}
	return perServing[best], true
}
