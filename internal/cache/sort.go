package cache

import (
	"sort"

	"github.com/macrolog/macrolog/internal/schema"
)

// SortNewestFirst orders entries the way ListByDate returns them.
func SortNewestFirst(entries []schema.FoodEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// SortOldestFirst orders entries the way ListPending returns them.
func SortOldestFirst(entries []schema.FoodEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		// Placeholders grow more negative over time, so the older of two
		// pending rows has the larger identifier.
		return a.ID > b.ID
	})
}
