// Package schema defines the food log data model shared by the cache
// backends, the remote client and the sync engine.
//
// # Identifiers
//
// Entry identifiers live in two disjoint namespaces split on the sign bit:
//
//   - confirmed entries carry the positive integer assigned by the remote
//     service; it is globally unique and never changes
//   - pending entries carry a negative placeholder generated locally; it is
//     unique only inside the local cache and is never sent to the remote
//     service as a delete or update target
//
// Zero is never a valid identifier.
//
// # Wire format
//
// FoodEntry and MacroSummary marshal to the same JSON shapes the remote
// service uses, so a cached row and a fetched row are interchangeable:
//
//	{
//	  "id": 42,
//	  "food_name": "oatmeal",
//	  "calories": 300,
//	  "protein": 10,
//	  "carbs": 54,
//	  "fats": 5,
//	  "entry_date": "2024-05-01",
//	  "created_at": "2024-05-01T08:12:00Z"
//	}
//
// The sync_state and client_ref fields are local bookkeeping and are omitted
// from requests sent to the remote service.
package schema
