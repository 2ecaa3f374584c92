package schema

import (
	"sync"
	"testing"
	"time"
)

func TestPlaceholderGenerator_MonotonicAndNegative(t *testing.T) {
	frozen := time.UnixMilli(1_714_550_400_000)
	gen := NewPlaceholderGenerator(func() time.Time { return frozen })

	prev := EntryID(0)
	for i := 0; i < 10_000; i++ {
		id := gen.Next()
		if !id.IsPlaceholder() {
			t.Fatalf("Next() = %d, want negative", id)
		}
		if prev != 0 && id >= prev {
			t.Fatalf("Next() = %d not below previous %d", id, prev)
		}
		prev = id
	}
}

func TestPlaceholderGenerator_ClockSteppingBack(t *testing.T) {
	now := time.UnixMilli(2_000_000)
	gen := NewPlaceholderGenerator(func() time.Time { return now })

	first := gen.Next()
	now = now.Add(-time.Hour)
	second := gen.Next()
	if second >= first {
		t.Errorf("identifier reused or increased after clock step: %d then %d", first, second)
	}
}

func TestPlaceholderGenerator_Observe(t *testing.T) {
	gen := NewPlaceholderGenerator(func() time.Time { return time.UnixMilli(1) })

	existing := EntryID(-1 << 40)
	gen.Observe(existing)
	gen.Observe(12) // server ids are ignored

	if id := gen.Next(); id >= existing {
		t.Errorf("Next() = %d, want below observed %d", id, existing)
	}
}

func TestPlaceholderGenerator_Concurrent(t *testing.T) {
	gen := NewPlaceholderGenerator(nil)

	var mu sync.Mutex
	seen := make(map[EntryID]bool)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := gen.Next()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate placeholder %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestEntryID_StringRoundTrip(t *testing.T) {
	for _, id := range []EntryID{1, 42, -1, -123456789} {
		parsed, err := ParseEntryID(id.String())
		if err != nil {
			t.Fatalf("ParseEntryID(%q): %v", id.String(), err)
		}
		if parsed != id {
			t.Errorf("ParseEntryID(%q) = %d, want %d", id.String(), parsed, id)
		}
	}
	if got := EntryID(-5).String(); got != "local-5" {
		t.Errorf("placeholder String() = %q", got)
	}
}

func TestParseEntryID(t *testing.T) {
	tests := []struct {
		in      string
		want    EntryID
		wantErr bool
	}{
		{"42", 42, false},
		{"local-7", -7, false},
		{"-7", -7, false},
		{"local5", 0, true},
		{"local+5", 0, true},
		{"local0", 0, true},
		{"local-0", 0, true},
		{"local", 0, true},
		{"local--5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEntryID(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEntryID(%q) = %d, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEntryID(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseEntryID(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
