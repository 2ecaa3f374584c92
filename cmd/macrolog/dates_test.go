package main

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty is today", input: "", want: "2024-05-10"},
		{name: "iso date", input: "2024-05-01", want: "2024-05-01"},
		{name: "surrounding space", input: "  2024-05-01 ", want: "2024-05-01"},
		{name: "yesterday", input: "yesterday", want: "2024-05-09"},
		{name: "tomorrow", input: "tomorrow", want: "2024-05-11"},
		{name: "gibberish", input: "not a date", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate(tt.input, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseDate(%q) = %s, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDate(%q) error: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("parseDate(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDateUsesLocationOfNow(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// 20:00 UTC on the 9th is already the 10th at UTC+10.
	now := time.Date(2024, 5, 9, 20, 0, 0, 0, time.UTC).In(loc)

	got, err := parseDate("", now)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "2024-05-10" {
		t.Errorf("parseDate = %s, want 2024-05-10", got)
	}
}
