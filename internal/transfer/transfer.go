// Package transfer moves entries in and out of macrolog as JSON Lines, one
// entry per line.
//
// Export writes entries exactly as listed, pending ones included. Import
// reads the same format but only keeps each line's content: identifiers and
// sync state are dropped and every line is added as a new entry.
package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/macrolog/macrolog/internal/schema"
)

// MaxDays bounds an export range.
const MaxDays = 366

// Fetcher lists the entries of a day. *sync.Engine implements it.
type Fetcher interface {
	FetchEntries(ctx context.Context, date schema.Date) ([]schema.FoodEntry, error)
}

// Adder adds one entry. *sync.Engine implements it.
type Adder interface {
	AddEntry(ctx context.Context, draft schema.Draft) (schema.FoodEntry, error)
}

// Export writes the entries of every day from from to to, inclusive, oldest
// day first, and returns the number written.
func Export(ctx context.Context, w io.Writer, src Fetcher, from, to schema.Date) (int, error) {
	if to.Before(from) {
		return 0, fmt.Errorf("export range ends (%s) before it starts (%s)", to, from)
	}
	if days := int(to.Time().Sub(from.Time()).Hours()/24) + 1; days > MaxDays {
		return 0, fmt.Errorf("export range of %d days exceeds %d", days, MaxDays)
	}

	enc := json.NewEncoder(w)
	written := 0
	for d := from; !to.Before(d); d = d.AddDays(1) {
		entries, err := src.FetchEntries(ctx, d)
		if err != nil {
			return written, fmt.Errorf("failed to list entries of %s: %w", d, err)
		}
		// Oldest first within a day so an import recreates creation order.
		for i := len(entries) - 1; i >= 0; i-- {
			if err := enc.Encode(entries[i]); err != nil {
				return written, fmt.Errorf("failed to write entry %s: %w", entries[i].ID, err)
			}
			written++
		}
	}
	return written, nil
}

// ExportFile is Export to path, replaced atomically.
func ExportFile(ctx context.Context, path string, src Fetcher, from, to schema.Date) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	bw := bufio.NewWriter(tmp)
	n, err := Export(ctx, bw, src, from, to)
	if err == nil {
		err = bw.Flush()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return n, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// ReadDrafts parses JSON Lines into drafts. Blank lines are skipped. Every
// draft is validated; the first invalid line fails the whole read.
func ReadDrafts(r io.Reader) ([]schema.Draft, error) {
	var drafts []schema.Draft
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d schema.Draft
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		drafts = append(drafts, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return drafts, nil
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	// Confirmed entries were accepted by the service.
	Confirmed int

	// Queued entries were saved locally and wait for a sync.
	Queued int

	// Errors lists the lines that could not be added at all.
	Errors []string
}

// Import adds every draft in order. A draft that is queued rather than
// confirmed still counts as imported. With dryRun nothing is added.
func Import(ctx context.Context, dst Adder, drafts []schema.Draft, dryRun bool) (*ImportResult, error) {
	result := &ImportResult{}
	if dryRun {
		return result, nil
	}
	for i, d := range drafts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		entry, err := dst.AddEntry(ctx, d)
		switch {
		case entry.ID == 0:
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d (%s): %v", i+1, d.Name, err))
		case entry.IsPending():
			result.Queued++
		default:
			result.Confirmed++
		}
	}
	if len(result.Errors) == len(drafts) && len(drafts) > 0 {
		return result, errors.New("no entry could be imported")
	}
	return result, nil
}
