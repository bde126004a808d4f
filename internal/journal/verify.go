package journal

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Verify checks the hash chain of the journal at path. It returns nil for a
// valid or empty journal, or an error describing the first violation.
func Verify(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	expectedPrev := genesisHash()
	var prevSeq uint64
	for i, line := range splitLines(data) {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("line %d: invalid JSON: %w", i+1, err)
		}
		if e.Seq != prevSeq+1 {
			return fmt.Errorf("line %d: sequence gap: expected %d, got %d", i+1, prevSeq+1, e.Seq)
		}
		if e.PrevHash != expectedPrev {
			return fmt.Errorf("line %d: prev_hash mismatch: expected %s, got %s", i+1, short(expectedPrev), short(e.PrevHash))
		}
		if computed := computeHash(e); e.Hash != computed {
			return fmt.Errorf("line %d: hash mismatch: expected %s, got %s", i+1, short(computed), short(e.Hash))
		}
		expectedPrev = e.Hash
		prevSeq = e.Seq
	}
	return nil
}

// Tail returns the last n entries of the journal. Unreadable lines are
// skipped.
func Tail(fs afero.Fs, path string, n int) ([]Entry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	lines := splitLines(data)
	if n < 0 || n > len(lines) {
		n = len(lines)
	}
	entries := make([]Entry, 0, n)
	for _, line := range lines[len(lines)-n:] {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Write renders entries one per line for the journal tail command.
func Write(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		bg := ""
		if e.Background {
			bg = fmt.Sprintf(" [%d]", e.JobSlot)
		}
		msg := ""
		if e.Error != "" {
			msg = " (" + e.Error + ")"
		}
		if _, err := fmt.Fprintf(w, "%d %s %3d%s %s%s\n",
			e.Seq, e.Time.Format("2006-01-02T15:04:05Z"), e.ExitCode, bg, e.Line, msg); err != nil {
			return err
		}
	}
	return nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
