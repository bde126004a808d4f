package journal

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const genesisInput = "pipesh-genesis"

// Journal is an append-only, hash-chained log of executed lines.
type Journal struct {
	mu       sync.Mutex
	fs       afero.Fs
	path     string
	seq      uint64
	prevHash string
	now      func() time.Time
}

// Open opens or creates a journal at path on fs. It reads the last entry to
// resume the hash chain.
func Open(fs afero.Fs, path string) (*Journal, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	j := &Journal{
		fs:       fs,
		path:     path,
		prevHash: genesisHash(),
		now:      time.Now,
	}

	if data, err := afero.ReadFile(fs, path); err == nil {
		if lines := splitLines(data); len(lines) > 0 {
			var last Entry
			if err := json.Unmarshal(lines[len(lines)-1], &last); err != nil {
				return nil, fmt.Errorf("journal %s: last entry unreadable: %w", path, err)
			}
			j.seq = last.Seq
			j.prevHash = last.Hash
		}
	}
	return j, nil
}

// Log appends rec to the journal.
func (j *Journal) Log(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e := Entry{
		Seq:          j.seq + 1,
		Time:         j.now().UTC(),
		PrevHash:     j.prevHash,
		Line:         rec.Line,
		Stages:       rec.Stages,
		Statuses:     rec.Statuses,
		ExitCode:     rec.ExitCode,
		Background:   rec.Background,
		JobSlot:      rec.JobSlot,
		LaunchFailed: rec.LaunchFailed,
		Duration:     float64(rec.Duration.Microseconds()) / 1000.0,
		Cwd:          rec.Cwd,
	}
	if rec.Err != nil {
		e.Error = rec.Err.Error()
	}
	e.Hash = computeHash(e)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	f, err := j.fs.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}

	j.seq = e.Seq
	j.prevHash = e.Hash
	return nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

func genesisHash() string {
	h := sha256.Sum256([]byte(genesisInput))
	return fmt.Sprintf("%x", h)
}

func computeHash(e Entry) string {
	e.Hash = ""
	data, _ := json.Marshal(e)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
