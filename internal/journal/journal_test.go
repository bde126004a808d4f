package journal

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/afero"
)

const testPath = "/var/pipesh/journal.jsonl"

func record(line string, code int) Record {
	return Record{
		Line:     line,
		Stages:   []string{"grep", "head"},
		Statuses: []int{0, code},
		ExitCode: code,
		Duration: 1500 * time.Microsecond,
		Cwd:      "/tmp",
	}
}

func openTest(t *testing.T, fs afero.Fs) *Journal {
	t.Helper()
	j, err := Open(fs, testPath)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestLogAndVerify(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := openTest(t, fs)

	for i := 0; i < 5; i++ {
		if err := j.Log(record("grep x f | head", i%2)); err != nil {
			t.Fatalf("log entry %d: %v", i, err)
		}
	}
	if err := Verify(fs, testPath); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestLogCreatesDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := openTest(t, fs)
	if err := j.Log(record("true", 0)); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.DirExists(fs, filepath.Dir(testPath)); !ok {
		t.Error("journal directory not created")
	}
	if j.Path() != testPath {
		t.Errorf("expected path %s, got %s", testPath, j.Path())
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := openTest(t, fs)
	for _, line := range []string{"ls", "rm -rf build", "make"} {
		_ = j.Log(record(line, 0))
	}

	data, err := afero.ReadFile(fs, testPath)
	if err != nil {
		t.Fatal(err)
	}
	data = bytes.Replace(data, []byte("rm -rf build"), []byte("rm -rf built"), 1)
	if err := afero.WriteFile(fs, testPath, data, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(fs, testPath); err == nil {
		t.Fatal("expected verify to detect tampering")
	}
}

func TestVerifyDetectsSequenceGap(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := openTest(t, fs)
	for i := 0; i < 5; i++ {
		_ = j.Log(record("cat", 0))
	}

	data, _ := afero.ReadFile(fs, testPath)
	lines := splitLines(data)
	remaining := append(lines[:2], lines[3:]...)
	var out []byte
	for _, line := range remaining {
		out = append(out, line...)
		out = append(out, '\n')
	}
	if err := afero.WriteFile(fs, testPath, out, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(fs, testPath); err == nil {
		t.Fatal("expected verify to detect sequence gap")
	}
}

func TestVerifyEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, testPath, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if err := Verify(fs, testPath); err != nil {
		t.Fatalf("empty journal should be valid: %v", err)
	}
}

func TestResumesChain(t *testing.T) {
	fs := afero.NewMemMapFs()
	j1 := openTest(t, fs)
	_ = j1.Log(record("first", 0))
	_ = j1.Log(record("second", 0))

	j2 := openTest(t, fs)
	_ = j2.Log(record("third", 0))

	if err := Verify(fs, testPath); err != nil {
		t.Fatalf("chain should be valid after reopening: %v", err)
	}
	entries, err := Tail(fs, testPath, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[2].Seq != 3 || entries[2].Line != "third" {
		t.Errorf("unexpected last entry: %+v", entries[2])
	}
}

func TestOpenRejectsCorruptTail(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, testPath, []byte("{not json\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(fs, testPath); err == nil {
		t.Fatal("expected error for unreadable journal")
	}
}

func TestTailLimits(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := openTest(t, fs)
	for _, line := range []string{"a", "b", "c", "d"} {
		_ = j.Log(record(line, 0))
	}

	entries, err := Tail(fs, testPath, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Line != "c" || entries[1].Line != "d" {
		t.Errorf("unexpected tail: %+v", entries)
	}
	if _, err := Tail(fs, "/missing", 1); err == nil {
		t.Error("expected error for missing journal")
	}
}

func TestLogRecordsErrorAndBackground(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := openTest(t, fs)
	_ = j.Log(Record{Line: "sleep 5 &", Stages: []string{"sleep"}, Background: true, JobSlot: 2})
	_ = j.Log(Record{Line: "cat < nope", Stages: []string{"cat"}, ExitCode: 1, Err: errors.New("nope: no such file or directory")})

	entries, err := Tail(fs, testPath, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !entries[0].Background || entries[0].JobSlot != 2 {
		t.Errorf("background not recorded: %+v", entries[0])
	}
	if entries[1].Error != "nope: no such file or directory" {
		t.Errorf("error not recorded: %+v", entries[1])
	}
}

func TestWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := openTest(t, fs)
	j.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	_ = j.Log(record("grep -r TODO . | head", 0))
	_ = j.Log(Record{Line: "sleep 30 &", Stages: []string{"sleep"}, Background: true, JobSlot: 1})
	_ = j.Log(Record{Line: "cat < missing", Stages: []string{"cat"}, ExitCode: 1, Err: errors.New("missing: no such file or directory")})
	_ = j.Log(Record{Line: "nosuchcmd", Stages: []string{"nosuchcmd"}, ExitCode: 127, LaunchFailed: true})

	entries, err := Tail(fs, testPath, -1)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		t.Fatal(err)
	}
	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")))
	g.Assert(t, "tail", buf.Bytes())
}
