package applog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestInfoWritesEvent(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("ws.connected", "remote", "127.0.0.1:5000")
	Error("ws.send", errors.New("broken pipe"), "action", "overlay.render")
	Close()

	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	for _, want := range []string{"ws.connected", "127.0.0.1:5000", "ws.send", "broken pipe", "overlay.render", "ERROR"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestNoopBeforeInit(t *testing.T) {
	Close()
	// Must not panic without a file.
	Info("noop", "k", "v")
	Error("noop", nil)
}

func TestRotatesLargeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	big := make([]byte, maxFileSize+1)
	if err := os.WriteFile(path, big, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected rotated file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > maxFileSize {
		t.Errorf("expected fresh log file, size=%d", info.Size())
	}
}

func TestClipTruncatesLongValues(t *testing.T) {
	long := strings.Repeat("x", maxValueLen+50)
	got := clip([]any{"text", long, "n", 3})
	s := got[1].(string)
	if !strings.HasSuffix(s, truncSuffix) || len(s) != maxValueLen+len(truncSuffix) {
		t.Errorf("unexpected clipped value length %d", len(s))
	}
	if got[3] != 3 {
		t.Errorf("non-string value changed: %v", got[3])
	}
}

func TestClipKeepsMultibyteValuesValid(t *testing.T) {
	// A two-byte rune straddles the byte offset maxValueLen.
	long := "a" + strings.Repeat("ü", maxValueLen)
	s := clip([]any{"text", long})[1].(string)
	if !utf8.ValidString(s) {
		t.Fatalf("clipped value is not valid UTF-8: %q", s[len(s)-8:])
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(s, truncSuffix)); n != maxValueLen {
		t.Errorf("clipped to %d runes, want %d", n, maxValueLen)
	}

	short := strings.Repeat("ü", maxValueLen)
	if got := clip([]any{"text", short})[1]; got != short {
		t.Error("value of exactly maxValueLen runes was clipped")
	}
}
