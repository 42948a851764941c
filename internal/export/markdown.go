package export

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lotas/kurzfassung/internal/types"
)

// Summary is a finished summarization ready to be written out.
type Summary struct {
	Title       string
	Source      string // page URL; empty for pasted text
	Compression types.Compression
	Summary     string
	Original    string
	CreatedAt   time.Time
}

// Markdown formats s as a markdown document.
func Markdown(s Summary) string {
	var b strings.Builder

	title := s.Title
	if title == "" {
		title = s.Source
	}
	if title == "" {
		title = "Summary"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if s.Source != "" {
		fmt.Fprintf(&b, "**Source:** %s\n", s.Source)
	}
	fmt.Fprintf(&b, "**Summarized:** %s\n", s.CreatedAt.Format("2006-01-02 15:04"))
	if s.Compression != "" {
		fmt.Fprintf(&b, "**Level:** %s\n", s.Compression)
	}
	fmt.Fprintf(&b, "**Original length:** %d characters\n", types.TextLen(s.Original))

	fmt.Fprintf(&b, "\n## Summary\n\n%s\n", strings.TrimSpace(s.Summary))
	return b.String()
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeFilename converts a page title into a safe filename (without extension).
func sanitizeFilename(title string) string {
	s := strings.TrimSpace(strings.ToLower(title))
	if s == "" {
		return "untitled"
	}
	s = nonAlphanumeric.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
		s = strings.TrimRight(s, "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// SummaryPath returns the file path for a page summary, organized by domain
// subfolder. ext includes the dot.
func SummaryPath(outDir, rawURL, title, ext string) string {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
		host = nonAlphanumeric.ReplaceAllString(host, "-")
		host = strings.Trim(host, "-")
		if host == "" {
			host = "unknown"
		}
	}
	return filepath.Join(outDir, host, sanitizeFilename(title)+ext)
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
