package types

import (
	"time"
	"unicode/utf8"
)

// Text bounds enforced by the popup before anything is sent.
const (
	MinTextLen = 10
	MaxTextLen = 100000
)

// Settings is the persisted extension configuration.
type Settings struct {
	APIKey string
}

// HasKey reports whether an API key is configured.
func (s Settings) HasKey() bool {
	return s.APIKey != ""
}

// Compression is the requested summary density. The zero value means the
// caller did not pick one.
type Compression string

const (
	CompressionBrief    Compression = "brief"
	CompressionRegular  Compression = "regular"
	CompressionDetailed Compression = "detailed"
)

// Compressions lists the selectable levels in UI order.
var Compressions = []Compression{CompressionBrief, CompressionRegular, CompressionDetailed}

// Classification tags a failed summarization.
type Classification string

const (
	ClassValidation        Classification = "validation"
	ClassInvalidKey        Classification = "invalid_key"
	ClassRateLimited       Classification = "rate_limited"
	ClassBlockedContent    Classification = "blocked_content"
	ClassMalformedResponse Classification = "malformed_response"
	ClassNetwork           Classification = "network"
	ClassUnknown           Classification = "unknown"
)

// Request is a single summarization job.
type Request struct {
	Text        string
	Compression Compression
	APIKey      string
}

// Result is either a summary or a classified failure.
type Result struct {
	Summary        string
	Message        string
	Classification Classification
}

// Success wraps a cleaned summary.
func Success(summary string) Result {
	return Result{Summary: summary}
}

// Failure builds a failed result.
func Failure(class Classification, message string) Result {
	return Result{Message: message, Classification: class}
}

// Failed reports whether r is a failure.
func (r Result) Failed() bool {
	return r.Classification != ""
}

// TextLen counts characters the way the length bounds are defined.
func TextLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Tab is a browser tab as seen from a Firefox session file.
type Tab struct {
	BrowserID    int // live browser tab id; 0 when read from a session file
	URL          string
	Title        string
	LastAccessed time.Time
	WindowIndex  int
	TabIndex     int
}

// Profile represents a Firefox profile.
type Profile struct {
	Name      string
	Path      string // absolute path to profile directory
	IsDefault bool
}

// SessionData holds the tabs parsed from a Firefox session.
type SessionData struct {
	AllTabs  []*Tab
	Profile  Profile
	ParsedAt time.Time
}
