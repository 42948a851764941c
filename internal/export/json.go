package export

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/lotas/kurzfassung/internal/types"
)

type jsonExport struct {
	Title          string    `json:"title,omitempty"`
	Source         string    `json:"source,omitempty"`
	Domain         string    `json:"domain,omitempty"`
	Compression    string    `json:"compression,omitempty"`
	Summary        string    `json:"summary"`
	OriginalLength int       `json:"original_length"`
	SummaryLength  int       `json:"summary_length"`
	SummarizedAt   time.Time `json:"summarized_at"`
}

// JSON formats s as a JSON document.
func JSON(s Summary) (string, error) {
	out := jsonExport{
		Title:          s.Title,
		Source:         s.Source,
		Compression:    string(s.Compression),
		Summary:        s.Summary,
		OriginalLength: types.TextLen(s.Original),
		SummaryLength:  types.TextLen(s.Summary),
		SummarizedAt:   s.CreatedAt,
	}
	if s.Source != "" {
		out.Domain = extractDomain(s.Source)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}
