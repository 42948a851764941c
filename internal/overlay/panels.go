package overlay

import (
	"fmt"

	"golang.org/x/net/html"
)

// Element ids injected into the page.
const (
	ButtonID = "ai-quick-summarize-btn"
	ResultID = "ai-summary-notification"
	ErrorID  = "ai-summary-error"
)

// Click targets reported by the page.
const (
	TargetButton  = "button"
	TargetClose   = "close"
	TargetOutside = "outside"
)

const (
	previewLen  = 120
	buttonWidth = 130
	fontStack   = "-apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif"
	topZ        = "2147483647"
)

func action(target string) html.Attribute {
	return html.Attribute{Key: "data-action", Val: target}
}

func buttonElement(left, top float64) *Element {
	return &Element{
		Tag: "button",
		ID:  ButtonID,
		Style: Style{
			{"position", "absolute"},
			{"top", px(top)},
			{"left", px(left)},
			{"z-index", topZ},
			{"background", "linear-gradient(135deg, #667eea 0%, #764ba2 100%)"},
			{"color", "white"},
			{"border", "none"},
			{"padding", "8px 16px"},
			{"border-radius", "20px"},
			{"font-size", "12px"},
			{"font-weight", "600"},
			{"cursor", "pointer"},
			{"box-shadow", "0 4px 16px rgba(102, 126, 234, 0.3)"},
			{"font-family", fontStack},
			{"user-select", "none"},
		},
		Attrs: []html.Attribute{action(TargetButton)},
		Text:  "🤖 Summarize",
	}
}

// processing returns the disabled variant of a button element.
func processing(btn *Element) *Element {
	out := *btn
	out.Style = btn.Style.With("background", "#9e9e9e").With("cursor", "default")
	out.Attrs = append([]html.Attribute{{Key: "disabled", Val: ""}}, btn.Attrs...)
	out.Text = "⏳ Processing..."
	return &out
}

func resultElement(summary, original string) *Element {
	header := &Element{
		Tag: "div",
		Style: Style{
			{"display", "flex"},
			{"justify-content", "space-between"},
			{"align-items", "center"},
			{"margin-bottom", "16px"},
			{"border-bottom", "1px solid #f0f0f0"},
			{"padding-bottom", "12px"},
		},
		Children: []*Element{
			{
				Tag:   "div",
				Style: Style{{"display", "flex"}, {"align-items", "center"}, {"gap", "8px"}},
				Children: []*Element{
					{Tag: "span", Style: Style{{"font-size", "18px"}}, Text: "🤖"},
					{Tag: "strong", Style: Style{{"color", "#667eea"}, {"font-size", "16px"}, {"font-weight", "600"}}, Text: "AI Summary"},
				},
			},
			{
				Tag: "button",
				Style: Style{
					{"background", "none"},
					{"border", "none"},
					{"font-size", "18px"},
					{"cursor", "pointer"},
					{"color", "#999"},
					{"width", "28px"},
					{"height", "28px"},
					{"border-radius", "50%"},
				},
				Attrs: []html.Attribute{action(TargetClose)},
				Text:  "×",
			},
		},
	}

	body := &Element{
		Tag:      "div",
		Style:    Style{{"max-height", "240px"}, {"overflow-y", "auto"}, {"margin-bottom", "16px"}, {"color", "#333"}, {"padding-right", "8px"}},
		Children: Lines(summary),
	}

	orig := &Element{
		Tag:   "div",
		Style: Style{{"font-size", "12px"}, {"color", "#666"}, {"background", "#f8f9fa"}, {"padding", "12px"}, {"border-radius", "8px"}},
		Children: []*Element{
			{Tag: "strong", Text: "Original:"},
			TextNode(" " + Preview(original)),
		},
	}

	return &Element{
		Tag: "div",
		ID:  ResultID,
		Style: Style{
			{"position", "fixed"},
			{"top", "20px"},
			{"right", "20px"},
			{"max-width", "420px"},
			{"background", "white"},
			{"border", "2px solid #667eea"},
			{"border-radius", "16px"},
			{"padding", "24px"},
			{"box-shadow", "0 12px 40px rgba(0,0,0,0.15)"},
			{"z-index", topZ},
			{"font-family", fontStack},
			{"font-size", "14px"},
			{"line-height", "1.6"},
		},
		Children: []*Element{header, body, orig},
	}
}

func errorElement(message string) *Element {
	return &Element{
		Tag: "div",
		ID:  ErrorID,
		Style: Style{
			{"position", "fixed"},
			{"top", "20px"},
			{"right", "20px"},
			{"max-width", "380px"},
			{"background", "#f8d7da"},
			{"color", "#721c24"},
			{"border", "1px solid #f5c6cb"},
			{"border-radius", "12px"},
			{"padding", "16px"},
			{"z-index", topZ},
			{"font-family", fontStack},
			{"font-size", "14px"},
			{"box-shadow", "0 8px 24px rgba(0,0,0,0.1)"},
		},
		Children: []*Element{{
			Tag:   "div",
			Style: Style{{"display", "flex"}, {"align-items", "center"}, {"gap", "8px"}},
			Children: []*Element{
				{Tag: "span", Style: Style{{"font-size", "16px"}}, Text: "❌"},
				{Tag: "strong", Text: "Error:"},
				TextNode(" " + message),
			},
		}},
	}
}

// Preview cuts s to the first 120 characters, adding "..." when it was
// longer.
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}

// ButtonPosition places the quick button just below the selection, kept
// inside the viewport horizontally.
func ButtonPosition(sel Selection) (left, top float64) {
	left = min(sel.Rect.Right+sel.ScrollX, sel.ViewportWidth-buttonWidth)
	top = sel.Rect.Bottom + sel.ScrollY + 8
	return left, top
}

func px(v float64) string {
	return fmt.Sprintf("%gpx", v)
}
