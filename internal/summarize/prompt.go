package summarize

import (
	"strings"

	"github.com/lotas/kurzfassung/internal/types"
)

const (
	briefInstruction    = "Summarize the following text to 25% of its original length. Keep only the most essential information"
	regularInstruction  = "Summarize the following text to 50% of its original length. Maintain key points and important details"
	detailedInstruction = "Summarize the following text to 75% of its original length. Preserve most details while making it more concise"
	genericInstruction  = "Create a clear and concise summary of the following text, maintaining all important information"
)

// BuildPrompt returns the instruction for level followed by the literal text.
// Unknown levels use the regular template; an empty level has no length target.
func BuildPrompt(text string, level types.Compression) string {
	return instruction(level) + ":\n\n" + text
}

func instruction(level types.Compression) string {
	switch level {
	case "":
		return genericInstruction
	case types.CompressionBrief:
		return briefInstruction
	case types.CompressionDetailed:
		return detailedInstruction
	default:
		return regularInstruction
	}
}

var markupStripper = strings.NewReplacer("*", "", "#", "")

// CleanSummary removes markdown emphasis and heading marks.
func CleanSummary(s string) string {
	return strings.TrimSpace(markupStripper.Replace(s))
}
