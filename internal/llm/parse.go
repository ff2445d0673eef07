package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// stripMarkdownFence removes a wrapping ```json ... ``` or ``` ... ``` code
// block, if present, the way a model commonly wraps a JSON reply.
func stripMarkdownFence(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.Index(text, "```"); idx != -1 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.Index(text, "```"); idx != -1 {
			text = text[:idx]
		}
	}

	return strings.TrimSpace(text)
}

var scoreFallbackPattern = regexp.MustCompile(`(?i)score\s*:\s*(\d+)`)

// EvaluationVerdict is the shape asked of the llm_evaluation test handler.
type EvaluationVerdict struct {
	Score       float64  `json:"score"`
	Reasoning   string   `json:"reasoning"`
	Strengths   []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	ParseError  string   `json:"parseError,omitempty"`
}

// ParseEvaluationVerdict applies the layered fallback required of every
// model-backed scorer: strict JSON after stripping markdown fences, then a
// regex scan for "score: N", then a default of 50. It never errors — a
// malformed model reply degrades to a verdict instead of aborting the wave.
func ParseEvaluationVerdict(raw string) EvaluationVerdict {
	stripped := stripMarkdownFence(raw)

	var verdict EvaluationVerdict
	if err := json.Unmarshal([]byte(stripped), &verdict); err == nil {
		verdict.Score = clamp(verdict.Score, 0, 100)
		return verdict
	}

	if m := scoreFallbackPattern.FindStringSubmatch(stripped); m != nil {
		if n, err := strconv.ParseFloat(m[1], 64); err == nil {
			return EvaluationVerdict{
				Score:      clamp(n, 0, 100),
				Reasoning:  stripped,
				ParseError: "strict JSON parse failed; recovered score via regex fallback",
			}
		}
	}

	return EvaluationVerdict{
		Score:      50,
		Reasoning:  stripped,
		ParseError: "could not parse model response; defaulted to neutral score",
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
