// Package interpret holds the pure text helpers of the pipeline: label
// normalization, prompt construction, cleanup of generated text and the
// postprocess summary. Nothing in here performs I/O.
package interpret

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// FallbackInterpretation is stored when generation is exhausted or produces
// nothing usable.
const FallbackInterpretation = "The image invites quiet reflection. Its symbols are open to many readings, " +
	"pointing toward a moment of calm attention to your inner world."

const (
	// AbstractStyle is requested when detection found nothing.
	AbstractStyle = "abstract"
	DefaultStyle  = "symbolic"
)

// Maximum stored interpretation size in bytes.
const maxInterpretationBytes = 2000

// Compiled once at package init.
var (
	reWhitespace   = regexp.MustCompile(`\s+`)
	reAnswerPrefix = regexp.MustCompile(`(?i)^\s*(answer|interpretation)\s*:\s*`)
	reSentence     = regexp.MustCompile(`[^.!?]*[.!?]+|[^.!?]+$`)
)

// DedupeLabels trims and lower-cases labels, drops empty ones and keeps the
// first occurrence of each. The result is never nil.
func DedupeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// BuildPrompt renders the generation prompt for a deduplicated label set.
func BuildPrompt(labels []string) string {
	if len(labels) == 0 {
		return "No clear objects were detected.\n" +
			"Write ONE short paragraph (2-4 sentences).\n" +
			"Do not repeat any instruction text.\n" +
			"Do not list multiple symbols.\n" +
			"Return only the interpretation."
	}
	return "Detected objects: " + strings.Join(labels, ", ") + ".\n" +
		"Interpret what these objects might symbolise psychologically (dream symbolism).\n" +
		"Answer in 2-4 short sentences.\n" +
		"Do NOT repeat the prompt. Do NOT add headings. Just the interpretation."
}

// StyleFor picks the generation style: abstract for an empty label set,
// otherwise defaultStyle (or DefaultStyle when that is blank).
func StyleFor(labels []string, defaultStyle string) string {
	if len(labels) == 0 {
		return AbstractStyle
	}
	if strings.TrimSpace(defaultStyle) == "" {
		return DefaultStyle
	}
	return defaultStyle
}

// Rules controls Clean.
type Rules struct {
	MaxSentences int
	MinLength    int // in runes, measured after cleanup
	StopMarkers  []string
}

// DefaultRules returns the cleanup rules used by the worker.
func DefaultRules() Rules {
	return Rules{
		MaxSentences: 4,
		MinLength:    20,
		StopMarkers:  []string{"Follow-up", "Solution:", "Question:", "###"},
	}
}

// Clean normalizes raw model output: it removes an echoed prompt and a leading
// "Answer:" label, cuts at the first stop marker and keeps at most
// r.MaxSentences sentences. ok is false when what remains is shorter than
// r.MinLength; callers substitute FallbackInterpretation in that case.
func Clean(raw, prompt string, r Rules) (text string, ok bool) {
	text = stripPrompt(raw, prompt)
	text = reAnswerPrefix.ReplaceAllString(text, "")
	text = cutAtMarkers(text, r.StopMarkers)
	text = strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
	if r.MaxSentences > 0 {
		text = limitSentences(text, r.MaxSentences)
	}
	text = truncateString(text, maxInterpretationBytes)
	return text, utf8.RuneCountInString(text) >= r.MinLength
}

func stripPrompt(raw, prompt string) string {
	text := strings.TrimSpace(raw)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return text
	}
	text = strings.ReplaceAll(text, prompt, "")
	// Models often echo the prompt one line at a time.
	for _, line := range strings.Split(prompt, "\n") {
		if line = strings.TrimSpace(line); len(line) > 3 {
			text = strings.ReplaceAll(text, line, "")
		}
	}
	return strings.TrimSpace(text)
}

func cutAtMarkers(text string, markers []string) string {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		// Lower-casing changed byte offsets; match case-sensitively.
		lower = text
	}
	cut := len(text)
	for _, m := range markers {
		if m == "" {
			continue
		}
		if i := strings.Index(lower, strings.ToLower(m)); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}

func limitSentences(text string, max int) string {
	var kept []string
	for _, s := range reSentence.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		kept = append(kept, s)
		if len(kept) == max {
			break
		}
	}
	return strings.Join(kept, " ")
}

// Summarize returns the first sentence of an interpretation, always ending in a period.
func Summarize(interpretation string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(interpretation), ".")
	first = strings.TrimSpace(first)
	if first == "" {
		return ""
	}
	return first + "."
}

// Keywords derives postprocess keywords from the detected objects.
func Keywords(objects []string) []string {
	return DedupeLabels(objects)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
