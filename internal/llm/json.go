package llm

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// Parsed is the outcome of reading a model reply: either StructuredJSON or
// RawFallback.
type Parsed interface {
	isParsed()
}

// StructuredJSON is a reply that contained a usable JSON object.
type StructuredJSON struct {
	Summary string
	Tags    []string
}

// RawFallback is a reply that could not be read as the expected object; the
// whole text stands in as the summary.
type RawFallback struct {
	Text string
}

func (StructuredJSON) isParsed() {}
func (RawFallback) isParsed()    {}

// ExtractJSONObject returns the text between the first '{' and the last '}'.
// This also covers replies wrapped in markdown code fences or prose.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseJSONResponse parses the JSON object embedded in an LLM reply.
// It returns nil when there is none.
func ParseJSONResponse(text string) map[string]any {
	candidate, ok := ExtractJSONObject(strings.TrimSpace(text))
	if !ok {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		log.Debug().Err(err).Msg("failed to parse LLM response as JSON")
		return nil
	}
	return result
}

// ParseResponse reads a summarizer reply. Model output is untrusted: anything
// that is not an object with a non-blank "summary" falls back to the raw text.
func ParseResponse(raw string) Parsed {
	parsed := ParseJSONResponse(raw)
	if parsed == nil {
		return RawFallback{Text: raw}
	}

	summary, _ := parsed["summary"].(string)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return RawFallback{Text: raw}
	}

	return StructuredJSON{Summary: summary, Tags: normalizeTags(parsed["tags"])}
}

func normalizeTags(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	tags := make([]string, 0, len(arr))
	for _, t := range arr {
		s, ok := t.(string)
		if !ok {
			continue
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			tags = append(tags, s)
		}
	}
	return tags
}
