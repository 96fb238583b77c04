package dictionary

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// DecodeStage names the step of DecodeComponents that produced a result.
type DecodeStage string

const (
	// DecodeStrict means the whole response was a JSON object.
	DecodeStrict DecodeStage = "strict"
	// DecodeFenced means the object was found inside a ```json fence.
	DecodeFenced DecodeStage = "fenced"
	// DecodeBrace means the object was cut from the first '{' to the last '}'.
	DecodeBrace DecodeStage = "brace"
	// DecodeNone means nothing could be parsed.
	DecodeNone DecodeStage = "none"
)

var (
	fencedObjectPattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// DecodeComponents parses a model response into candidates. It tries the
// whole text, then a fenced block, then the substring between the first '{'
// and the last '}' (also with trailing commas removed). A response that
// defeats every stage yields no candidates and DecodeNone.
func DecodeComponents(text string) ([]Candidate, DecodeStage) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		if out, ok := decodeEnvelope(trimmed); ok {
			return out, DecodeStrict
		}
	}
	if m := fencedObjectPattern.FindStringSubmatch(trimmed); len(m) > 1 {
		if out, ok := decodeEnvelope(m[1]); ok {
			return out, DecodeFenced
		}
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return nil, DecodeNone
	}
	body := trimmed[start : end+1]
	if out, ok := decodeEnvelope(body); ok {
		return out, DecodeBrace
	}
	if out, ok := decodeEnvelope(trailingCommaPattern.ReplaceAllString(body, "$1")); ok {
		return out, DecodeBrace
	}
	return nil, DecodeNone
}

// decodeEnvelope reports ok when data is a JSON object. Items of the
// components array that are not objects are skipped.
func decodeEnvelope(data string) ([]Candidate, bool) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &env); err != nil || env == nil {
		return nil, false
	}
	raw, ok := env["components"]
	if !ok {
		return nil, true
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, true
	}
	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		var fields map[string]interface{}
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		out = append(out, candidateFromFields(fields))
	}
	return out, true
}

func candidateFromFields(fields map[string]interface{}) Candidate {
	c := Candidate{
		DisplayName: asString(firstPresent(fields, "display_name_vi", "display_name")),
		Aliases:     asStrings(firstPresent(fields, "aliases_vi", "aliases")),
	}
	if list, ok := fields["evidence"].([]interface{}); ok {
		for _, item := range list {
			ev, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			c.Evidence = append(c.Evidence, EvidenceItem{
				EvidenceText:    asString(firstPresent(ev, "evidence_text_vi", "evidence_text")),
				DocID:           asString(ev["doc_id"]),
				SectionPath:     asString(ev["section_path"]),
				SourceLanguage:  asString(ev["source_language"]),
				ConfidenceScore: asFloat(ev["confidence_score"]),
			})
		}
	}
	return c
}

func firstPresent(fields map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asStrings(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
