package dna

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/agentoven/uiforge/pkg/models"
)

// Snapshot encodes DNA canonically: a JSON object of name → value with keys
// in sorted order. Equal DNA always yields identical bytes.
func Snapshot(d models.DesignDNA) []byte {
	flat := make(map[string]string, len(d))
	for name, tok := range d {
		flat[name] = tok.Value
	}
	// encoding/json sorts map keys.
	b, _ := json.Marshal(flat)
	return b
}

var customProperty = regexp.MustCompile(`--([A-Za-z0-9_-]+)\s*:\s*([^;}\n]+)`)

// ParseTokens lifts design tokens out of produced content. It accepts either a
// JSON object of the form {"tokens": {"name": "value"}} or CSS custom property
// declarations (--name: value;). Later declarations of a name win.
func ParseTokens(content string) []models.DesignToken {
	if toks, ok := parseJSONTokens(content); ok {
		return toks
	}

	seen := make(map[string]int)
	var out []models.DesignToken
	for _, m := range customProperty.FindAllStringSubmatch(content, -1) {
		tok := models.DesignToken{Name: m[1], Value: strings.TrimSpace(m[2])}
		if tok.Value == "" {
			continue
		}
		if i, ok := seen[tok.Name]; ok {
			out[i] = tok
			continue
		}
		seen[tok.Name] = len(out)
		out = append(out, tok)
	}
	return out
}

func parseJSONTokens(content string) ([]models.DesignToken, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var wrapper struct {
		Tokens map[string]string `json:"tokens"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil || len(wrapper.Tokens) == 0 {
		return nil, false
	}
	names := make([]string, 0, len(wrapper.Tokens))
	for name := range wrapper.Tokens {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.DesignToken, 0, len(names))
	for _, name := range names {
		out = append(out, models.DesignToken{Name: name, Value: wrapper.Tokens[name]})
	}
	return out, true
}
