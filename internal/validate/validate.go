// Package validate runs local structural checks over generated artifacts.
//
// Checks are deliberately shallow: they catch truncated or unbalanced output
// without parsing the artifact. Built-in rules:
//   - not_empty: content must contain something other than whitespace
//   - max_length: character limit per artifact
//   - tag_balance: markup open/close tags pair up (void elements excepted)
//   - brace_balance: style and script braces pair up
//   - bracket_balance: script parentheses and brackets pair up
//   - blocked_pattern: regex deny-list (inline event handlers, javascript: URLs)
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agentoven/uiforge/pkg/models"
)

// Validator checks one artifact. Violations are advisory; an empty result
// means the content passed.
type Validator interface {
	Validate(ctx context.Context, kind models.ArtifactKind, content string) []models.Violation
}

// Func adapts a function to Validator.
type Func func(ctx context.Context, kind models.ArtifactKind, content string) []models.Violation

func (f Func) Validate(ctx context.Context, kind models.ArtifactKind, content string) []models.Violation {
	return f(ctx, kind, content)
}

// Rule names.
const (
	RuleNotEmpty       = "not_empty"
	RuleMaxLength      = "max_length"
	RuleTagBalance     = "tag_balance"
	RuleBraceBalance   = "brace_balance"
	RuleBracketBalance = "bracket_balance"
	RuleBlockedPattern = "blocked_pattern"
)

// DefaultMaxLength is the per-artifact character limit.
const DefaultMaxLength = 200_000

// ── Structural Validator ────────────────────────────────────

// Structural is the built-in validator.
type Structural struct {
	MaxLength int
	Blocked   map[string]*regexp.Regexp
}

var defaultBlocked = map[string]*regexp.Regexp{
	"javascript_url": regexp.MustCompile(`(?i)href\s*=\s*["']\s*javascript:`),
	"inline_handler": regexp.MustCompile(`(?i)<[a-z][^>]*\son[a-z]+\s*=`),
}

// NewStructural returns a validator with the default limits and deny-list.
func NewStructural() *Structural {
	return &Structural{MaxLength: DefaultMaxLength, Blocked: defaultBlocked}
}

// Validate dispatches the rules that apply to kind.
func (s *Structural) Validate(_ context.Context, kind models.ArtifactKind, content string) []models.Violation {
	if strings.TrimSpace(content) == "" {
		return []models.Violation{{Kind: kind, Rule: RuleNotEmpty, Message: "artifact is empty"}}
	}

	var out []models.Violation
	if s.MaxLength > 0 {
		if n := utf8.RuneCountInString(content); n > s.MaxLength {
			out = append(out, models.Violation{
				Kind:    kind,
				Rule:    RuleMaxLength,
				Message: fmt.Sprintf("artifact has %d characters, limit is %d", n, s.MaxLength),
			})
		}
	}

	switch kind {
	case models.ArtifactMarkup:
		out = append(out, checkTags(content)...)
		out = append(out, s.checkBlocked(kind, content)...)
	case models.ArtifactStyle:
		out = append(out, checkPairs(kind, RuleBraceBalance, stripBlockComments(content), "{}")...)
	case models.ArtifactScript:
		code := lineComment.ReplaceAllString(stripBlockComments(stripStrings(content)), "")
		out = append(out, checkPairs(kind, RuleBraceBalance, code, "{}")...)
		out = append(out, checkPairs(kind, RuleBracketBalance, code, "()[]")...)
	}
	return out
}

func (s *Structural) checkBlocked(kind models.ArtifactKind, content string) []models.Violation {
	var out []models.Violation
	for name, re := range s.Blocked {
		if loc := re.FindStringIndex(content); loc != nil {
			out = append(out, models.Violation{
				Kind:    kind,
				Rule:    RuleBlockedPattern,
				Message: "blocked pattern matched: " + name,
				Line:    lineOf(content, loc[0]),
			})
		}
	}
	return out
}

// ── Markup ──────────────────────────────────────────────────

var (
	tagPattern     = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9-]*)([^>]*?)(/?)>`)
	commentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)
	rawTextPattern = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)\s*>`)
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

type openTag struct {
	name string
	line int
}

func checkTags(content string) []models.Violation {
	// Blank out comments and raw-text elements so offsets still map to lines.
	blank := func(m string) string { return strings.Map(keepNewline, m) }
	cleaned := commentPattern.ReplaceAllStringFunc(content, blank)
	cleaned = rawTextPattern.ReplaceAllStringFunc(cleaned, blank)

	var (
		stack []openTag
		out   []models.Violation
	)
	for _, m := range tagPattern.FindAllStringSubmatchIndex(cleaned, -1) {
		closing := m[3] > m[2]
		name := strings.ToLower(cleaned[m[4]:m[5]])
		selfClosing := m[9] > m[8]
		line := lineOf(cleaned, m[0])

		if voidElements[name] || selfClosing {
			continue
		}
		if !closing {
			stack = append(stack, openTag{name: name, line: line})
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1].name != name {
			idx := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].name == name {
					idx = i
					break
				}
			}
			if idx < 0 {
				out = append(out, models.Violation{
					Kind:    models.ArtifactMarkup,
					Rule:    RuleTagBalance,
					Message: fmt.Sprintf("closing </%s> has no matching open tag", name),
					Line:    line,
				})
				continue
			}
			for _, t := range stack[idx+1:] {
				out = append(out, unclosed(t))
			}
			stack = stack[:idx]
			continue
		}
		stack = stack[:len(stack)-1]
	}
	for _, t := range stack {
		out = append(out, unclosed(t))
	}
	return out
}

func unclosed(t openTag) models.Violation {
	return models.Violation{
		Kind:    models.ArtifactMarkup,
		Rule:    RuleTagBalance,
		Message: fmt.Sprintf("<%s> is never closed", t.name),
		Line:    t.line,
	}
}

// ── Style / Script ──────────────────────────────────────────

var (
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment   = regexp.MustCompile(`(?m)//[^\n]*`)
	stringLiteral = regexp.MustCompile("(?s)\"(?:[^\"\\\\\\n]|\\\\.)*\"|'(?:[^'\\\\\\n]|\\\\.)*'|`(?:[^`\\\\]|\\\\.)*`")
)

func stripBlockComments(s string) string {
	return blockComment.ReplaceAllStringFunc(s, func(m string) string { return strings.Map(keepNewline, m) })
}

func stripStrings(s string) string {
	return stringLiteral.ReplaceAllStringFunc(s, func(m string) string { return strings.Map(keepNewline, m) })
}

func keepNewline(r rune) rune {
	if r == '\n' {
		return r
	}
	return ' '
}

// checkPairs verifies that each open/close pair in pairs ("{}", "()[]")
// nests correctly.
func checkPairs(kind models.ArtifactKind, rule, content, pairs string) []models.Violation {
	closers := make(map[rune]rune, len(pairs)/2)
	openers := make(map[rune]bool, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		openers[rune(pairs[i])] = true
		closers[rune(pairs[i+1])] = rune(pairs[i])
	}

	type open struct {
		r    rune
		line int
	}
	var (
		stack []open
		out   []models.Violation
	)
	line := 1
	for _, r := range content {
		if r == '\n' {
			line++
			continue
		}
		if openers[r] {
			stack = append(stack, open{r: r, line: line})
			continue
		}
		want, ok := closers[r]
		if !ok {
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1].r != want {
			out = append(out, models.Violation{
				Kind:    kind,
				Rule:    rule,
				Message: fmt.Sprintf("unexpected %q", r),
				Line:    line,
			})
			continue
		}
		stack = stack[:len(stack)-1]
	}
	for _, o := range stack {
		out = append(out, models.Violation{
			Kind:    kind,
			Rule:    rule,
			Message: fmt.Sprintf("%q is never closed", o.r),
			Line:    o.line,
		})
	}
	return out
}

func lineOf(s string, offset int) int {
	return strings.Count(s[:offset], "\n") + 1
}
