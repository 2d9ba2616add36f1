package validate_test

import (
	"context"
	"strings"
	"testing"

	"github.com/agentoven/uiforge/internal/validate"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rules(vs []models.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestStructural_Clean(t *testing.T) {
	v := validate.NewStructural()
	ctx := context.Background()

	markup := `<section class="hero">
  <!-- <div> in a comment -->
  <h1>Title</h1>
  <img src="a.png" alt="">
  <br/>
  <script>if (a < b) { x() }</script>
</section>`
	assert.Empty(t, v.Validate(ctx, models.ArtifactMarkup, markup))

	style := `/* { */ .hero { color: var(--primary); background: url(http://x/y.png); }`
	assert.Empty(t, v.Validate(ctx, models.ArtifactStyle, style))

	script := `const s = "}"; // ) dangling in a comment
function f(a) { return [a, (a + 1)]; }`
	assert.Empty(t, v.Validate(ctx, models.ArtifactScript, script))
}

func TestStructural_Empty(t *testing.T) {
	vs := validate.NewStructural().Validate(context.Background(), models.ArtifactStyle, "  \n\t")
	require.Len(t, vs, 1)
	assert.Equal(t, validate.RuleNotEmpty, vs[0].Rule)
	assert.Equal(t, models.ArtifactStyle, vs[0].Kind)
}

func TestStructural_UnbalancedMarkup(t *testing.T) {
	v := validate.NewStructural()

	vs := v.Validate(context.Background(), models.ArtifactMarkup, "<div>\n<p>text\n</div>")
	require.Len(t, vs, 1)
	assert.Equal(t, validate.RuleTagBalance, vs[0].Rule)
	assert.Contains(t, vs[0].Message, "<p>")
	assert.Equal(t, 2, vs[0].Line)

	vs = v.Validate(context.Background(), models.ArtifactMarkup, "<div></span></div>")
	require.Len(t, vs, 1)
	assert.Contains(t, vs[0].Message, "</span>")

	vs = v.Validate(context.Background(), models.ArtifactMarkup, "<main><section>")
	assert.Equal(t, []string{validate.RuleTagBalance, validate.RuleTagBalance}, rules(vs))
}

func TestStructural_UnbalancedStyleAndScript(t *testing.T) {
	v := validate.NewStructural()

	vs := v.Validate(context.Background(), models.ArtifactStyle, ".a { color: red;\n.b { }")
	require.Len(t, vs, 1)
	assert.Equal(t, validate.RuleBraceBalance, vs[0].Rule)
	assert.Equal(t, 1, vs[0].Line)

	vs = v.Validate(context.Background(), models.ArtifactScript, "f(a, [b)")
	assert.Contains(t, rules(vs), validate.RuleBracketBalance)
}

func TestStructural_BlockedPatterns(t *testing.T) {
	vs := validate.NewStructural().Validate(context.Background(), models.ArtifactMarkup,
		"<div>\n<a href=\"javascript:alert(1)\">x</a>\n</div>")
	require.Len(t, vs, 1)
	assert.Equal(t, validate.RuleBlockedPattern, vs[0].Rule)
	assert.Equal(t, 2, vs[0].Line)
}

func TestStructural_MaxLength(t *testing.T) {
	v := &validate.Structural{MaxLength: 10}
	vs := v.Validate(context.Background(), models.ArtifactStyle, strings.Repeat("a", 11))
	assert.Equal(t, []string{validate.RuleMaxLength}, rules(vs))
}

func TestFunc(t *testing.T) {
	var called models.ArtifactKind
	v := validate.Func(func(_ context.Context, kind models.ArtifactKind, _ string) []models.Violation {
		called = kind
		return nil
	})
	assert.Empty(t, v.Validate(context.Background(), models.ArtifactScript, "x"))
	assert.Equal(t, models.ArtifactScript, called)
}
