package models_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/agentoven/uiforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestQualityScore_Overall(t *testing.T) {
	s := models.QualityScore{Layout: 10, Typography: 0, Color: 10, Interaction: 0, Accessibility: 10}
	assert.Equal(t, 7.0, s.Overall())

	assert.Equal(t, 8.0, models.UniformScore(8).Overall())
	assert.Equal(t, 10.0, models.UniformScore(42).Overall())
	assert.Equal(t, 0.0, models.UniformScore(-3).Overall())
}

func TestQualityScore_OverallIsBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dim := rapid.Float64Range(-20, 20)
		s := models.QualityScore{
			Layout:        dim.Draw(t, "layout"),
			Typography:    dim.Draw(t, "typography"),
			Color:         dim.Draw(t, "color"),
			Interaction:   dim.Draw(t, "interaction"),
			Accessibility: dim.Draw(t, "accessibility"),
		}
		o := s.Overall()
		if o < models.ScoreMin || o > models.ScoreMax {
			t.Fatalf("overall %v out of range", o)
		}
		if s.Clamped().Overall() != o {
			t.Fatalf("clamping changed overall")
		}
	})
}

func TestQualityScore_MarshalIncludesOverall(t *testing.T) {
	b, err := json.Marshal(models.UniformScore(9))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, 9.0, out["overall"])
	assert.Equal(t, 9.0, out["layout"])
}

func TestErrorKinds(t *testing.T) {
	assert.True(t, models.KindTransient.Retryable())
	assert.True(t, models.KindRateLimited.Retryable())
	assert.False(t, models.KindRejectedContent.Retryable())
	assert.False(t, models.KindTimeout.Retryable())

	assert.Equal(t, models.OutcomeRateLimited, models.OutcomeFor(models.KindRateLimited))
	assert.Equal(t, models.OutcomeTimeout, models.OutcomeFor(models.KindTimeout))
	assert.Equal(t, models.OutcomeError, models.OutcomeFor(models.KindInternal))
}

func TestRunError(t *testing.T) {
	cause := errors.New("boom")
	err := &models.RunError{Stage: "plan", Kind: models.KindTimeout, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `stage "plan"`)

	b, jerr := json.Marshal(err)
	require.NoError(t, jerr)
	assert.JSONEq(t, `{"stage":"plan","kind":"timeout","message":"boom"}`, string(b))
}

func TestToolKindsAndDepth(t *testing.T) {
	for _, k := range models.ToolKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, models.ToolKind("carousel").Valid())
	assert.True(t, models.DepthHigh.Valid())
	assert.False(t, models.ReasoningDepth("extreme").Valid())
	assert.True(t, models.RunSucceeded.Terminal())
	assert.False(t, models.RunRefining.Terminal())
}

func TestDesignDNA_CloneAndNames(t *testing.T) {
	d := models.DesignDNA{
		"spacing": {Name: "spacing", Value: "8px"},
		"accent":  {Name: "accent", Value: "#f00"},
	}
	c := d.Clone()
	c["accent"] = models.DesignToken{Name: "accent", Value: "#0f0"}
	assert.Equal(t, "#f00", d["accent"].Value)
	assert.Equal(t, []string{"accent", "spacing"}, d.Names())
}
