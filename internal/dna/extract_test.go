package dna_test

import (
	"testing"

	"github.com/agentoven/uiforge/internal/dna"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestSnapshot_Canonical(t *testing.T) {
	a := models.DesignDNA{
		"primary": tok("primary", "#0044ff"),
		"radius":  tok("radius", "4px"),
	}
	b := models.DesignDNA{
		"radius":  tok("radius", "4px"),
		"primary": tok("primary", "#0044ff"),
	}

	assert.Equal(t, dna.Snapshot(a), dna.Snapshot(b))
	assert.Equal(t, `{"primary":"#0044ff","radius":"4px"}`, string(dna.Snapshot(a)))
	assert.Equal(t, `{}`, string(dna.Snapshot(nil)))
}

func TestParseTokens_CustomProperties(t *testing.T) {
	css := `:root {
  --primary: #0044ff;
  --radius:4px;
  --primary: #112233;
}`
	got := dna.ParseTokens(css)
	assert.Equal(t, []models.DesignToken{
		tok("primary", "#112233"),
		tok("radius", "4px"),
	}, got)
}

func TestParseTokens_JSON(t *testing.T) {
	got := dna.ParseTokens(`{"tokens": {"spacing": "8px", "primary": "#0044ff"}}`)
	assert.Equal(t, []models.DesignToken{
		tok("primary", "#0044ff"),
		tok("spacing", "8px"),
	}, got)
}

func TestParseTokens_None(t *testing.T) {
	assert.Empty(t, dna.ParseTokens("<div>plain markup</div>"))
	assert.Empty(t, dna.ParseTokens(`{"not_tokens": 1}`))
}
