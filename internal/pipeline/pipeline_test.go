package pipeline_test

import (
	"testing"

	"github.com/agentoven/uiforge/internal/pipeline"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func layerNames(layers []pipeline.Layer) [][]string {
	out := make([][]string, len(layers))
	for i, l := range layers {
		for _, s := range l.Stages {
			out[i] = append(out[i], s.Name)
		}
	}
	return out
}

func TestRegistry_ResolvesAllBuiltins(t *testing.T) {
	r := pipeline.NewRegistry()
	for _, tool := range models.ToolKinds {
		def, err := r.Resolve(tool, pipeline.Options{})
		require.NoError(t, err, "tool %s", tool)
		assert.Equal(t, tool, def.Tool)
	}
	assert.Len(t, r.Tools(), len(models.ToolKinds))
}

func TestRegistry_UnknownTool(t *testing.T) {
	_, err := pipeline.NewRegistry().Resolve("carousel", pipeline.Options{})
	assert.ErrorIs(t, err, pipeline.ErrUnknownTool)
}

func TestPage_Layers(t *testing.T) {
	def := pipeline.Page(pipeline.Options{Sections: 3})
	layers, err := def.Layers()
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"plan"},
		{"section-1", "section-2", "section-3"},
		{"style"},
		{"interaction"},
		{"validate"},
	}, layerNames(layers))
	assert.False(t, layers[0].FanOut)
	assert.True(t, layers[1].FanOut)

	plan, _ := def.Stage("plan")
	assert.True(t, plan.ExtractsDNA)
	style, _ := def.Stage("style")
	assert.True(t, style.QualityGated)
	assert.Equal(t, []string{"section-1", "section-2", "section-3"}, def.Upstream("style"))
}

func TestPage_SectionBounds(t *testing.T) {
	layers, err := pipeline.Page(pipeline.Options{}).Layers()
	require.NoError(t, err)
	assert.Len(t, layers[1].Stages, pipeline.DefaultSections)

	layers, err = pipeline.Page(pipeline.Options{Sections: 100}).Layers()
	require.NoError(t, err)
	assert.Len(t, layers[1].Stages, pipeline.MaxSections)
}

func TestShapes(t *testing.T) {
	cases := []struct {
		tool  models.ToolKind
		order [][]string
		gated string
	}{
		{models.ToolComponent, [][]string{{"generate"}, {"style"}}, "style"},
		{models.ToolSection, [][]string{{"generate"}, {"style"}}, "style"},
		{models.ToolRefine, [][]string{{"refine"}, {"style"}}, "style"},
		{models.ToolReference, [][]string{{"vision"}, {"generate"}, {"style"}}, "style"},
		{models.ToolReplace, [][]string{{"replace"}, {"validate"}}, ""},
	}
	r := pipeline.NewRegistry()
	for _, tc := range cases {
		t.Run(string(tc.tool), func(t *testing.T) {
			def, err := r.Resolve(tc.tool, pipeline.Options{})
			require.NoError(t, err)
			layers, err := def.Layers()
			require.NoError(t, err)
			assert.Equal(t, tc.order, layerNames(layers))

			var gated []string
			for _, s := range def.Stages {
				if s.QualityGated {
					gated = append(gated, s.Name)
				}
			}
			if tc.gated == "" {
				assert.Empty(t, gated)
			} else {
				assert.Equal(t, []string{tc.gated}, gated)
			}
		})
	}
}

func TestSectionConsumesPriorSection(t *testing.T) {
	def := pipeline.Section(pipeline.Options{})
	gen, ok := def.Stage("generate")
	require.True(t, ok)
	assert.True(t, gen.Consumes(pipeline.InputPriorSection))
	assert.False(t, gen.Consumes(pipeline.InputImage))
}

func TestLayers_InvalidGraphs(t *testing.T) {
	gen := func(name string) pipeline.Stage {
		return pipeline.Stage{Name: name, Role: pipeline.RoleGenerator, Kind: pipeline.KindGenerate}
	}
	cases := map[string]*pipeline.Definition{
		"empty": {},
		"duplicate": {Stages: []pipeline.Stage{gen("a"), gen("a")}},
		"unknown edge": {
			Stages: []pipeline.Stage{gen("a")},
			Edges:  []pipeline.Edge{{From: "a", To: "b", Kind: pipeline.Sequential}},
		},
		"cycle": {
			Stages: []pipeline.Stage{gen("a"), gen("b")},
			Edges: []pipeline.Edge{
				{From: "a", To: "b", Kind: pipeline.Sequential},
				{From: "b", To: "a", Kind: pipeline.Sequential},
			},
		},
		"sequential in concurrent layer": {
			Stages: []pipeline.Stage{gen("root"), gen("x"), gen("y")},
			Edges: []pipeline.Edge{
				{From: "root", To: "x", Kind: pipeline.FanOut},
				{From: "root", To: "y", Kind: pipeline.Sequential},
			},
		},
		"empty validation": {
			Stages: []pipeline.Stage{{Name: "v", Kind: pipeline.KindValidate}},
		},
	}
	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := def.Layers()
			assert.ErrorIs(t, err, pipeline.ErrInvalidGraph)
		})
	}
}

func TestRegistry_CustomShape(t *testing.T) {
	r := pipeline.NewRegistry()
	r.Register("hero", func(pipeline.Options) *pipeline.Definition {
		return &pipeline.Definition{
			Tool: "hero",
			Stages: []pipeline.Stage{
				{Name: "draft", Role: pipeline.RoleGenerator, Kind: pipeline.KindGenerate, Output: pipeline.SlotMarkup},
			},
		}
	})
	def, err := r.Resolve("hero", pipeline.Options{})
	require.NoError(t, err)
	assert.Len(t, def.Stages, 1)
}
