package workflow_test

import (
	"testing"

	"github.com/agentoven/uiforge/internal/pipeline"
	"github.com/agentoven/uiforge/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRenderer_OnlyConsumedInputs(t *testing.T) {
	r := workflow.NewTemplateRenderer()
	st := pipeline.Stage{
		Name:   "generate",
		Role:   pipeline.RoleGenerator,
		Inputs: []pipeline.Input{pipeline.InputBrief, pipeline.InputDNA},
	}
	in := workflow.StageInput{
		Brief:       "a pricing card",
		DNASnapshot: []byte(`{"primary":"#0044ff"}`),
		Prior:       "<div>old</div>",
		Region:      "header",
		Upstream:    []workflow.UpstreamOutput{{Stage: "plan", Content: "hero"}},
	}

	p, err := r.Render(st, in)
	require.NoError(t, err)
	assert.Contains(t, p, "You are the generator.")
	assert.Contains(t, p, "## Brief\na pricing card")
	assert.Contains(t, p, `## Design tokens`+"\n"+`{"primary":"#0044ff"}`)
	assert.NotContains(t, p, "<div>old</div>")
	assert.NotContains(t, p, "header")
	assert.NotContains(t, p, "Output of plan")
}

func TestTemplateRenderer_EmptyDNAOmitted(t *testing.T) {
	r := workflow.NewTemplateRenderer()
	st := pipeline.Stage{Name: "generate", Role: pipeline.RoleGenerator, Inputs: []pipeline.Input{pipeline.InputDNA}}

	p, err := r.Render(st, workflow.StageInput{DNASnapshot: []byte("{}")})
	require.NoError(t, err)
	assert.NotContains(t, p, "Design tokens")
}

func TestTemplateRenderer_FeedbackAndUpstream(t *testing.T) {
	r := workflow.NewTemplateRenderer()
	st := pipeline.Stage{Name: "style", Role: pipeline.RoleStylist, Inputs: []pipeline.Input{pipeline.InputUpstream}}

	p, err := r.Render(st, workflow.StageInput{
		Upstream:       []workflow.UpstreamOutput{{Stage: "generate", Content: "<div/>"}},
		Attempt:        2,
		Feedback:       "raise contrast",
		PreviousOutput: ".a{}",
	})
	require.NoError(t, err)
	assert.Contains(t, p, "## Output of generate\n<div/>")
	assert.Contains(t, p, "## Previous attempt\n.a{}")
	assert.Contains(t, p, "## Reviewer feedback\nraise contrast")
}

func TestTemplateRenderer_CustomTemplate(t *testing.T) {
	r := workflow.NewTemplateRenderer()
	r.Templates = map[pipeline.Role]string{
		pipeline.RoleSection: "[{{stage}}/{{role}}#{{attempt}}]{{brief}}{{unknown}}",
	}
	st := pipeline.Stage{Name: "section-2", Role: pipeline.RoleSection, Inputs: []pipeline.Input{pipeline.InputBrief}}

	p, err := r.Render(st, workflow.StageInput{Brief: "pricing", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, "[section-2/section#1]\n## Brief\npricing\n", p)
}
