package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentoven/uiforge/internal/pipeline"
	"github.com/agentoven/uiforge/pkg/models"
)

// UpstreamOutput is the committed output of a direct predecessor.
type UpstreamOutput struct {
	Stage   string
	Content string
}

// StageInput is everything a prompt may draw on for one stage call. Fan-out
// members of the same layer receive identical DNA and Context values.
type StageInput struct {
	RunID     string
	SessionID string
	ProjectID string
	Tool      models.ToolKind

	Brief       string
	DNA         models.DesignDNA
	DNASnapshot []byte
	Context     models.ContextPayload
	Upstream    []UpstreamOutput

	Prior          string
	PriorSection   string
	Region         string
	ReferenceImage []byte

	// Set on refinement retries.
	Attempt        int
	Feedback       string
	PreviousOutput string
}

// PromptRenderer turns a stage and its inputs into the prompt text.
type PromptRenderer interface {
	Render(stage pipeline.Stage, in StageInput) (string, error)
}

// RendererFunc adapts a function to PromptRenderer.
type RendererFunc func(stage pipeline.Stage, in StageInput) (string, error)

func (f RendererFunc) Render(stage pipeline.Stage, in StageInput) (string, error) {
	return f(stage, in)
}

// ── Template Renderer ───────────────────────────────────────

// templateVarRegex matches {{variable}} placeholders.
var templateVarRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// DefaultTemplate lays out every section a stage may consume. Sections whose
// input is absent or not declared by the stage render as empty.
const DefaultTemplate = "{{instructions}}\n" +
	"{{brief}}{{dna}}{{prior_content}}{{prior_section}}{{region}}" +
	"{{upstream}}{{previous_output}}{{feedback}}"

var defaultInstructions = map[pipeline.Role]string{
	pipeline.RolePlanner:     "You are the planner. Outline the page sections and declare the design tokens as CSS custom properties (--name: value).",
	pipeline.RoleVision:      "You are the vision analyst. Describe the layout of the attached reference image and declare its design tokens as CSS custom properties (--name: value).",
	pipeline.RoleGenerator:   "You are the generator. Produce semantic markup for the brief using the design tokens.",
	pipeline.RoleSection:     "You are the section builder. Produce the markup for one section, consistent with the plan and design tokens.",
	pipeline.RoleStylist:     "You are the stylist. Produce the style sheet for the markup, using var(--token) references.",
	pipeline.RoleInteraction: "You are the interaction designer. Produce the script that wires up the markup's interactive behavior.",
	pipeline.RoleScorer:      `You are the reviewer. Score the candidate from 0 to 10 on layout, typography, color, interaction and accessibility. Reply with JSON: {"layout":n,"typography":n,"color":n,"interaction":n,"accessibility":n,"feedback":"..."}.`,
	pipeline.RoleRefiner:     "You are the refiner. Improve the existing content according to the brief. Keep what already works.",
	pipeline.RoleReplacer:    "You are the replacer. Regenerate only the named region of the existing content and return the full updated content.",
}

// TemplateRenderer fills a {{var}} template per role.
type TemplateRenderer struct {
	Templates    map[pipeline.Role]string
	Instructions map[pipeline.Role]string
}

// NewTemplateRenderer returns a renderer using DefaultTemplate for every role.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{Instructions: defaultInstructions}
}

// Render builds the variables for stage and substitutes them.
func (r *TemplateRenderer) Render(stage pipeline.Stage, in StageInput) (string, error) {
	tmpl := DefaultTemplate
	if t, ok := r.Templates[stage.Role]; ok {
		tmpl = t
	}
	instr, ok := r.Instructions[stage.Role]
	if !ok {
		instr = fmt.Sprintf("You are the %s.", stage.Role)
	}

	vars := map[string]string{
		"instructions": instr,
		"stage":        stage.Name,
		"role":         string(stage.Role),
		"attempt":      fmt.Sprint(in.Attempt),
	}
	if stage.Consumes(pipeline.InputBrief) {
		vars["brief"] = block("Brief", in.Brief)
	}
	if stage.Consumes(pipeline.InputDNA) && len(in.DNASnapshot) > 0 && string(in.DNASnapshot) != "{}" {
		vars["dna"] = block("Design tokens", string(in.DNASnapshot))
	}
	if stage.Consumes(pipeline.InputPrior) {
		vars["prior_content"] = block("Existing content", in.Prior)
	}
	if stage.Consumes(pipeline.InputPriorSection) {
		vars["prior_section"] = block("Match the style of this section", in.PriorSection)
	}
	if stage.Consumes(pipeline.InputRegion) {
		vars["region"] = block("Region to replace", in.Region)
	}
	if stage.Consumes(pipeline.InputUpstream) {
		var sb strings.Builder
		for _, u := range in.Upstream {
			sb.WriteString(block("Output of "+u.Stage, u.Content))
		}
		vars["upstream"] = sb.String()
	}
	vars["previous_output"] = block("Previous attempt", in.PreviousOutput)
	vars["feedback"] = block("Reviewer feedback", in.Feedback)

	return renderTemplate(tmpl, vars), nil
}

func block(title, body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	return "\n## " + title + "\n" + body + "\n"
}

// renderTemplate substitutes {{var}} placeholders; unknown names render empty.
func renderTemplate(tmpl string, vars map[string]string) string {
	return templateVarRegex.ReplaceAllStringFunc(tmpl, func(m string) string {
		return vars[m[2:len(m)-2]]
	})
}

// scoringStage is the synthetic stage used to score a quality-gated output.
func scoringStage(st pipeline.Stage) pipeline.Stage {
	return pipeline.Stage{
		Name:   st.Name + ".score",
		Role:   pipeline.RoleScorer,
		Kind:   pipeline.KindGenerate,
		Inputs: []pipeline.Input{pipeline.InputBrief, pipeline.InputDNA, pipeline.InputUpstream},
		Depth:  st.Depth,
	}
}
