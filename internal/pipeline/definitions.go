package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentoven/uiforge/pkg/models"
)

// DefaultSections is the number of fan-out section stages in a page pipeline.
const DefaultSections = 3

// MaxSections bounds the page fan-out.
const MaxSections = 12

// Options parameterize a pipeline shape.
type Options struct {
	Sections int
}

// Builder produces a definition for one tool kind.
type Builder func(opts Options) *Definition

// Registry maps tool kinds to pipeline builders. New shapes are registered as
// data; the orchestrator needs no changes to run them.
type Registry struct {
	mu       sync.RWMutex
	builders map[models.ToolKind]Builder
}

// NewRegistry returns a registry holding the six built-in shapes.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[models.ToolKind]Builder)}
	r.Register(models.ToolComponent, Component)
	r.Register(models.ToolPage, Page)
	r.Register(models.ToolSection, Section)
	r.Register(models.ToolRefine, Refine)
	r.Register(models.ToolReference, Reference)
	r.Register(models.ToolReplace, Replace)
	return r
}

// Register adds or replaces the builder for a tool kind.
func (r *Registry) Register(tool models.ToolKind, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[tool] = b
}

// Tools lists registered tool kinds in sorted order.
func (r *Registry) Tools() []models.ToolKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolKind, 0, len(r.builders))
	for k := range r.builders {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve builds and validates the definition for tool.
func (r *Registry) Resolve(tool models.ToolKind, opts Options) (*Definition, error) {
	r.mu.RLock()
	b, ok := r.builders[tool]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	def := b(opts)
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", tool, err)
	}
	return def, nil
}

// ── Built-in Shapes ─────────────────────────────────────────

// styleStage is the quality-gated styling pass shared by most shapes.
func styleStage() Stage {
	return Stage{
		Name:          "style",
		Role:          RoleStylist,
		Kind:          KindGenerate,
		Inputs:        []Input{InputBrief, InputDNA, InputContext, InputUpstream},
		Output:        SlotStyle,
		WritesContext: true,
		QualityGated:  true,
	}
}

func seq(from, to string) Edge { return Edge{From: from, To: to, Kind: Sequential} }

// Component: generate → style (refinement loop).
func Component(_ Options) *Definition {
	return &Definition{
		Tool: models.ToolComponent,
		Stages: []Stage{
			{
				Name:          "generate",
				Role:          RoleGenerator,
				Kind:          KindGenerate,
				Inputs:        []Input{InputBrief, InputDNA, InputContext},
				Output:        SlotMarkup,
				WritesContext: true,
			},
			styleStage(),
		},
		Edges: []Edge{seq("generate", "style")},
	}
}

// Page: plan (extracts DNA) → N sections (fan-out) → style (refinement loop)
// → interaction → validate.
func Page(opts Options) *Definition {
	n := opts.Sections
	if n <= 0 {
		n = DefaultSections
	}
	if n > MaxSections {
		n = MaxSections
	}

	def := &Definition{Tool: models.ToolPage}
	def.Stages = append(def.Stages, Stage{
		Name:          "plan",
		Role:          RolePlanner,
		Kind:          KindGenerate,
		Inputs:        []Input{InputBrief, InputDNA, InputContext},
		Output:        SlotPlan,
		ExtractsDNA:   true,
		WritesContext: true,
	})
	for i := 1; i <= n; i++ {
		name := SectionStageName(i)
		def.Stages = append(def.Stages, Stage{
			Name:          name,
			Role:          RoleSection,
			Kind:          KindGenerate,
			Inputs:        []Input{InputBrief, InputDNA, InputContext, InputUpstream},
			Output:        SlotSection,
			WritesContext: true,
		})
		def.Edges = append(def.Edges, Edge{From: "plan", To: name, Kind: FanOut})
	}
	def.Stages = append(def.Stages,
		styleStage(),
		Stage{
			Name:          "interaction",
			Role:          RoleInteraction,
			Kind:          KindGenerate,
			Inputs:        []Input{InputBrief, InputDNA, InputContext, InputUpstream},
			Output:        SlotScript,
			WritesContext: true,
		},
		Stage{
			Name:      "validate",
			Role:      RoleValidator,
			Kind:      KindValidate,
			Inputs:    []Input{InputUpstream},
			Validates: []models.ArtifactKind{models.ArtifactMarkup, models.ArtifactStyle, models.ArtifactScript},
		},
	)
	for i := 1; i <= n; i++ {
		def.Edges = append(def.Edges, seq(SectionStageName(i), "style"))
	}
	def.Edges = append(def.Edges, seq("style", "interaction"), seq("interaction", "validate"))
	return def
}

// SectionStageName names the i-th (1-based) page section stage.
func SectionStageName(i int) string {
	return fmt.Sprintf("section-%d", i)
}

// Section: generate (matching a prior section's style) → style (refinement loop).
func Section(_ Options) *Definition {
	return &Definition{
		Tool: models.ToolSection,
		Stages: []Stage{
			{
				Name:          "generate",
				Role:          RoleSection,
				Kind:          KindGenerate,
				Inputs:        []Input{InputBrief, InputDNA, InputContext, InputPriorSection},
				Output:        SlotMarkup,
				WritesContext: true,
			},
			styleStage(),
		},
		Edges: []Edge{seq("generate", "style")},
	}
}

// Refine: refine existing content → style (refinement loop).
func Refine(_ Options) *Definition {
	return &Definition{
		Tool: models.ToolRefine,
		Stages: []Stage{
			{
				Name:          "refine",
				Role:          RoleRefiner,
				Kind:          KindGenerate,
				Inputs:        []Input{InputBrief, InputDNA, InputContext, InputPrior},
				Output:        SlotMarkup,
				WritesContext: true,
			},
			styleStage(),
		},
		Edges: []Edge{seq("refine", "style")},
	}
}

// Reference: vision (extracts DNA from an image) → generate → style (refinement loop).
// A rejected image analysis falls back to planning from the brief alone.
func Reference(_ Options) *Definition {
	return &Definition{
		Tool: models.ToolReference,
		Stages: []Stage{
			{
				Name:          "vision",
				Role:          RoleVision,
				Kind:          KindGenerate,
				Inputs:        []Input{InputBrief, InputImage, InputContext},
				Output:        SlotAnalysis,
				ExtractsDNA:   true,
				WritesContext: true,
				Fallback:      RolePlanner,
			},
			{
				Name:          "generate",
				Role:          RoleGenerator,
				Kind:          KindGenerate,
				Inputs:        []Input{InputBrief, InputDNA, InputContext, InputUpstream},
				Output:        SlotMarkup,
				WritesContext: true,
			},
			styleStage(),
		},
		Edges: []Edge{seq("vision", "generate"), seq("generate", "style")},
	}
}

// Replace: regenerate one region of existing content → local validation.
func Replace(_ Options) *Definition {
	return &Definition{
		Tool: models.ToolReplace,
		Stages: []Stage{
			{
				Name:          "replace",
				Role:          RoleReplacer,
				Kind:          KindGenerate,
				Inputs:        []Input{InputBrief, InputDNA, InputContext, InputPrior, InputRegion},
				Output:        SlotMarkup,
				WritesContext: true,
			},
			{
				Name:      "validate",
				Role:      RoleValidator,
				Kind:      KindValidate,
				Inputs:    []Input{InputUpstream},
				Validates: []models.ArtifactKind{models.ArtifactMarkup},
			},
		},
		Edges: []Edge{seq("replace", "validate")},
	}
}
