// Package pipeline declares the stage graphs the orchestrator executes.
//
// A Definition is pure data: stages (nodes) and dependency edges. Edges are
// either sequential (the consumer waits for the producer's commit) or fan-out
// (a group of stages sharing the same upstream inputs that may run
// concurrently). How a stage renders its prompt is not described here.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/agentoven/uiforge/pkg/models"
)

var (
	ErrUnknownTool  = errors.New("unknown tool kind")
	ErrInvalidGraph = errors.New("invalid pipeline graph")
)

// Role is the agent persona a stage is bound to.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleVision      Role = "vision"
	RoleGenerator   Role = "generator"
	RoleSection     Role = "section"
	RoleStylist     Role = "stylist"
	RoleInteraction Role = "interaction"
	RoleScorer      Role = "scorer"
	RoleValidator   Role = "validator"
	RoleRefiner     Role = "refiner"
	RoleReplacer    Role = "replacer"
)

// StageKind says whether a stage calls the model or runs locally.
type StageKind string

const (
	KindGenerate StageKind = "generate"
	KindValidate StageKind = "validate"
)

// Input names something a stage consumes.
type Input string

const (
	InputBrief        Input = "brief"
	InputDNA          Input = "dna"
	InputContext      Input = "context"
	InputUpstream     Input = "upstream"
	InputPrior        Input = "prior_content"
	InputPriorSection Input = "prior_section"
	InputImage        Input = "reference_image"
	InputRegion       Input = "region"
)

// Slot is where a stage's output lands in the final bundle.
type Slot string

const (
	SlotNone     Slot = ""
	SlotPlan     Slot = "plan"
	SlotAnalysis Slot = "analysis"
	SlotSection  Slot = "section"
	SlotMarkup   Slot = Slot(models.ArtifactMarkup)
	SlotStyle    Slot = Slot(models.ArtifactStyle)
	SlotScript   Slot = Slot(models.ArtifactScript)
)

// Stage is an immutable unit of work.
type Stage struct {
	Name   string
	Role   Role
	Kind   StageKind
	Inputs []Input
	Output Slot

	// ExtractsDNA merges tokens found in the output into the project DNA.
	ExtractsDNA bool
	// WritesContext records the returned thought signature for the session.
	WritesContext bool
	// QualityGated runs the stage inside the generate-score-retry loop.
	QualityGated bool
	// Validates lists the artifact kinds a validation stage checks.
	Validates []models.ArtifactKind
	// Fallback is re-run in place of Role when the service rejects content.
	Fallback Role
	// Depth overrides the run's reasoning depth for this stage.
	Depth models.ReasoningDepth
}

// Consumes reports whether the stage declares in as an input.
func (s Stage) Consumes(in Input) bool {
	for _, i := range s.Inputs {
		if i == in {
			return true
		}
	}
	return false
}

// EdgeKind is the dependency kind between two stages.
type EdgeKind string

const (
	Sequential EdgeKind = "sequential"
	FanOut     EdgeKind = "fan_out"
)

// Edge says To depends on From.
type Edge struct {
	From string
	To   string
	Kind EdgeKind
}

// Definition is a stage graph for one tool kind.
type Definition struct {
	Tool   models.ToolKind
	Stages []Stage
	Edges  []Edge
}

// Layer is a set of stages whose dependencies are all satisfied by earlier
// layers. FanOut layers may execute their members concurrently.
type Layer struct {
	Stages []Stage
	FanOut bool
}

// Stage looks up a stage by name.
func (d *Definition) Stage(name string) (Stage, bool) {
	for _, s := range d.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Upstream returns the direct producers of a stage in declaration order.
func (d *Definition) Upstream(name string) []string {
	var out []string
	for _, e := range d.Edges {
		if e.To == name {
			out = append(out, e.From)
		}
	}
	return out
}

// Validate checks names, edge endpoints, acyclicity and that every
// concurrent layer is joined only by fan-out edges.
func (d *Definition) Validate() error {
	_, err := d.Layers()
	return err
}

// Layers orders the graph topologically (Kahn). Within a layer stages keep
// their declaration order.
func (d *Definition) Layers() ([]Layer, error) {
	if len(d.Stages) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrInvalidGraph)
	}

	index := make(map[string]int, len(d.Stages))
	for i, s := range d.Stages {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: stage %d has no name", ErrInvalidGraph, i)
		}
		if _, dup := index[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate stage %q", ErrInvalidGraph, s.Name)
		}
		if s.Kind == KindValidate && len(s.Validates) == 0 {
			return nil, fmt.Errorf("%w: validation stage %q checks nothing", ErrInvalidGraph, s.Name)
		}
		index[s.Name] = i
	}

	inDegree := make([]int, len(d.Stages))
	inbound := make([][]Edge, len(d.Stages))
	for _, e := range d.Edges {
		from, okFrom := index[e.From]
		to, okTo := index[e.To]
		if !okFrom || !okTo {
			return nil, fmt.Errorf("%w: edge %s -> %s references unknown stage", ErrInvalidGraph, e.From, e.To)
		}
		if from == to {
			return nil, fmt.Errorf("%w: stage %q depends on itself", ErrInvalidGraph, e.From)
		}
		if e.Kind != Sequential && e.Kind != FanOut {
			return nil, fmt.Errorf("%w: edge %s -> %s has unknown kind %q", ErrInvalidGraph, e.From, e.To, e.Kind)
		}
		inDegree[to]++
		inbound[to] = append(inbound[to], e)
	}

	done := make([]bool, len(d.Stages))
	var layers []Layer
	for placed := 0; placed < len(d.Stages); {
		var ready []int
		for i := range d.Stages {
			if !done[i] && inDegree[i] == 0 {
				ready = append(ready, i)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("%w: cycle detected", ErrInvalidGraph)
		}

		layer := Layer{FanOut: len(ready) > 1}
		for _, i := range ready {
			if layer.FanOut {
				for _, e := range inbound[i] {
					if e.Kind != FanOut {
						return nil, fmt.Errorf("%w: stage %q runs concurrently but has sequential edge from %q",
							ErrInvalidGraph, d.Stages[i].Name, e.From)
					}
				}
			}
			layer.Stages = append(layer.Stages, d.Stages[i])
		}
		for _, i := range ready {
			done[i] = true
			placed++
			for _, e := range d.Edges {
				if e.From == d.Stages[i].Name {
					inDegree[index[e.To]]--
				}
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
