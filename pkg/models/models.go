package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// ── Tool Kinds ───────────────────────────────────────────────

// ToolKind selects the pipeline shape a run executes.
type ToolKind string

const (
	ToolComponent ToolKind = "component"
	ToolPage      ToolKind = "page"
	ToolSection   ToolKind = "section"
	ToolRefine    ToolKind = "refine"
	ToolReference ToolKind = "reference"
	ToolReplace   ToolKind = "replace"
)

// ToolKinds lists every supported tool kind.
var ToolKinds = []ToolKind{ToolComponent, ToolPage, ToolSection, ToolRefine, ToolReference, ToolReplace}

// Valid reports whether k is a known tool kind.
func (k ToolKind) Valid() bool {
	for _, t := range ToolKinds {
		if t == k {
			return true
		}
	}
	return false
}

// ── Session ──────────────────────────────────────────────────

// Session identifies one design task. It lives for the duration of a run.
type Session struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	ToolKind  ToolKind  `json:"tool_kind"`
	CreatedAt time.Time `json:"created_at"`
}

// ── Thought Signatures ───────────────────────────────────────

// ThoughtSignature is an opaque continuation token returned by a model call.
// It is never mutated after it is recorded.
type ThoughtSignature struct {
	Token      string    `json:"token"`
	Stage      string    `json:"stage,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ContextPayload is the request-ready form of a session's recent signatures.
// Empty is set on the first turn of a session, when nothing was recorded yet.
type ContextPayload struct {
	Empty      bool     `json:"empty"`
	Signatures []string `json:"signatures,omitempty"`
}

// EmptyContext returns the first-turn marker payload.
func EmptyContext() ContextPayload {
	return ContextPayload{Empty: true}
}

// ── Reasoning Depth ──────────────────────────────────────────

// ReasoningDepth is the thinking budget requested from the model service.
type ReasoningDepth string

const (
	DepthLow    ReasoningDepth = "low"
	DepthMedium ReasoningDepth = "medium"
	DepthHigh   ReasoningDepth = "high"
)

// Valid reports whether d belongs to the closed set of depth levels.
func (d ReasoningDepth) Valid() bool {
	switch d {
	case DepthLow, DepthMedium, DepthHigh:
		return true
	}
	return false
}

// ── Design DNA ───────────────────────────────────────────────

// DesignToken is a single style fact, e.g. a color role or spacing unit.
type DesignToken struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DesignDNA maps token name to token for one project.
type DesignDNA map[string]DesignToken

// Clone returns an independent copy. A nil receiver yields an empty map.
func (d DesignDNA) Clone() DesignDNA {
	out := make(DesignDNA, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Names returns the token names in sorted order.
func (d DesignDNA) Names() []string {
	names := make([]string, 0, len(d))
	for k := range d {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ── Quality Score ────────────────────────────────────────────

// Dimension weights. They sum to 1.0.
const (
	WeightLayout        = 0.25
	WeightTypography    = 0.15
	WeightColor         = 0.20
	WeightInteraction   = 0.15
	WeightAccessibility = 0.25

	ScoreMin = 0.0
	ScoreMax = 10.0
)

// QualityScore holds the five scored dimensions of an artifact. The overall
// score is always derived from them and never stored.
type QualityScore struct {
	Layout        float64 `json:"layout"`
	Typography    float64 `json:"typography"`
	Color         float64 `json:"color"`
	Interaction   float64 `json:"interaction"`
	Accessibility float64 `json:"accessibility"`
	Feedback      string  `json:"feedback,omitempty"`
}

// UniformScore returns a score with every dimension set to v.
func UniformScore(v float64) QualityScore {
	return QualityScore{Layout: v, Typography: v, Color: v, Interaction: v, Accessibility: v}
}

// Overall is the weighted sum of the clamped dimension scores, rounded to
// four decimals so a uniform score equals its dimension value exactly.
func (q QualityScore) Overall() float64 {
	sum := clampScore(q.Layout)*WeightLayout +
		clampScore(q.Typography)*WeightTypography +
		clampScore(q.Color)*WeightColor +
		clampScore(q.Interaction)*WeightInteraction +
		clampScore(q.Accessibility)*WeightAccessibility
	return math.Round(sum*1e4) / 1e4
}

// Clamped returns a copy with every dimension forced into [ScoreMin, ScoreMax].
func (q QualityScore) Clamped() QualityScore {
	q.Layout = clampScore(q.Layout)
	q.Typography = clampScore(q.Typography)
	q.Color = clampScore(q.Color)
	q.Interaction = clampScore(q.Interaction)
	q.Accessibility = clampScore(q.Accessibility)
	return q
}

// MarshalJSON adds the derived overall score to the encoded form.
func (q QualityScore) MarshalJSON() ([]byte, error) {
	type plain QualityScore
	return json.Marshal(struct {
		plain
		Overall float64 `json:"overall"`
	}{plain(q), q.Overall()})
}

func clampScore(v float64) float64 {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}

// ── Errors ───────────────────────────────────────────────────

// ErrorKind classifies a failure for callers and telemetry.
type ErrorKind string

const (
	KindInvalidConfiguration ErrorKind = "invalid_configuration"
	KindTransient            ErrorKind = "transient"
	KindRateLimited          ErrorKind = "rate_limited"
	KindRejectedContent      ErrorKind = "rejected_content"
	KindQualityNotMet        ErrorKind = "quality_threshold_not_met"
	KindTimeout              ErrorKind = "timeout"
	KindCanceled             ErrorKind = "canceled"
	KindInternal             ErrorKind = "internal"
)

// Retryable reports whether the kind is recovered locally by stage retries.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// RunError names the stage and error kind that failed a run.
type RunError struct {
	Stage string    `json:"stage,omitempty"`
	Kind  ErrorKind `json:"kind"`
	Err   error     `json:"-"`
}

func (e *RunError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("stage %q failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// MarshalJSON includes the message of the wrapped error.
func (e *RunError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(map[string]string{
		"stage":   e.Stage,
		"kind":    string(e.Kind),
		"message": msg,
	})
}

// ── Stage Results ────────────────────────────────────────────

type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageCanceled  StageStatus = "canceled"
)

// ArtifactKind names the format of a piece of produced content.
type ArtifactKind string

const (
	ArtifactMarkup ArtifactKind = "markup"
	ArtifactStyle  ArtifactKind = "style"
	ArtifactScript ArtifactKind = "script"
)

// Violation is one structural problem reported by a content validator.
type Violation struct {
	Kind    ArtifactKind `json:"kind"`
	Rule    string       `json:"rule"`
	Message string       `json:"message"`
	Line    int          `json:"line,omitempty"`
}

// StageResult is produced once per stage execution, and once per refinement
// iteration when a quality-gated stage is retried.
type StageResult struct {
	Stage      string           `json:"stage"`
	Role       string           `json:"role,omitempty"`
	Status     StageStatus      `json:"status"`
	Content    string           `json:"content,omitempty"`
	Signature  ThoughtSignature `json:"signature"`
	Attempt    int              `json:"attempt"`
	Duration   time.Duration    `json:"-"`
	DurationMs int64            `json:"duration_ms"`
	Score      *QualityScore    `json:"score,omitempty"`
	Tokens     []DesignToken    `json:"tokens,omitempty"`
	Violations []Violation      `json:"violations,omitempty"`
	Iterations int              `json:"iterations,omitempty"`
	// Degraded is set to KindQualityNotMet when no refinement attempt
	// reached the quality threshold and the best one was kept.
	Degraded ErrorKind `json:"degraded,omitempty"`
	// Attempts holds every scored refinement attempt, in order.
	Attempts []StageResult `json:"attempts,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ── Runs ─────────────────────────────────────────────────────

// RunStatus tracks a pipeline run: pending → running → (refining)* → succeeded | failed.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunRefining  RunStatus = "refining"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunRequest is what the invocation surface hands to the orchestrator.
type RunRequest struct {
	// RunID is optional. Callers that want to cancel or poll a run before it
	// returns supply their own.
	RunID          string         `json:"run_id,omitempty"`
	Tool           ToolKind       `json:"tool"`
	Brief          string         `json:"brief"`
	ProjectID      string         `json:"project_id"`
	PriorContent   string         `json:"prior_content,omitempty"`
	PriorSection   string         `json:"prior_section,omitempty"`
	Region         string         `json:"region,omitempty"`
	ReferenceImage []byte         `json:"reference_image,omitempty"`
	Sections       int            `json:"sections,omitempty"`
	Depth          ReasoningDepth `json:"depth,omitempty"`
	Timeout        time.Duration  `json:"-"`
}

// ArtifactBundle is the assembled output of a successful run.
type ArtifactBundle struct {
	Markup     string            `json:"markup"`
	Style      string            `json:"style,omitempty"`
	Script     string            `json:"script,omitempty"`
	Sections   []string          `json:"sections,omitempty"`
	Stages     map[string]string `json:"stages"`
	DNA        DesignDNA         `json:"dna,omitempty"`
	FinalScore *QualityScore     `json:"final_score,omitempty"`
	Violations []Violation       `json:"violations,omitempty"`
}

// RunResult is returned to the caller once a run reaches a terminal state.
type RunResult struct {
	RunID        string            `json:"run_id"`
	SessionID    string            `json:"session_id"`
	ProjectID    string            `json:"project_id"`
	Tool         ToolKind          `json:"tool"`
	Status       RunStatus         `json:"status"`
	Bundle       *ArtifactBundle   `json:"bundle,omitempty"`
	Summary      *TelemetrySummary `json:"summary,omitempty"`
	Error        *RunError         `json:"error,omitempty"`
	StageResults []StageResult     `json:"stage_results,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at"`
	DurationMs   int64             `json:"duration_ms"`
}

// ── Telemetry ────────────────────────────────────────────────

// Outcome of one stage execution attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeTransient   Outcome = "transient"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeRejected    Outcome = "rejected"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeCanceled    Outcome = "canceled"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeError       Outcome = "error"
)

// OutcomeFor maps an error kind to the telemetry outcome recorded for it.
func OutcomeFor(kind ErrorKind) Outcome {
	switch kind {
	case KindTransient:
		return OutcomeTransient
	case KindRateLimited:
		return OutcomeRateLimited
	case KindRejectedContent:
		return OutcomeRejected
	case KindTimeout:
		return OutcomeTimeout
	case KindCanceled:
		return OutcomeCanceled
	case KindInvalidConfiguration:
		return OutcomeInvalid
	}
	return OutcomeError
}

// TelemetryEvent records one stage execution attempt. Events are append-only.
type TelemetryEvent struct {
	RunID      string        `json:"run_id"`
	Stage      string        `json:"stage"`
	Attempt    int           `json:"attempt"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
	Outcome    Outcome       `json:"outcome"`
	Score      *QualityScore `json:"score,omitempty"`
	Refinement bool          `json:"refinement,omitempty"`
	Iteration  int           `json:"iteration,omitempty"`
	At         time.Time     `json:"at"`
}

// TelemetrySummary aggregates the events of one run.
type TelemetrySummary struct {
	RunID                string            `json:"run_id"`
	WallTime             time.Duration     `json:"-"`
	WallTimeMs           int64             `json:"wall_time_ms"`
	Events               int               `json:"events"`
	Attempts             map[string]int    `json:"attempts"`
	RefinementIterations int               `json:"refinement_iterations"`
	FinalScore           *QualityScore     `json:"final_score,omitempty"`
	RetryableErrors      map[ErrorKind]int `json:"retryable_errors"`
	Successes            int               `json:"successes"`
	Failures             int               `json:"failures"`
}
