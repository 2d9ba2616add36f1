// Package workflow implements the pipeline orchestrator.
//
// The engine executes a tool kind's stage graph for one run:
//  1. Resolve the pipeline definition and order it into layers
//  2. Walk layers in order; a fan-out layer dispatches its members
//     concurrently under the concurrency cap
//  3. Quality-gated stages run the generate → score → retry loop
//  4. After each layer, commit outputs, merge DNA and record thought
//     signatures, in stage declaration order
//  5. Assemble the artifact bundle, archive it, and summarize telemetry
//
// The whole run is bounded by a timeout. Once the run context ends, nothing
// else is committed and in-flight model calls are abandoned.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/uiforge/internal/agent"
	"github.com/agentoven/uiforge/internal/archive"
	"github.com/agentoven/uiforge/internal/config"
	"github.com/agentoven/uiforge/internal/dna"
	"github.com/agentoven/uiforge/internal/pipeline"
	"github.com/agentoven/uiforge/internal/sessions"
	"github.com/agentoven/uiforge/internal/telemetry"
	"github.com/agentoven/uiforge/internal/validate"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultProject is used when a request names no project.
const DefaultProject = "default"

// maxFinished bounds how many completed run statuses are remembered.
const maxFinished = 1024

// Invoker performs one model call. *agent.Adapter implements it.
type Invoker interface {
	Invoke(ctx context.Context, role, prompt string, payload models.ContextPayload, depth models.ReasoningDepth, attachments ...agent.Attachment) (*models.StageResult, error)
}

// TokenExtractor finds design tokens in stage output.
type TokenExtractor func(content string) []models.DesignToken

// Options tunes the engine.
type Options struct {
	MaxConcurrency   int
	QualityThreshold float64
	MaxAttempts      int
	AcceptExpr       string
	TieBreak         TieBreak
	StageRetries     int
	RateLimitRetries int
	RateLimitDelay   time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	RunTimeout       time.Duration
	Depth            models.ReasoningDepth
	PageSections     int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:   4,
		QualityThreshold: 8.0,
		MaxAttempts:      3,
		AcceptExpr:       DefaultAcceptExpr,
		TieBreak:         TieBreakFirst,
		StageRetries:     3,
		RateLimitRetries: 3,
		RateLimitDelay:   2 * time.Second,
		BackoffInitial:   500 * time.Millisecond,
		BackoffMax:       8 * time.Second,
		RunTimeout:       5 * time.Minute,
		Depth:            models.DepthMedium,
		PageSections:     pipeline.DefaultSections,
	}
}

// OptionsFromConfig maps the engine section of the configuration.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		MaxConcurrency:   cfg.MaxConcurrency,
		QualityThreshold: cfg.QualityThreshold,
		MaxAttempts:      cfg.MaxRefinements,
		AcceptExpr:       cfg.AcceptExpr,
		TieBreak:         TieBreak(cfg.TieBreak),
		StageRetries:     cfg.StageRetries,
		RateLimitRetries: cfg.RateLimitRetries,
		RateLimitDelay:   cfg.RateLimitDelay,
		BackoffInitial:   cfg.BackoffInitial,
		BackoffMax:       cfg.BackoffMax,
		RunTimeout:       cfg.RunTimeout,
		Depth:            models.ReasoningDepth(cfg.Depth),
		PageSections:     cfg.PageSections,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = d.MaxConcurrency
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.TieBreak != TieBreakLast {
		o.TieBreak = TieBreakFirst
	}
	if o.StageRetries < 1 {
		o.StageRetries = 1
	}
	if o.RateLimitRetries < 0 {
		o.RateLimitRetries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = d.BackoffInitial
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = d.RunTimeout
	}
	if !o.Depth.Valid() {
		o.Depth = d.Depth
	}
	return o
}

// Deps are the collaborators of an engine. Only Invoker is required.
type Deps struct {
	Invoker   Invoker
	Sessions  *sessions.Manager
	DNA       dna.Store
	Registry  *pipeline.Registry
	Recorder  *telemetry.Recorder
	Renderer  PromptRenderer
	Validator validate.Validator
	Archiver  archive.Archiver
	Tokens    TokenExtractor
}

// Engine executes pipeline runs.
type Engine struct {
	invoker   Invoker
	sessions  *sessions.Manager
	dna       dna.Store
	registry  *pipeline.Registry
	recorder  *telemetry.Recorder
	renderer  PromptRenderer
	validator validate.Validator
	archiver  archive.Archiver
	tokens    TokenExtractor

	opts   Options
	accept *vm.Program
	tracer trace.Tracer

	// sem caps concurrent model-calling stages across all runs.
	sem *semaphore.Weighted

	// Running executions: runID → state
	runsMu        sync.RWMutex
	runs          map[string]*runState
	finished      map[string]models.RunStatus
	finishedOrder []string
}

// NewEngine creates an engine. Missing collaborators get in-memory defaults.
func NewEngine(deps Deps, opts Options) (*Engine, error) {
	if deps.Invoker == nil {
		return nil, fmt.Errorf("workflow: invoker is required")
	}
	opts = opts.normalized()
	prog, err := compileAccept(opts.AcceptExpr)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		invoker:   deps.Invoker,
		sessions:  deps.Sessions,
		dna:       deps.DNA,
		registry:  deps.Registry,
		recorder:  deps.Recorder,
		renderer:  deps.Renderer,
		validator: deps.Validator,
		archiver:  deps.Archiver,
		tokens:    deps.Tokens,
		opts:      opts,
		accept:    prog,
		tracer:    otel.Tracer("github.com/agentoven/uiforge/internal/workflow"),
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		runs:      make(map[string]*runState),
		finished:  make(map[string]models.RunStatus),
	}
	if e.sessions == nil {
		e.sessions = sessions.NewManager(sessions.DefaultWindow)
	}
	if e.dna == nil {
		e.dna = dna.NewMemoryStore()
	}
	if e.registry == nil {
		e.registry = pipeline.NewRegistry()
	}
	if e.recorder == nil {
		e.recorder = telemetry.NewRecorder(telemetry.DefaultBufferSize)
	}
	if e.renderer == nil {
		e.renderer = NewTemplateRenderer()
	}
	if e.validator == nil {
		e.validator = validate.NewStructural()
	}
	if e.tokens == nil {
		e.tokens = dna.ParseTokens
	}
	return e, nil
}

// Options returns the effective engine options.
func (e *Engine) Options() Options { return e.opts }

// ── Run State ───────────────────────────────────────────────

type runState struct {
	id      string
	session models.Session
	req     models.RunRequest
	def     *pipeline.Definition
	depth   models.ReasoningDepth
	cancel  context.CancelFunc

	mu         sync.Mutex
	status     models.RunStatus
	outputs    map[string]string
	results    []models.StageResult
	violations []models.Violation
	finalScore *models.QualityScore
	attempts   map[string]int
}

func (r *runState) setStatus(s models.RunStatus) {
	r.mu.Lock()
	prev := r.status
	r.status = s
	r.mu.Unlock()
	if prev == s {
		return
	}
	ev := log.Debug()
	if s == models.RunRefining {
		ev = log.Info()
	}
	ev.Str("run_id", r.id).Str("from", string(prev)).Str("to", string(s)).Msg("🔁 Run state changed")
}

func (r *runState) getStatus() models.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *runState) nextAttempt(stage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[stage]++
	return r.attempts[stage]
}

func (r *runState) attemptsOf(stage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[stage]
}

func (r *runState) output(stage string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputs[stage]
}

// CancelRun cancels an in-flight run.
func (e *Engine) CancelRun(runID string) bool {
	e.runsMu.RLock()
	r, ok := e.runs[runID]
	e.runsMu.RUnlock()
	if !ok {
		return false
	}
	r.cancel()
	log.Info().Str("run_id", runID).Msg("🛑 Run cancel requested")
	return true
}

// Status reports the current status of a run, in flight or recently finished.
func (e *Engine) Status(runID string) (models.RunStatus, bool) {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()
	if r, ok := e.runs[runID]; ok {
		return r.getStatus(), true
	}
	s, ok := e.finished[runID]
	return s, ok
}

// Summary returns the telemetry summary of a run.
func (e *Engine) Summary(ctx context.Context, runID string) (models.TelemetrySummary, bool) {
	if err := e.recorder.Flush(ctx); err != nil {
		log.Debug().Err(err).Msg("Telemetry flush interrupted")
	}
	return e.recorder.Summarize(runID)
}

// Project returns the current design DNA of a project.
func (e *Engine) Project(ctx context.Context, projectID string) (models.DesignDNA, error) {
	if projectID == "" {
		projectID = DefaultProject
	}
	return e.dna.Read(ctx, projectID)
}

// reserve registers r unless its ID is already in flight or recently finished.
func (e *Engine) reserve(r *runState) bool {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	if _, ok := e.runs[r.id]; ok {
		return false
	}
	if _, ok := e.finished[r.id]; ok {
		return false
	}
	e.runs[r.id] = r
	return true
}

func (e *Engine) unregister(r *runState, final models.RunStatus) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	delete(e.runs, r.id)
	e.finished[r.id] = final
	e.finishedOrder = append(e.finishedOrder, r.id)
	for len(e.finishedOrder) > maxFinished {
		old := e.finishedOrder[0]
		e.finishedOrder = e.finishedOrder[1:]
		delete(e.finished, old)
		e.recorder.Forget(old)
	}
}

// ── Run ─────────────────────────────────────────────────────

// ErrRunExists rejects a request whose RunID is already in use.
var ErrRunExists = fmt.Errorf("%w: run already exists", agent.ErrInvalidConfiguration)

// pendingRun is a validated, registered run that has not started executing.
type pendingRun struct {
	parent  context.Context
	runCtx  context.Context
	state   *runState
	result  *models.RunResult
	timeout time.Duration
}

// Run executes one request to a terminal state. The returned result is
// never nil. When the run fails, the error is the result's *models.RunError.
func (e *Engine) Run(ctx context.Context, req models.RunRequest) (*models.RunResult, error) {
	p, result, runErr := e.begin(ctx, req)
	if runErr != nil {
		return result, runErr
	}
	if err := e.execute(p); err != nil {
		return p.result, err
	}
	return p.result, nil
}

// Start validates and registers a run, then executes it in the background.
// The run is visible to Status and CancelRun as soon as Start returns. done
// receives the terminal result and is then closed. A rejected request
// returns a *models.RunError and never starts.
func (e *Engine) Start(ctx context.Context, req models.RunRequest) (string, <-chan *models.RunResult, error) {
	p, _, runErr := e.begin(ctx, req)
	if runErr != nil {
		return "", nil, runErr
	}
	done := make(chan *models.RunResult, 1)
	go func() {
		defer close(done)
		e.execute(p)
		done <- p.result
	}()
	return p.state.id, done, nil
}

// begin validates req and registers the run as pending. On rejection the
// returned result is already terminal.
func (e *Engine) begin(ctx context.Context, req models.RunRequest) (*pendingRun, *models.RunResult, *models.RunError) {
	now := time.Now().UTC()
	result := &models.RunResult{
		RunID:     uuid.New().String(),
		SessionID: uuid.New().String(),
		ProjectID: req.ProjectID,
		Tool:      req.Tool,
		Status:    models.RunPending,
		StartedAt: now,
	}
	if result.ProjectID == "" {
		result.ProjectID = DefaultProject
	}
	if req.RunID != "" {
		result.RunID = req.RunID
	}

	reject := func(err error) (*pendingRun, *models.RunResult, *models.RunError) {
		runErr := &models.RunError{Kind: models.KindInvalidConfiguration, Err: err}
		result.Status = models.RunFailed
		result.Error = runErr
		result.CompletedAt = time.Now().UTC()
		log.Warn().Err(err).Str("tool", string(req.Tool)).Msg("Run rejected")
		return nil, result, runErr
	}

	def, depth, err := e.prepare(req)
	if err != nil {
		return reject(err)
	}

	timeout := e.opts.RunTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)

	r := &runState{
		id: result.RunID,
		session: models.Session{
			ID:        result.SessionID,
			ProjectID: result.ProjectID,
			ToolKind:  req.Tool,
			CreatedAt: now,
		},
		req:      req,
		def:      def,
		depth:    depth,
		cancel:   cancel,
		status:   models.RunPending,
		outputs:  make(map[string]string),
		attempts: make(map[string]int),
	}
	if !e.reserve(r) {
		cancel()
		return reject(fmt.Errorf("%w: %s", ErrRunExists, r.id))
	}
	return &pendingRun{parent: ctx, runCtx: runCtx, state: r, result: result, timeout: timeout}, result, nil
}

// execute drives a registered run to a terminal state and fills p.result.
func (e *Engine) execute(p *pendingRun) *models.RunError {
	r, result := p.state, p.result
	defer r.cancel()

	runCtx, span := e.tracer.Start(p.runCtx, "workflow.run",
		trace.WithAttributes(
			attribute.String("uiforge.run_id", r.id),
			attribute.String("uiforge.tool", string(r.req.Tool)),
			attribute.String("uiforge.project", r.session.ProjectID),
		),
	)
	defer span.End()

	e.sessions.Open(r.session)
	defer e.sessions.Discard(r.session.ID)

	log.Info().
		Str("run_id", r.id).
		Str("tool", string(r.req.Tool)).
		Str("project", r.session.ProjectID).
		Int("stages", len(r.def.Stages)).
		Dur("timeout", p.timeout).
		Msg("🎨 Run started")

	r.setStatus(models.RunRunning)
	if err := e.executeLayers(runCtx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(err.Kind))
		e.failRun(p.parent, r, result, err)
		return err
	}
	e.completeRun(p.parent, runCtx, r, result)
	return nil
}

// prepare validates the request and resolves its pipeline.
func (e *Engine) prepare(req models.RunRequest) (*pipeline.Definition, models.ReasoningDepth, error) {
	sections := req.Sections
	if sections <= 0 {
		sections = e.opts.PageSections
	}
	def, err := e.registry.Resolve(req.Tool, pipeline.Options{Sections: sections})
	if err != nil {
		return nil, "", err
	}

	depth := e.opts.Depth
	if req.Depth != "" {
		if !req.Depth.Valid() {
			return nil, "", fmt.Errorf("%w: reasoning depth %q", agent.ErrInvalidConfiguration, req.Depth)
		}
		depth = req.Depth
	}
	if req.Timeout < 0 {
		return nil, "", fmt.Errorf("%w: negative timeout", agent.ErrInvalidConfiguration)
	}
	switch req.Tool {
	case models.ToolRefine:
		if strings.TrimSpace(req.PriorContent) == "" {
			return nil, "", fmt.Errorf("%w: refine requires prior content", agent.ErrInvalidConfiguration)
		}
	case models.ToolReplace:
		if strings.TrimSpace(req.PriorContent) == "" || strings.TrimSpace(req.Region) == "" {
			return nil, "", fmt.Errorf("%w: replace requires prior content and a region", agent.ErrInvalidConfiguration)
		}
	case models.ToolReference:
		if len(req.ReferenceImage) == 0 {
			return nil, "", fmt.Errorf("%w: reference requires an image", agent.ErrInvalidConfiguration)
		}
	default:
		if strings.TrimSpace(req.Brief) == "" {
			return nil, "", fmt.Errorf("%w: %s requires a brief", agent.ErrInvalidConfiguration, req.Tool)
		}
	}
	return def, depth, nil
}

// ── Layer Execution ─────────────────────────────────────────

// layerInput is captured once per layer, before any member is dispatched.
type layerInput struct {
	dna      models.DesignDNA
	snapshot []byte
	context  models.ContextPayload
}

// stageOutcome is an executed but not yet committed stage.
type stageOutcome struct {
	stage  pipeline.Stage
	result *models.StageResult
}

func (e *Engine) executeLayers(ctx context.Context, r *runState) *models.RunError {
	layers, err := r.def.Layers()
	if err != nil {
		return &models.RunError{Kind: models.KindInvalidConfiguration, Err: err}
	}

	for _, layer := range layers {
		if err := ctx.Err(); err != nil {
			return e.classify(ctx, layer.Stages[0].Name, err)
		}

		current, err := e.dna.Read(ctx, r.session.ProjectID)
		if err != nil {
			return e.classify(ctx, layer.Stages[0].Name, fmt.Errorf("read design dna: %w", agent.Transientf("%v", err)))
		}
		in := layerInput{
			dna:      current,
			snapshot: dna.Snapshot(current),
			context:  e.sessions.ForRequest(r.session.ID),
		}

		outcomes := make([]*stageOutcome, len(layer.Stages))
		if len(layer.Stages) == 1 {
			out, err := e.executeStage(ctx, r, layer.Stages[0], in)
			if err != nil {
				return e.classify(ctx, layer.Stages[0].Name, err)
			}
			outcomes[0] = out
		} else {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(e.opts.MaxConcurrency)
			for i, st := range layer.Stages {
				i, st := i, st
				g.Go(func() error {
					out, err := e.executeStage(gctx, r, st, in)
					if err != nil {
						return &models.RunError{Stage: st.Name, Kind: agent.KindOf(err), Err: err}
					}
					outcomes[i] = out
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return e.classify(ctx, "", err)
			}
		}

		// Results that arrive after the run ended are dropped.
		if err := ctx.Err(); err != nil {
			return e.classify(ctx, layer.Stages[len(layer.Stages)-1].Name, err)
		}
		for _, out := range outcomes {
			if err := e.commit(ctx, r, out); err != nil {
				return e.classify(ctx, out.stage.Name, err)
			}
		}
	}
	return nil
}

// classify turns a stage failure into a RunError. The run context's own
// state wins: a deadline is a timeout even if the stage saw a cancellation.
func (e *Engine) classify(ctx context.Context, stage string, err error) *models.RunError {
	var runErr *models.RunError
	if errors.As(err, &runErr) {
		if stage == "" {
			stage = runErr.Stage
		}
		err = runErr.Err
	}
	kind := agent.KindOf(err)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = models.KindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		kind = models.KindCanceled
	}
	return &models.RunError{Stage: stage, Kind: kind, Err: err}
}

// executeStage runs one stage without committing anything.
func (e *Engine) executeStage(ctx context.Context, r *runState, st pipeline.Stage, li layerInput) (*stageOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.stage",
		trace.WithAttributes(
			attribute.String("uiforge.run_id", r.id),
			attribute.String("uiforge.stage", st.Name),
			attribute.String("uiforge.role", string(st.Role)),
		),
	)
	defer span.End()

	if st.Kind == pipeline.KindValidate {
		return e.validateStage(ctx, r, st), nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a stage slot: %w", err)
	}
	defer e.sem.Release(1)

	in := e.stageInput(r, st, li)
	log.Debug().Str("run_id", r.id).Str("stage", st.Name).Str("role", string(st.Role)).Msg("Stage started")

	var (
		res *models.StageResult
		err error
	)
	if st.QualityGated {
		res, err = e.refine(ctx, r, st, in)
	} else {
		res, err = e.invokeWithRetry(ctx, r, st, in, callMeta{})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(agent.KindOf(err)))
		return nil, err
	}

	res.Stage = st.Name
	if st.ExtractsDNA {
		res.Tokens = e.tokens(res.Content)
	}
	return &stageOutcome{stage: st, result: res}, nil
}

func (e *Engine) stageInput(r *runState, st pipeline.Stage, li layerInput) StageInput {
	in := StageInput{
		RunID:          r.id,
		SessionID:      r.session.ID,
		ProjectID:      r.session.ProjectID,
		Tool:           r.req.Tool,
		Brief:          r.req.Brief,
		DNA:            li.dna,
		DNASnapshot:    li.snapshot,
		Context:        li.context,
		Prior:          r.req.PriorContent,
		PriorSection:   r.req.PriorSection,
		Region:         r.req.Region,
		ReferenceImage: r.req.ReferenceImage,
		Attempt:        1,
	}
	for _, up := range r.def.Upstream(st.Name) {
		in.Upstream = append(in.Upstream, UpstreamOutput{Stage: up, Content: r.output(up)})
	}
	return in
}

// validateStage runs the local validator over the artifacts assembled so far.
func (e *Engine) validateStage(ctx context.Context, r *runState, st pipeline.Stage) *stageOutcome {
	start := time.Now()
	bundle := e.assemble(r)

	var violations []models.Violation
	for _, kind := range st.Validates {
		var content string
		switch kind {
		case models.ArtifactMarkup:
			content = bundle.Markup
		case models.ArtifactStyle:
			content = bundle.Style
		case models.ArtifactScript:
			content = bundle.Script
		}
		violations = append(violations, e.validator.Validate(ctx, kind, content)...)
	}
	elapsed := time.Since(start)

	e.recorder.Record(models.TelemetryEvent{
		RunID:    r.id,
		Stage:    st.Name,
		Attempt:  r.nextAttempt(st.Name),
		Duration: elapsed,
		Outcome:  models.OutcomeSuccess,
		At:       start.UTC(),
	})
	if len(violations) > 0 {
		log.Warn().Str("run_id", r.id).Str("stage", st.Name).Int("violations", len(violations)).Msg("⚠️ Validation found problems")
	}

	return &stageOutcome{stage: st, result: &models.StageResult{
		Stage:      st.Name,
		Role:       string(st.Role),
		Status:     models.StageCompleted,
		Attempt:    1,
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
		Violations: violations,
	}}
}

// commit makes a stage's output visible to later stages.
func (e *Engine) commit(ctx context.Context, r *runState, out *stageOutcome) error {
	st, res := out.stage, out.result

	if st.ExtractsDNA && len(res.Tokens) > 0 {
		merged, err := e.dna.ExtractAndMerge(ctx, r.session.ProjectID, res.Tokens)
		if err != nil {
			return fmt.Errorf("merge design dna: %w", agent.Transientf("%v", err))
		}
		log.Debug().Str("run_id", r.id).Str("stage", st.Name).Int("tokens", len(res.Tokens)).Int("dna_size", len(merged)).Msg("Design DNA merged")
	}
	if st.WritesContext {
		sig := res.Signature
		sig.Stage = st.Name
		e.sessions.Record(r.session.ID, sig)
	}

	r.mu.Lock()
	if st.Kind != pipeline.KindValidate {
		r.outputs[st.Name] = res.Content
	}
	r.violations = append(r.violations, res.Violations...)
	if res.Score != nil {
		s := *res.Score
		r.finalScore = &s
	}
	r.results = append(r.results, *res)
	r.mu.Unlock()

	if res.Score != nil {
		e.recorder.RecordScore(r.id, st.Name, *res.Score)
	}

	log.Info().
		Str("run_id", r.id).
		Str("stage", st.Name).
		Int64("duration_ms", res.DurationMs).
		Msg("✅ Stage committed")
	return nil
}

// assemble builds the bundle from committed outputs.
func (e *Engine) assemble(r *runState) *models.ArtifactBundle {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := &models.ArtifactBundle{Stages: make(map[string]string, len(r.outputs))}
	for _, st := range r.def.Stages {
		content, ok := r.outputs[st.Name]
		if !ok {
			continue
		}
		b.Stages[st.Name] = content
		switch st.Output {
		case pipeline.SlotMarkup:
			b.Markup = content
		case pipeline.SlotStyle:
			b.Style = content
		case pipeline.SlotScript:
			b.Script = content
		case pipeline.SlotSection:
			b.Sections = append(b.Sections, content)
		}
	}
	if b.Markup == "" && len(b.Sections) > 0 {
		b.Markup = strings.Join(b.Sections, "\n")
	}
	b.Violations = append([]models.Violation(nil), r.violations...)
	if r.finalScore != nil {
		s := *r.finalScore
		b.FinalScore = &s
	}
	return b
}

// ── Terminal States ─────────────────────────────────────────

func (e *Engine) completeRun(parent, runCtx context.Context, r *runState, result *models.RunResult) {
	bundle := e.assemble(r)
	if current, err := e.dna.Read(runCtx, r.session.ProjectID); err == nil {
		bundle.DNA = current
	} else {
		log.Warn().Err(err).Str("run_id", r.id).Msg("Failed to read final design DNA")
	}

	now := time.Now().UTC()
	result.Status = models.RunSucceeded
	result.Bundle = bundle
	result.CompletedAt = now
	result.DurationMs = now.Sub(result.StartedAt).Milliseconds()
	r.mu.Lock()
	result.StageResults = append([]models.StageResult(nil), r.results...)
	r.mu.Unlock()

	result.Summary = e.summarize(parent, r.id)

	if e.archiver != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
		path, err := e.archiver.Save(actx, bundle, archive.Meta{
			RunID:       r.id,
			SessionID:   r.session.ID,
			ProjectID:   r.session.ProjectID,
			Tool:        r.req.Tool,
			CompletedAt: now,
			Summary:     result.Summary,
		})
		cancel()
		if err != nil {
			log.Error().Err(err).Str("run_id", r.id).Msg("Failed to archive artifact bundle")
		} else {
			log.Debug().Str("run_id", r.id).Str("path", path).Msg("Artifact bundle archived")
		}
	}

	r.setStatus(models.RunSucceeded)
	e.unregister(r, models.RunSucceeded)

	ev := log.Info().
		Str("run_id", r.id).
		Int64("duration_ms", result.DurationMs).
		Int("stages", len(result.StageResults)).
		Int("violations", len(bundle.Violations))
	if bundle.FinalScore != nil {
		ev = ev.Float64("score", bundle.FinalScore.Overall())
	}
	ev.Msg("🎉 Run completed")
}

func (e *Engine) failRun(parent context.Context, r *runState, result *models.RunResult, runErr *models.RunError) {
	now := time.Now().UTC()
	result.Status = models.RunFailed
	result.Error = runErr
	result.CompletedAt = now
	result.DurationMs = now.Sub(result.StartedAt).Milliseconds()
	r.mu.Lock()
	result.StageResults = append([]models.StageResult(nil), r.results...)
	r.mu.Unlock()
	if runErr.Stage != "" {
		status := models.StageFailed
		if runErr.Kind == models.KindCanceled || runErr.Kind == models.KindTimeout {
			status = models.StageCanceled
		}
		result.StageResults = append(result.StageResults, models.StageResult{
			Stage:   runErr.Stage,
			Status:  status,
			Attempt: r.attemptsOf(runErr.Stage),
			Error:   runErr.Err.Error(),
		})
	}

	result.Summary = e.summarize(parent, r.id)

	r.setStatus(models.RunFailed)
	e.unregister(r, models.RunFailed)

	log.Error().
		Str("run_id", r.id).
		Str("stage", runErr.Stage).
		Str("kind", string(runErr.Kind)).
		Err(runErr.Err).
		Msg("💥 Run failed")
}

// summarize flushes pending telemetry, even when the run context has ended.
func (e *Engine) summarize(parent context.Context, runID string) *models.TelemetrySummary {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 2*time.Second)
	defer cancel()
	if err := e.recorder.Flush(fctx); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("Telemetry flush timed out")
	}
	sum, ok := e.recorder.Summarize(runID)
	if !ok {
		return nil
	}
	return &sum
}
