package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentoven/uiforge/internal/pipeline"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
)

// DefaultAcceptExpr accepts a candidate once its weighted score meets the threshold.
const DefaultAcceptExpr = "overall >= threshold"

// TieBreak picks between equally scored attempts.
type TieBreak string

const (
	TieBreakFirst TieBreak = "first"
	TieBreakLast  TieBreak = "last"
)

// acceptEnv is the variable set an acceptance expression may use.
func acceptEnv(score models.QualityScore, threshold float64, attempt int) map[string]any {
	return map[string]any{
		"overall":       score.Overall(),
		"threshold":     threshold,
		"layout":        score.Layout,
		"typography":    score.Typography,
		"color":         score.Color,
		"interaction":   score.Interaction,
		"accessibility": score.Accessibility,
		"attempt":       attempt,
	}
}

// compileAccept compiles a boolean acceptance expression.
func compileAccept(src string) (*vm.Program, error) {
	if strings.TrimSpace(src) == "" {
		src = DefaultAcceptExpr
	}
	prog, err := expr.Compile(src, expr.Env(acceptEnv(models.QualityScore{}, 0, 0)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile acceptance expression %q: %w", src, err)
	}
	return prog, nil
}

func (e *Engine) accepts(score models.QualityScore, attempt int) (bool, error) {
	out, err := expr.Run(e.accept, acceptEnv(score, e.opts.QualityThreshold, attempt))
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

// better reports whether candidate should replace best under the tie-break rule.
func better(candidate, best models.QualityScore, tb TieBreak) bool {
	c, b := candidate.Overall(), best.Overall()
	if tb == TieBreakLast {
		return c >= b
	}
	return c > b
}

// ── Refinement Loop ─────────────────────────────────────────

// refine runs a quality-gated stage: generate, score, then either accept or
// retry with the reviewer's feedback. It is bounded by MaxAttempts and keeps
// the best-scoring attempt. Missing the threshold is not an error; the best
// attempt is returned with its score and marked degraded.
//
// Iterations on the returned result counts the retries performed, and
// Attempts lists every scored attempt in order.
func (e *Engine) refine(ctx context.Context, r *runState, st pipeline.Stage, in StageInput) (*models.StageResult, error) {
	var (
		best       *models.StageResult
		attempts   []models.StageResult
		iterations int
		accepted   bool
	)

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			iterations++
			r.setStatus(models.RunRefining)
		}
		in.Attempt = attempt

		res, err := e.invokeWithRetry(ctx, r, st, in, callMeta{refinement: true, iteration: attempt - 1})
		if err != nil {
			return nil, err
		}

		score, err := e.score(ctx, r, st, in, res.Content)
		if err != nil {
			return nil, err
		}
		res.Score = &score
		res.Iterations = attempt - 1
		attempts = append(attempts, *res)

		if best == nil || better(score, *best.Score, e.opts.TieBreak) {
			best = res
		}

		ok, err := e.accepts(score, attempt)
		if err != nil {
			log.Warn().Err(err).Str("run_id", r.id).Str("stage", st.Name).Msg("Acceptance expression failed, treating as reject")
		}

		log.Debug().
			Str("run_id", r.id).
			Str("stage", st.Name).
			Int("attempt", attempt).
			Float64("overall", score.Overall()).
			Bool("accepted", ok).
			Msg("Candidate scored")

		if ok {
			accepted = true
			break
		}
		in.Feedback = score.Feedback
		in.PreviousOutput = res.Content
	}
	r.setStatus(models.RunRunning)

	best.Iterations = iterations
	best.Attempts = attempts
	if !accepted {
		best.Degraded = models.KindQualityNotMet
		log.Warn().
			Str("run_id", r.id).
			Str("stage", st.Name).
			Int("attempts", e.opts.MaxAttempts).
			Float64("best", best.Score.Overall()).
			Float64("threshold", e.opts.QualityThreshold).
			Msg("Quality threshold not met, keeping best attempt")
	}
	return best, nil
}

// score asks the scorer role to rate a candidate. Scorer calls never write
// to the session context.
func (e *Engine) score(ctx context.Context, r *runState, st pipeline.Stage, in StageInput, candidate string) (models.QualityScore, error) {
	scorer := scoringStage(st)
	sin := in
	sin.Upstream = append(append([]UpstreamOutput(nil), in.Upstream...), UpstreamOutput{Stage: st.Name, Content: candidate})
	sin.Feedback = ""
	sin.PreviousOutput = ""

	res, err := e.invokeWithRetry(ctx, r, scorer, sin, callMeta{scoring: true})
	if err != nil {
		return models.QualityScore{}, err
	}
	return *res.Score, nil
}

type scoreDoc struct {
	Layout        *float64 `json:"layout"`
	Typography    *float64 `json:"typography"`
	Color         *float64 `json:"color"`
	Interaction   *float64 `json:"interaction"`
	Accessibility *float64 `json:"accessibility"`
	Overall       *float64 `json:"overall"`
	Feedback      string   `json:"feedback"`
}

// ParseScore reads the scorer's JSON reply. The object may be wrapped in
// prose or a code fence. A reply with only "overall" scores every dimension
// the same. Anything unparseable scores 0 and keeps the raw text as feedback.
func ParseScore(content string) models.QualityScore {
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return models.QualityScore{Feedback: strings.TrimSpace(content)}
	}

	var doc scoreDoc
	if err := json.Unmarshal([]byte(content[start:end+1]), &doc); err != nil {
		return models.QualityScore{Feedback: strings.TrimSpace(content)}
	}

	dims := []*float64{doc.Layout, doc.Typography, doc.Color, doc.Interaction, doc.Accessibility}
	anyDim := false
	for _, d := range dims {
		if d != nil {
			anyDim = true
		}
	}
	if !anyDim {
		if doc.Overall == nil {
			return models.QualityScore{Feedback: strings.TrimSpace(content)}
		}
		s := models.UniformScore(*doc.Overall).Clamped()
		s.Feedback = doc.Feedback
		return s
	}

	val := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	return models.QualityScore{
		Layout:        val(doc.Layout),
		Typography:    val(doc.Typography),
		Color:         val(doc.Color),
		Interaction:   val(doc.Interaction),
		Accessibility: val(doc.Accessibility),
		Feedback:      doc.Feedback,
	}.Clamped()
}
