// Package agent implements the uniform invocation contract around the remote
// generative-model service.
//
// The adapter enforces a fixed sampling temperature and the closed set of
// reasoning depths, captures the continuation token returned by each call,
// and classifies failures. It never interprets the content it carries.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/agentoven/uiforge/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// FixedTemperature is sent with every request.
const FixedTemperature = 0.7

// Attachment is binary input for a call, e.g. a reference image.
type Attachment struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Request is what the model service receives.
type Request struct {
	Role        string                `json:"role"`
	Prompt      string                `json:"prompt"`
	Context     models.ContextPayload `json:"context"`
	Depth       models.ReasoningDepth `json:"reasoning_depth"`
	Temperature float64               `json:"temperature"`
	Attachments []Attachment          `json:"attachments,omitempty"`
}

// Response is what the model service returns on success.
type Response struct {
	Content   string `json:"content"`
	Signature string `json:"signature"`
}

// Service is the external generative-model service. Implementations return
// failures wrapping ErrTransient, ErrRateLimited or ErrRejectedContent.
type Service interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ServiceFunc) Generate(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Adapter wraps a Service with validation, pacing, tracing and signature capture.
type Adapter struct {
	service Service
	limiter *rate.Limiter
	tracer  trace.Tracer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRateLimit paces outgoing calls client-side. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *Adapter) {
		if rps <= 0 {
			a.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewAdapter creates an adapter around svc.
func NewAdapter(svc Service, opts ...Option) *Adapter {
	a := &Adapter{
		service: svc,
		tracer:  otel.Tracer("github.com/agentoven/uiforge/internal/agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type callResult struct {
	resp *Response
	err  error
}

// Invoke performs one model call for role. On success the returned result
// holds the content and the new thought signature; Stage is left for the
// caller to fill in.
//
// If ctx ends before the service answers, the call is abandoned: Invoke
// returns immediately and whatever the service eventually produces is dropped.
func (a *Adapter) Invoke(ctx context.Context, role, prompt string, payload models.ContextPayload, depth models.ReasoningDepth, attachments ...Attachment) (*models.StageResult, error) {
	if !depth.Valid() {
		return nil, Invalidf("reasoning depth %q is not one of low, medium, high", depth)
	}
	if role == "" {
		return nil, Invalidf("agent role is required")
	}
	if a.service == nil {
		return nil, Invalidf("no model service configured")
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("waiting for rate limiter: %w", ctx.Err())
			}
			return nil, Transientf("rate limiter: %v", err)
		}
	}

	ctx, span := a.tracer.Start(ctx, "agent.invoke",
		trace.WithAttributes(
			attribute.String("uiforge.role", role),
			attribute.String("uiforge.depth", string(depth)),
			attribute.Bool("uiforge.context_empty", payload.Empty),
		),
	)
	defer span.End()

	req := &Request{
		Role:        role,
		Prompt:      prompt,
		Context:     payload,
		Depth:       depth,
		Temperature: FixedTemperature,
		Attachments: attachments,
	}

	start := time.Now()
	done := make(chan callResult, 1)
	go func() {
		resp, err := a.service.Generate(ctx, req)
		done <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		span.SetStatus(codes.Error, "abandoned")
		log.Debug().Str("role", role).Msg("Model call abandoned")
		return nil, fmt.Errorf("model call abandoned: %w", ctx.Err())
	}

	elapsed := time.Since(start)
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, string(KindOf(res.err)))
		return nil, res.err
	}
	if res.resp == nil {
		return nil, Transientf("empty response from model service")
	}

	span.SetAttributes(attribute.Int("uiforge.content_bytes", len(res.resp.Content)))
	return &models.StageResult{
		Role:    role,
		Status:  models.StageCompleted,
		Content: res.resp.Content,
		Signature: models.ThoughtSignature{
			Token:      res.resp.Signature,
			RecordedAt: time.Now().UTC(),
		},
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}, nil
}
