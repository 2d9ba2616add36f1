package agent_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentoven/uiforge/internal/agent"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke_PassThroughAndSignature(t *testing.T) {
	var got *agent.Request
	svc := agent.ServiceFunc(func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		got = req
		return &agent.Response{Content: "<div>hi</div>", Signature: "sig-1"}, nil
	})
	a := agent.NewAdapter(svc)

	payload := models.ContextPayload{Signatures: []string{"sig-0"}}
	res, err := a.Invoke(context.Background(), "generator", "make a card", payload, models.DepthHigh)
	require.NoError(t, err)

	assert.Equal(t, "<div>hi</div>", res.Content)
	assert.Equal(t, "sig-1", res.Signature.Token)
	assert.Equal(t, models.StageCompleted, res.Status)
	assert.Equal(t, "generator", res.Role)

	require.NotNil(t, got)
	assert.Equal(t, agent.FixedTemperature, got.Temperature)
	assert.Equal(t, models.DepthHigh, got.Depth)
	assert.Equal(t, []string{"sig-0"}, got.Context.Signatures)
	assert.Equal(t, "make a card", got.Prompt)
}

func TestInvoke_InvalidDepthPerformsNoCall(t *testing.T) {
	var calls int32
	svc := agent.ServiceFunc(func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		atomic.AddInt32(&calls, 1)
		return &agent.Response{}, nil
	})
	a := agent.NewAdapter(svc)

	_, err := a.Invoke(context.Background(), "generator", "p", models.EmptyContext(), models.ReasoningDepth("extreme"))
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrInvalidConfiguration)
	assert.Equal(t, models.KindInvalidConfiguration, agent.KindOf(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestInvoke_PropagatesTypedFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"transient", agent.Transientf("503"), models.KindTransient},
		{"rate limited", agent.RateLimited(time.Second, "slow down"), models.KindRateLimited},
		{"rejected", agent.Rejectedf("policy"), models.KindRejectedContent},
		{"unknown", errors.New("boom"), models.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := agent.ServiceFunc(func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
				return nil, tc.err
			})
			_, err := agent.NewAdapter(svc).Invoke(context.Background(), "scorer", "p", models.EmptyContext(), models.DepthLow)
			require.Error(t, err)
			assert.Equal(t, tc.want, agent.KindOf(err))
		})
	}
}

func TestInvoke_AbandonsOnDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	svc := agent.ServiceFunc(func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		<-release // ignores ctx on purpose
		return &agent.Response{Content: "late"}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := agent.NewAdapter(svc).Invoke(ctx, "generator", "p", models.EmptyContext(), models.DepthMedium)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, models.KindTimeout, agent.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryAfter(t *testing.T) {
	d, ok := agent.RetryAfter(agent.RateLimited(3*time.Second, "x"))
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = agent.RetryAfter(agent.Transientf("x"))
	assert.False(t, ok)
}

func TestWithRateLimit_Paces(t *testing.T) {
	svc := agent.ServiceFunc(func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		return &agent.Response{Content: "ok"}, nil
	})
	a := agent.NewAdapter(svc, agent.WithRateLimit(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := a.Invoke(context.Background(), "generator", "p", models.EmptyContext(), models.DepthLow)
		require.NoError(t, err)
	}
	// Burst of 1 at 20 rps: two waits of ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
