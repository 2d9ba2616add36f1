package agent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentoven/uiforge/internal/agent"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, handler http.HandlerFunc) *agent.HTTPService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return agent.NewHTTPService(srv.URL, "secret", 5*time.Second)
}

func TestHTTPService_Success(t *testing.T) {
	svc := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req agent.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "stylist", req.Role)
		assert.Equal(t, agent.FixedTemperature, req.Temperature)
		assert.True(t, req.Context.Empty)

		json.NewEncoder(w).Encode(map[string]string{"content": "body{}", "signature": "s1"})
	})

	res, err := agent.NewAdapter(svc).Invoke(context.Background(), "stylist", "style it", models.EmptyContext(), models.DepthMedium)
	require.NoError(t, err)
	assert.Equal(t, "body{}", res.Content)
	assert.Equal(t, "s1", res.Signature.Token)
}

func TestHTTPService_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header map[string]string
		body   string
		want   models.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "2"}, `{"error":{"message":"quota"}}`, models.KindRateLimited},
		{"rejected", http.StatusUnprocessableEntity, nil, `{"error":{"message":"policy"}}`, models.KindRejectedContent},
		{"bad request", http.StatusBadRequest, nil, `bad`, models.KindInvalidConfiguration},
		{"server error", http.StatusBadGateway, nil, `upstream`, models.KindTransient},
		{"blocked finish", http.StatusOK, nil, `{"content":"","finish_reason":"blocked"}`, models.KindRejectedContent},
		{"garbled body", http.StatusOK, nil, `not json`, models.KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := svc.Generate(context.Background(), &agent.Request{Role: "generator"})
			require.Error(t, err)
			assert.Equal(t, tc.want, agent.KindOf(err))
		})
	}
}

func TestHTTPService_RetryAfterHeader(t *testing.T) {
	svc := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := svc.Generate(context.Background(), &agent.Request{Role: "generator"})
	d, ok := agent.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)
}

func TestHTTPService_HealthCheck(t *testing.T) {
	svc := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, svc.HealthCheck(context.Background()))
}
