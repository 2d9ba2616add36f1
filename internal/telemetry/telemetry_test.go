package telemetry_test

import (
	"context"
	"testing"

	"github.com/agentoven/uiforge/internal/config"
	"github.com/agentoven/uiforge/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	for _, cfg := range []config.TelemetryConfig{
		{Enabled: false, OTLPEndpoint: "localhost:4317"},
		{Enabled: true, OTLPEndpoint: ""},
	} {
		shutdown, err := telemetry.Init(context.Background(), cfg, "test")
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	}
}
