package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hb-chen/skillexec/internal/config"
)

func TestInitDisabled(t *testing.T) {
	p, err := Init(context.Background(), config.OTelConfig{}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.NotNil(t, p.TracerProvider().Tracer("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitEnabled(t *testing.T) {
	// the exporter connects lazily so no collector is needed
	p, err := Init(context.Background(), config.OTelConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4317",
		ServiceName: "skillexec-test",
		SampleRate:  1,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestNilProviders(t *testing.T) {
	var p *Providers
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}
