package resample

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProcessPassesThroughWhenConfigsMatch(t *testing.T) {
	rs, err := New(zap.NewNop())
	require.NoError(t, err)

	cfg := Config{SampleRate: 48000, Channels: 2}
	in := []float32{0.1, -0.2, 0.3, -0.4}
	out, err := rs.Process(in, cfg, cfg)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
