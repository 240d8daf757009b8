// Package resample is the pipeline's rate-conversion stage: it converts the
// decoder's native-rate stereo PCM to the 48kHz target (ffmpeg is not asked
// to resample), using the pack's resampler library directly rather than
// re-invoking ffmpeg per frame.
package resample

import (
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"
	"go.uber.org/zap"
)

// Config describes one side of a resample (source or target).
type Config struct {
	SampleRate int
	Channels   int
}

// Resampler wraps the pack's resampler, constructed once per decode session.
type Resampler struct {
	r *resampler.Resampler
}

// New builds a Resampler bound to a zap logger, matching the
// GetResampler(logger) construction pattern observed across the pack's
// audio wrappers.
func New(logger *zap.Logger) (*Resampler, error) {
	r, err := resampler.GetResampler(logger)
	if err != nil {
		return nil, fmt.Errorf("resample: construct: %w", err)
	}
	return &Resampler{r: r}, nil
}

// Process resamples interleaved float32 PCM from src to dst's rate/channel
// layout. It is a no-op pass-through when src == dst.
func (rs *Resampler) Process(data []float32, src, dst Config) ([]float32, error) {
	if src.SampleRate == dst.SampleRate && src.Channels == dst.Channels {
		return data, nil
	}
	return rs.r.Resample(data, resampler.Config{
		SampleRate: src.SampleRate,
		Channels:   src.Channels,
	}, resampler.Config{
		SampleRate: dst.SampleRate,
		Channels:   dst.Channels,
	})
}
