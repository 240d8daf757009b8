// Package opusenc wraps the Opus encoder (spec §4.11).
package opusenc

import (
	"github.com/discord-voice-lab/internal/model"
	"github.com/hraban/opus"
)

const (
	channels         = 2
	sampleRate       = 48000
	frameSamples     = 960 // 20ms at 48kHz
	initialBitrate   = 64000
	minBitrate       = 8000
	maxBitrate       = 128000
)

// Encoder wraps *opus.Encoder with the bitrate clamp and frame-size
// contract the spec requires.
type Encoder struct {
	enc *opus.Encoder
}

// New constructs an encoder: channels=2, 48kHz, initial bitrate 64kbps,
// signal type music.
func New() (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	if setErr := enc.SetBitrate(initialBitrate); setErr != nil {
		return nil, setErr
	}
	return &Encoder{enc: enc}, nil
}

// SetBitrate clamps to [8000, 128000] before applying (spec §4.11).
func (e *Encoder) SetBitrate(bps int) error {
	if bps < minBitrate {
		bps = minBitrate
	}
	if bps > maxBitrate {
		bps = maxBitrate
	}
	return e.enc.SetBitrate(bps)
}

// Encode takes exactly frameSamples*channels interleaved float32 samples and
// produces one OpusFrame. An encode error (errors ≤ 0) yields an empty
// frame rather than propagating (spec §4.11).
func (e *Encoder) Encode(pcm []float32) model.OpusFrame {
	buf := make([]byte, 4000)
	n, err := e.enc.EncodeFloat32(pcm, buf)
	if err != nil || n <= 0 {
		return model.OpusFrame{SampleCount: frameSamples}
	}
	return model.OpusFrame{Bytes: buf[:n], SampleCount: frameSamples}
}

// FrameSamples is the fixed 20ms/960-sample frame size this encoder expects.
const FrameSamples = frameSamples
