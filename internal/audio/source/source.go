// Package source implements the two audio source variants — file and
// subprocess — behind a shared pull interface, plus the next_frame helper
// that turns decoded PCM into 20ms Opus frames (spec §4.12).
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/discord-voice-lab/internal/audio/decode"
	"github.com/discord-voice-lab/internal/audio/opusenc"
	"github.com/discord-voice-lab/internal/audio/resample"
	"github.com/discord-voice-lab/internal/logging"
	"github.com/discord-voice-lab/internal/model"
)

const (
	pcmSampleRate = 48000
	pcmChannels   = 2
)

var targetPCMConfig = resample.Config{SampleRate: pcmSampleRate, Channels: pcmChannels}

// ReadyStatus is reported to the director once prepare() completes.
type ReadyStatus int

const (
	ReadyOK ReadyStatus = iota
	ReadyIOError
)

// Source is the pull interface both variants satisfy.
type Source interface {
	Prepare(ctx context.Context) (ReadyStatus, error)
	Next() (model.OpusFrame, error)
	Close() error
}

const feedChunkSize = 64 * 1024

// nextFrame is the helper shared by both source variants: pull enough
// native-rate stereo samples from the decoder to cover one 20ms Opus frame,
// resample them up/down to the pipeline's 48kHz target, encode, and mark
// end-of-source on the final short read (spec §4.12). The decoder itself no
// longer resamples (see internal/audio/decode), so src and dst genuinely
// differ whenever the source isn't already 48kHz and the resampler does
// real work instead of a no-op pass-through.
func nextFrame(dec *decode.Decoder, rs *resample.Resampler, enc *opusenc.Encoder) (model.OpusFrame, error) {
	srcRate := dec.SourceRate()
	if srcRate <= 0 {
		srcRate = pcmSampleRate
	}
	nativeFrames := opusenc.FrameSamples
	if srcRate != pcmSampleRate {
		nativeFrames = opusenc.FrameSamples * srcRate / pcmSampleRate
	}

	samples, eos := dec.Read(nativeFrames)
	wantNative := nativeFrames * pcmChannels
	if len(samples) < wantNative {
		padded := make([]float32, wantNative)
		copy(padded, samples)
		samples = padded
	}

	out := samples
	if rs != nil {
		srcConfig := resample.Config{SampleRate: srcRate, Channels: pcmChannels}
		resampled, err := rs.Process(samples, srcConfig, targetPCMConfig)
		if err != nil {
			logging.Warnw("source: resample failed, using native-rate samples", "err", err)
		} else {
			out = resampled
		}
	}

	// Opus wants exactly FrameSamples stereo samples per call; an integer
	// rate ratio can leave the resampled length off by a sample or two, so
	// clamp to the exact frame size rather than handing Opus a short buffer.
	want := opusenc.FrameSamples * pcmChannels
	if len(out) != want {
		fixed := make([]float32, want)
		copy(fixed, out)
		out = fixed
	}

	frame := enc.Encode(out)
	frame.EndOfSource = eos
	return frame, nil
}

// FileSource reads an entire file into the decoder's feed buffer up front.
type FileSource struct {
	path string
	dec  *decode.Decoder
	rs   *resample.Resampler
	enc  *opusenc.Encoder
}

// NewFileSource constructs a source over a local file path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Prepare opens the file, decodes it, and reports readiness (spec §4.12
// "File source").
func (f *FileSource) Prepare(ctx context.Context) (ReadyStatus, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return ReadyIOError, fmt.Errorf("source: read %s: %w", f.path, err)
	}
	dec, err := decode.Open(ctx)
	if err != nil {
		return ReadyIOError, err
	}
	if _, err := dec.Feed(data); err != nil {
		return ReadyIOError, err
	}
	if err := dec.CloseFeed(); err != nil {
		return ReadyIOError, err
	}
	enc, err := opusenc.New()
	if err != nil {
		return ReadyIOError, err
	}
	rs, err := resample.New(logging.Sugar().Desugar())
	if err != nil {
		logging.Warnw("source: resampler unavailable, decoder output used as-is", "err", err)
	}
	f.dec, f.rs, f.enc = dec, rs, enc
	return ReadyOK, nil
}

// Next produces the next 20ms Opus frame.
func (f *FileSource) Next() (model.OpusFrame, error) {
	return nextFrame(f.dec, f.rs, f.enc)
}

// Close releases the decoder subprocess.
func (f *FileSource) Close() error {
	if f.dec == nil {
		return nil
	}
	return f.dec.Wait()
}

// SubprocessSource spawns youtube-dl and streams its stdout into the
// decoder's feed buffer asynchronously (spec §4.12 "Subprocess source").
type SubprocessSource struct {
	url string
	cmd *exec.Cmd
	dec *decode.Decoder
	rs  *resample.Resampler
	enc *opusenc.Encoder
}

// NewSubprocessSource constructs a source over a remote media URL.
func NewSubprocessSource(url string) *SubprocessSource {
	return &SubprocessSource{url: url}
}

// Prepare spawns `youtube-dl -f 250/251/249/171/172 -o - <url>` with stdin
// and stderr suppressed, and pumps its stdout into the decoder until EOF.
// The director is notified once with ok if bytes were delivered and the
// decoder became ready, else io_error.
func (s *SubprocessSource) Prepare(ctx context.Context) (ReadyStatus, error) {
	cmd := exec.CommandContext(ctx, "youtube-dl", "-f", "250/251/249/171/172", "-o", "-", s.url)
	cmd.Stdin = nil
	cmd.Stderr = nil
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ReadyIOError, err
	}
	if err := cmd.Start(); err != nil {
		return ReadyIOError, err
	}
	s.cmd = cmd

	dec, err := decode.Open(ctx)
	if err != nil {
		return ReadyIOError, err
	}
	enc, err := opusenc.New()
	if err != nil {
		return ReadyIOError, err
	}
	rs, err := resample.New(logging.Sugar().Desugar())
	if err != nil {
		logging.Warnw("source: resampler unavailable, decoder output used as-is", "err", err)
	}
	s.dec, s.rs, s.enc = dec, rs, enc

	delivered := false
	var unfed []byte
	buf := make([]byte, feedChunkSize)
	r := bufio.NewReaderSize(stdout, feedChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			delivered = true
			unfed = append(unfed, buf[:n]...)
			written, feedErr := dec.Feed(unfed)
			unfed = unfed[written:]
			if feedErr != nil {
				logging.Warnw("source: feed failed, retrying next tick", "err", feedErr)
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logging.Warnw("source: subprocess read failed", "err", readErr)
			}
			break
		}
	}
	if len(unfed) > 0 {
		if _, feedErr := dec.Feed(unfed); feedErr != nil {
			logging.Warnw("source: final feed failed, remaining bytes dropped", "err", feedErr)
		}
	}
	_ = dec.CloseFeed()
	if waitErr := cmd.Wait(); waitErr != nil {
		logging.Warnw("source: subprocess exited with error", "err", waitErr)
	}

	if !delivered || dec.State() < decode.StateReady {
		return ReadyIOError, fmt.Errorf("source: %s: no bytes delivered or decoder not ready", s.url)
	}
	return ReadyOK, nil
}

// Next produces the next 20ms Opus frame.
func (s *SubprocessSource) Next() (model.OpusFrame, error) {
	return nextFrame(s.dec, s.rs, s.enc)
}

// Close releases the decoder. The subprocess is already waited on in
// Prepare.
func (s *SubprocessSource) Close() error {
	if s.dec == nil {
		return nil
	}
	return s.dec.Wait()
}
