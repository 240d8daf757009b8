// Package decode demuxes and decodes a compressed audio container down to
// float32 stereo PCM at the input's native sample rate (spec §4.10); rate
// conversion to the 48kHz pipeline target is internal/audio/resample's job.
// No Go-native libav binding exists in this module's dependency surface, so
// the pipeline is realized by spawning ffmpeg as a subprocess and reading
// its raw PCM stdout, mirroring the subprocess-source idiom the spec
// already uses for youtube-dl (§4.12).
package decode

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/discord-voice-lab/internal/logging"
)

// State names the decoder's feed/decode state machine (spec §4.10):
// start → opened_input → found_stream_info → found_best_stream →
// opened_decoder → ready → eof. Each value is reached only once ffmpeg's own
// stderr progress output or stdout stream confirms it actually happened, not
// merely once bytes have been written to its stdin.
type State int

const (
	StateStart State = iota
	StateOpenedInput
	StateFoundStreamInfo
	StateFoundBestStream
	StateOpenedDecoder
	StateReady
	StateEOF
)

const (
	targetChannels = 2
	bytesPerSample = 4 // float32le
)

// Decoder wraps one ffmpeg subprocess demuxing+decoding a single input into
// a stream of float32 stereo samples at the input's own sample rate —
// ffmpeg is only asked to downmix to stereo, not to resample, so that rate
// conversion is a real job for internal/audio/resample rather than a
// decorative no-op. A background goroutine drains ffmpeg's stderr to drive
// State and capture the native sample rate, and another drains its stdout
// into samples, so State reflects ffmpeg's actual progress independent of
// whether the consumer has called Read yet.
type Decoder struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu         sync.Mutex
	state      State
	sourceRate int

	samples chan []float32
	ring    []float32
}

// Open starts ffmpeg reading from stdin (the feed buffer) and decoding to
// stdout as interleaved float32le PCM, downmixed to stereo at the input's
// native sample rate. stderr is run at "info" verbosity so Input/Stream/
// Output progress lines are available to drive State and report the
// source's sample rate.
func Open(ctx context.Context) (*Decoder, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "info",
		"-i", "pipe:0",
		"-f", "f32le",
		"-ac", fmt.Sprint(targetChannels),
		"pipe:1",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decode: start ffmpeg: %w", err)
	}
	d := &Decoder{
		cmd:     cmd,
		stdin:   stdin,
		state:   StateStart,
		samples: make(chan []float32, 32),
	}
	go d.watchStderr(stderr)
	go d.pumpStdout(stdout)
	return d, nil
}

// watchStderr advances State off ffmpeg's own progress lines: "Input #0"
// once the container is opened, the audio Stream line once stream info is
// parsed (also the only place the source's sample rate is available),
// "Stream mapping" once the best stream is picked, "Output #0" once the
// output decoder/encoder chain is opened (spec §4.10's four discovery
// states).
func (d *Decoder) watchStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "Input #0"):
			d.advanceState(StateOpenedInput)
		case strings.Contains(line, "Stream #0:0") && strings.Contains(line, "Audio"):
			d.advanceState(StateFoundStreamInfo)
			if rate, ok := parseSampleRate(line); ok {
				d.mu.Lock()
				d.sourceRate = rate
				d.mu.Unlock()
			}
		case strings.HasPrefix(trimmed, "Stream mapping"):
			d.advanceState(StateFoundBestStream)
		case strings.Contains(line, "Output #0"):
			d.advanceState(StateOpenedDecoder)
		}
	}
}

// parseSampleRate pulls the "<n> Hz" field out of an ffmpeg
// "Stream #0:0: Audio: ..." line, e.g. "pcm_s16le, 44100 Hz, stereo, ...".
func parseSampleRate(line string) (int, bool) {
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if rate, ok := strings.CutSuffix(part, " Hz"); ok {
			if n, err := strconv.Atoi(rate); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// pumpStdout drains ffmpeg's decoded PCM as it arrives. The first nonzero
// read is what actually reaches ready — a 1-byte feed never produces
// decodable output, so this never fires for it (spec §8/§9's testable
// boundary).
func (d *Decoder) pumpStdout(r io.Reader) {
	br := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 4096*bytesPerSample)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			d.advanceState(StateReady)
			if samples := bytesToFloat32(buf[:n-(n%bytesPerSample)]); len(samples) > 0 {
				d.samples <- samples
			}
		}
		if err != nil {
			break
		}
	}
	d.mu.Lock()
	d.state = StateEOF
	d.mu.Unlock()
	close(d.samples)
}

func (d *Decoder) advanceState(s State) {
	d.mu.Lock()
	if d.state < s {
		d.state = s
	}
	d.mu.Unlock()
}

// Feed writes more container bytes to the decoder's input. A write error is
// logged and returned with the count of bytes written, so a caller can
// feed the rest again later; Feed itself does not retry, and whether the
// error is fatal is the caller's choice.
func (d *Decoder) Feed(b []byte) (int, error) {
	n, err := d.stdin.Write(b)
	if err != nil {
		logging.Warnw("decode: feed write failed", "err", err)
	}
	return n, err
}

// CloseFeed signals upstream EOF; ffmpeg flushes remaining samples to
// stdout, which pumpStdout drains until it reaches StateEOF.
func (d *Decoder) CloseFeed() error {
	return d.stdin.Close()
}

// State returns the current feed/decode state.
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SourceRate returns the sample rate ffmpeg reported for the input stream,
// or 0 if stderr hasn't parsed it yet. By the time State reaches
// StateReady this is reliably populated, since ffmpeg logs stream info
// before it starts writing decoded samples.
func (d *Decoder) SourceRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sourceRate
}

// Read drains up to wantFrames stereo frames (each 2 float32 values),
// blocking on the background stdout pump as needed. It returns fewer than
// requested only once the pump has closed the sample channel at EOF;
// callers zero-pad the tail (spec §4.10).
func (d *Decoder) Read(wantFrames int) ([]float32, bool) {
	need := wantFrames * targetChannels
	for len(d.ring) < need {
		chunk, ok := <-d.samples
		if !ok {
			break
		}
		d.ring = append(d.ring, chunk...)
	}
	if len(d.ring) >= need {
		out := d.ring[:need]
		d.ring = d.ring[need:]
		return out, false
	}
	out := d.ring
	d.ring = nil
	return out, true
}

// Wait releases the subprocess. Call after CloseFeed and draining Read.
func (d *Decoder) Wait() error {
	return d.cmd.Wait()
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/bytesPerSample)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*bytesPerSample:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
