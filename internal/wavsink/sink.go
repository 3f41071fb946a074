// Package wavsink
// Author: momentics <momentics@gmail.com>
//
// Playback sink recording the forwarded stream into WAV files. Selected with
// an output identifier of the form "wav:/path/to/file.wav"; every playback
// cycle after the first gets its own numbered file.
package wavsink

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/internal/logging"
)

// Prefix marks output identifiers handled by this package.
const Prefix = "wav:"

const pcmFormat = 1

// IsWAV reports whether name selects a WAV sink.
func IsWAV(name string) bool {
	return strings.HasPrefix(name, Prefix)
}

// Opener creates a Sink per playback cycle.
type Opener struct {
	path   string
	cfg    api.StreamConfig
	cycles int
	log    *slog.Logger
}

// NewOpener returns an opener for name, with or without the wav: prefix.
func NewOpener(name string, cfg api.StreamConfig) *Opener {
	return &Opener{
		path: strings.TrimPrefix(name, Prefix),
		cfg:  cfg,
		log:  logging.L("wavsink"),
	}
}

func (o *Opener) PeriodSize() int  { return o.cfg.PeriodSize }
func (o *Opener) PeriodCount() int { return o.cfg.PeriodCount }

// Path returns the file used by the given playback cycle, counted from zero.
func (o *Opener) Path(cycle int) string {
	if cycle == 0 {
		return o.path
	}
	ext := filepath.Ext(o.path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(o.path, ext), cycle, ext)
}

// Open creates the next file. A WAV sink is never busy.
func (o *Opener) Open() api.OpenResult {
	path := o.Path(o.cycles)
	f, err := os.Create(path)
	if err != nil {
		return api.OpenResult{Status: api.OpenFailed, Err: fmt.Errorf("wav sink: %w", err)}
	}
	o.cycles++

	bits := o.cfg.Format.Width() * 8
	s := &Sink{
		f:         f,
		enc:       wav.NewEncoder(f, o.cfg.Rate, bits, o.cfg.Channels, pcmFormat),
		format:    o.cfg.Format,
		frameSize: o.cfg.FrameSize(),
		avail:     o.cfg.PeriodSize * o.cfg.PeriodCount,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: o.cfg.Channels, SampleRate: o.cfg.Rate},
			SourceBitDepth: bits,
		},
	}
	o.log.Info("recording to wav", "path", path, "rate", o.cfg.Rate, "channels", o.cfg.Channels, "bits", bits)
	return api.OpenResult{Status: api.Opened, Device: s}
}

// Sink encodes interleaved little-endian PCM into a WAV file.
type Sink struct {
	f         *os.File
	enc       *wav.Encoder
	buf       *audio.IntBuffer
	format    api.SampleFormat
	frameSize int
	avail     int
	frames    int64
}

// Write encodes the whole frames of b.
func (s *Sink) Write(b []byte) (int, error) {
	whole := len(b) - len(b)%s.frameSize
	if whole == 0 {
		return 0, nil
	}
	w := s.format.Width()
	n := whole / w
	if cap(s.buf.Data) < n {
		s.buf.Data = make([]int, n)
	}
	s.buf.Data = s.buf.Data[:n]
	for i := 0; i < n; i++ {
		if w == 4 {
			s.buf.Data[i] = int(int32(binary.LittleEndian.Uint32(b[i*4:])))
		} else {
			s.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(b[i*2:])))
		}
	}
	if err := s.enc.Write(s.buf); err != nil {
		return 0, fmt.Errorf("wav sink: %w", err)
	}
	s.frames += int64(whole / s.frameSize)
	return whole, nil
}

// Avail always reports the full configured buffer.
func (s *Sink) Avail() (int, error) {
	return s.avail, nil
}

// Frames returns the number of frames written so far.
func (s *Sink) Frames() int64 {
	return s.frames
}

// Close finalizes the header and closes the file.
func (s *Sink) Close() error {
	encErr := s.enc.Close()
	if err := s.f.Close(); err != nil && encErr == nil {
		return err
	}
	return encErr
}
