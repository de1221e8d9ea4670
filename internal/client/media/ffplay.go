// Package media connects the client to local audio devices through ffmpeg
// and ffplay subprocesses.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/internal/client/playback"
)

// PlayerConfig holds ffplay settings
type PlayerConfig struct {
	Path     string
	LogLevel string
	Volume   int
}

// FFPlayDecoder plays an MP3 stream by piping it into ffplay
type FFPlayDecoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events playback.Events
	logger *zap.Logger

	writes    chan []byte
	ended     atomic.Bool
	endOnce   sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

var _ playback.Decoder = (*FFPlayDecoder)(nil)

// NewFFPlayDecoderFactory returns a factory starting one ffplay process per
// playback session.
func NewFFPlayDecoderFactory(config PlayerConfig, logger *zap.Logger) playback.DecoderFactory {
	if config.Path == "" {
		config.Path = "ffplay"
	}
	if config.LogLevel == "" {
		config.LogLevel = "error"
	}
	if config.Volume <= 0 {
		config.Volume = 80
	}

	return func(events playback.Events) (playback.Decoder, error) {
		return startFFPlay(config, events, logger)
	}
}

func startFFPlay(config PlayerConfig, events playback.Events, logger *zap.Logger) (*FFPlayDecoder, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", config.LogLevel,
		"-nostats",
		"-nodisp",
		"-autoexit",
		"-volume", fmt.Sprintf("%d", config.Volume),
		"-i", "-",
	}
	cmd := exec.Command(config.Path, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL may otherwise pick a silent dummy backend
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}

	d := &FFPlayDecoder{
		cmd:    cmd,
		stdin:  stdin,
		events: events,
		logger: logger,
		writes: make(chan []byte, 1),
		closed: make(chan struct{}),
	}

	go d.writeLoop()
	go d.wait()

	logger.Debug("ffplay started", zap.Int("pid", cmd.Process.Pid))
	events.Opened()
	return d, nil
}

// Append queues chunk for the writer goroutine. The buffer keeps at most one
// chunk outstanding, so this never blocks. Chunks after EndOfStream are
// dropped.
func (d *FFPlayDecoder) Append(chunk []byte) {
	if d.ended.Load() {
		return
	}
	select {
	case d.writes <- chunk:
	case <-d.closed:
	}
}

// EndOfStream closes ffplay's input once pending writes are done. ffplay
// exits after playing what it has.
func (d *FFPlayDecoder) EndOfStream() {
	d.endOnce.Do(func() {
		d.ended.Store(true)
		close(d.writes)
	})
}

// Close stops playback immediately
func (d *FFPlayDecoder) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
		_ = d.stdin.Close()
		if d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
	})
	return nil
}

func (d *FFPlayDecoder) writeLoop() {
	started := false
	for {
		select {
		case <-d.closed:
			return
		case chunk, ok := <-d.writes:
			if !ok {
				_ = d.stdin.Close()
				return
			}
			if _, err := d.stdin.Write(chunk); err != nil {
				d.events.Failed(fmt.Errorf("failed to write to ffplay: %w", err))
				return
			}
			// First accepted write stands in for a playback start event,
			// which ffplay does not report.
			if !started {
				started = true
				d.events.Playing()
			}
			d.events.Ready()
		}
	}
}

func (d *FFPlayDecoder) wait() {
	err := d.cmd.Wait()

	select {
	case <-d.closed:
		// Killed by Close; the buffer no longer listens.
		return
	default:
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		d.events.Failed(fmt.Errorf("ffplay: %w", err))
		return
	}
	if err != nil {
		d.logger.Warn("ffplay exited with error", zap.Error(err))
	}
	d.events.Ended()
}
