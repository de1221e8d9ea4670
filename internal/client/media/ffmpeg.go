package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/internal/client/capture"
)

const (
	readBufferSize = 4096
	stopTimeout    = 5 * time.Second
)

// RecorderConfig holds ffmpeg capture settings. Empty fields select the
// platform default input.
type RecorderConfig struct {
	Path        string
	InputFormat string
	Device      string
	// Command replaces the ffmpeg invocation with a shell command writing
	// WebM/Opus to stdout.
	Command string
}

// FFmpegRecorder captures the microphone as WebM/Opus through ffmpeg
type FFmpegRecorder struct {
	config RecorderConfig
	logger *zap.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	readDone chan struct{}
}

var _ capture.Recorder = (*FFmpegRecorder)(nil)

// NewFFmpegRecorder creates a recorder
func NewFFmpegRecorder(config RecorderConfig, logger *zap.Logger) *FFmpegRecorder {
	if config.Path == "" {
		config.Path = "ffmpeg"
	}
	if config.InputFormat == "" || config.Device == "" {
		format, device := defaultInput()
		if config.InputFormat == "" {
			config.InputFormat = format
		}
		if config.Device == "" {
			config.Device = device
		}
	}
	return &FFmpegRecorder{config: config, logger: logger}
}

func defaultInput() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		// none:<index> avoids opening a camera
		return "avfoundation", "none:0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// Start launches ffmpeg and delivers its output to onChunk from a reader
// goroutine.
func (r *FFmpegRecorder) Start(ctx context.Context, onChunk func(chunk []byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return fmt.Errorf("recorder already started")
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(r.config.Command) != "" {
		cmd = exec.Command("/bin/sh", "-c", r.config.Command)
	} else {
		cmd = exec.Command(r.config.Path,
			"-hide_banner",
			"-loglevel", "error",
			"-f", r.config.InputFormat,
			"-i", r.config.Device,
			"-ac", "1",
			"-ar", "48000",
			"-c:a", "libopus",
			"-f", "webm",
			"-",
		)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open recorder stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}

	r.cmd = cmd
	r.readDone = make(chan struct{})
	go r.readLoop(stdout, onChunk, r.readDone)

	// Cancelling ctx stops the device the same way Stop does
	stop := context.AfterFunc(ctx, func() { _ = r.Stop() })
	go func(done chan struct{}) {
		<-done
		stop()
	}(r.readDone)

	r.logger.Debug("Recorder started",
		zap.String("inputFormat", r.config.InputFormat),
		zap.String("device", r.config.Device))
	return nil
}

func (r *FFmpegRecorder) readLoop(stdout io.Reader, onChunk func([]byte), done chan struct{}) {
	defer close(done)

	reader := bufio.NewReaderSize(stdout, 64*1024)
	for {
		buf := make([]byte, readBufferSize)
		n, err := reader.Read(buf)
		if n > 0 {
			onChunk(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Warn("Recorder read failed", zap.Error(err))
			}
			return
		}
	}
}

// Stop asks ffmpeg to finish the container and blocks until every chunk has
// been delivered and the process has exited.
func (r *FFmpegRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := r.cmd
	if cmd == nil {
		return nil
	}
	r.cmd = nil

	// SIGINT lets ffmpeg write the trailer
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
	}

	select {
	case <-r.readDone:
	case <-time.After(stopTimeout):
		r.logger.Warn("Recorder did not stop in time, killing")
		_ = cmd.Process.Kill()
		<-r.readDone
	}

	err := cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("recorder failed: %w", err)
	}
	// ffmpeg exits non-zero after SIGINT; the output is still complete.
	return nil
}
