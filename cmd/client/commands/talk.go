package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/internal/client/capture"
	"github.com/satriahrh/voicerelay/internal/client/conn"
	"github.com/satriahrh/voicerelay/internal/client/media"
	"github.com/satriahrh/voicerelay/internal/client/playback"
)

var (
	ffmpegPath  string
	inputFormat string
	inputDevice string
	micCommand  string
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Press-to-talk conversation",
	Long: `Record from the microphone and play spoken replies.

Press Enter to start recording and Enter again to send. Starting a new
recording stops any reply that is still playing. Type q and Enter to quit.

Examples:
  client talk
  client talk --input-format avfoundation --device none:1
  client talk --mic-cmd "ffmpeg -f pulse -i default -c:a libopus -f webm -"`,
	RunE: runTalk,
}

func init() {
	talkCmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "ffmpeg", "path to the ffmpeg executable")
	talkCmd.Flags().StringVar(&inputFormat, "input-format", "", "ffmpeg input format (default depends on the platform)")
	talkCmd.Flags().StringVar(&inputDevice, "device", "", "ffmpeg input device (default depends on the platform)")
	talkCmd.Flags().StringVar(&micCommand, "mic-cmd", "", "shell command writing WebM/Opus to stdout, replaces ffmpeg")
}

func runTalk(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()

	buffer := playback.NewBuffer(speakerFactory(logger), func(talking bool) {
		if talking {
			fmt.Fprintln(out, "[assistant speaking]")
		} else {
			fmt.Fprintln(out, "[assistant done]")
		}
	}, logger)
	go buffer.Run(ctx)

	recorder := media.NewFFmpegRecorder(media.RecorderConfig{
		Path:        ffmpegPath,
		InputFormat: inputFormat,
		Device:      inputDevice,
		Command:     micCommand,
	}, logger)
	dialer := conn.NewDialer(serverURL, buffer, logger)

	session := capture.New(recorder, dialer, func(state capture.State) {
		if state == capture.StateRecording {
			// A new recording supersedes whatever is still playing
			buffer.Teardown()
		}
		logger.Debug("Capture state changed", zap.String("state", string(state)))
	}, logger)

	fmt.Fprintln(out, "Press Enter to start recording, Enter again to send, q to quit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return stopRecording(context.Background(), session)
		case line, ok := <-lines:
			if !ok || strings.EqualFold(strings.TrimSpace(line), "q") {
				return stopRecording(context.Background(), session)
			}

			switch session.State() {
			case capture.StateIdle:
				if err := session.Start(ctx); err != nil {
					fmt.Fprintln(out, "Error:", err)
					continue
				}
				fmt.Fprintln(out, "[recording] press Enter to send")
			case capture.StateRecording:
				err := session.Stop(ctx)
				switch {
				case errors.Is(err, capture.ErrEmptyRecording):
					fmt.Fprintln(out, "Nothing recorded.")
				case err != nil:
					fmt.Fprintln(out, "Error:", err)
				default:
					fmt.Fprintln(out, "[sent] waiting for reply")
				}
			}
		}
	}
}

// stopRecording finishes a recording still in progress on exit
func stopRecording(ctx context.Context, session *capture.Capture) error {
	if session.State() != capture.StateRecording {
		return nil
	}
	err := session.Stop(ctx)
	if err != nil && !errors.Is(err, capture.ErrEmptyRecording) {
		return err
	}
	return nil
}
