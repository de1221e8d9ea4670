package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/internal/client/conn"
	"github.com/satriahrh/voicerelay/internal/client/media"
	"github.com/satriahrh/voicerelay/internal/client/playback"
)

var (
	sendOutput  string
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <audio-file>",
	Short: "Send an audio file as one utterance",
	Long: `Send a recorded WebM/Opus file as one utterance and play the reply.

With -o the reply is written to a file instead of being played.

Examples:
  client send question.webm
  client send question.webm -o reply.mp3`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendOutput, "output", "o", "", "write the reply to this file instead of playing it")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "maximum time to wait for the reply")
}

func runSend(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	audio, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	factory := speakerFactory(logger)
	if sendOutput != "" {
		factory = media.NewFileDecoderFactory(sendOutput)
	}

	buffer := playback.NewBuffer(factory, nil, logger)
	runCtx, stopBuffer := context.WithCancel(context.Background())
	defer stopBuffer()
	go buffer.Run(runCtx)

	dialer := conn.NewDialer(serverURL, buffer, logger)
	exchange, err := dialer.Exchange(ctx, entities.NewUtterance(audio))
	if err != nil {
		return err
	}

	code, reason, err := exchange.Wait(ctx)
	if err != nil {
		return err
	}

	if err := waitForPlayback(ctx, buffer); err != nil {
		return err
	}

	chunks, size := exchange.Received()
	fmt.Fprintf(cmd.OutOrStdout(), "closed %d %s: %d chunks, %d bytes\n", code, reason, chunks, size)
	if sendOutput != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "reply written to %s\n", sendOutput)
	}
	return nil
}
