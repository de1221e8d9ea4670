package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/internal/client/media"
	"github.com/satriahrh/voicerelay/internal/client/playback"
)

var (
	serverURL  string
	debug      bool
	ffplayPath string
	volume     int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "client",
	Short: "voicerelay voice client",
	Long: `client talks to a voicerelay server.

Each recording is sent as one binary message on a new connection to the
server's /audio endpoint. The spoken reply is streamed back and played
through ffplay as it arrives.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "ws://localhost:5000/audio", "server websocket URL")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&ffplayPath, "ffplay", "ffplay", "path to the ffplay executable")
	rootCmd.PersistentFlags().IntVar(&volume, "volume", 80, "playback volume 0-100")

	rootCmd.AddCommand(talkCmd)
	rootCmd.AddCommand(sendCmd)
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return config.Build()
}

func speakerFactory(logger *zap.Logger) playback.DecoderFactory {
	return media.NewFFPlayDecoderFactory(media.PlayerConfig{
		Path:   ffplayPath,
		Volume: volume,
	}, logger)
}

// waitForPlayback blocks until the buffer has handed the whole stream to the
// decoder and the decoder stopped talking.
func waitForPlayback(ctx context.Context, buffer *playback.Buffer) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := buffer.Status()
		if err != nil {
			return err
		}
		if status.Failed || (status.Finalized && !status.Talking) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
