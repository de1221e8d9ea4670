// voicerelay-client records an utterance, sends it to a voicerelay server and
// plays the spoken reply.
//
// Usage:
//
//	client talk                      # press Enter to start and stop recording
//	client send question.webm        # send a file and play the reply
//	client send question.webm -o reply.mp3
package main

import (
	"fmt"
	"os"

	"github.com/satriahrh/voicerelay/cmd/client/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
