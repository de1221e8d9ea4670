package media

import (
	"fmt"
	"os"

	"github.com/satriahrh/voicerelay/internal/client/playback"
)

// FileDecoder writes the received stream to a file instead of a speaker
type FileDecoder struct {
	file   *os.File
	events playback.Events
}

var _ playback.Decoder = (*FileDecoder)(nil)

// NewFileDecoderFactory returns a factory writing each session to path,
// truncating what an earlier session wrote.
func NewFileDecoderFactory(path string) playback.DecoderFactory {
	return func(events playback.Events) (playback.Decoder, error) {
		file, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
		d := &FileDecoder{file: file, events: events}
		events.Opened()
		return d, nil
	}
}

// Append writes chunk synchronously and reports Ready. Chunks after
// EndOfStream are dropped.
func (d *FileDecoder) Append(chunk []byte) {
	if d.file == nil {
		return
	}
	if _, err := d.file.Write(chunk); err != nil {
		d.events.Failed(fmt.Errorf("failed to write %s: %w", d.file.Name(), err))
		return
	}
	d.events.Playing()
	d.events.Ready()
}

// EndOfStream flushes and closes the file
func (d *FileDecoder) EndOfStream() {
	if err := d.Close(); err != nil {
		d.events.Failed(err)
		return
	}
	d.events.Ended()
}

// Close closes the file. It is safe to call more than once.
func (d *FileDecoder) Close() error {
	if d.file == nil {
		return nil
	}
	file := d.file
	d.file = nil
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", file.Name(), err)
	}
	return nil
}
