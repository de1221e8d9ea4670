package entities

import "strings"

// EncodingWebMOpus is the container produced by the capture client
const EncodingWebMOpus = "webm/opus"

// Utterance is one complete recording submitted for processing
type Utterance struct {
	Audio    []byte
	Encoding string
}

// NewUtterance wraps raw audio captured by the client
func NewUtterance(audio []byte) Utterance {
	return Utterance{Audio: audio, Encoding: EncodingWebMOpus}
}

// IsEmpty reports whether the utterance carries no audio
func (u Utterance) IsEmpty() bool {
	return len(u.Audio) == 0
}

// PipelineResult holds the text produced by each stage of one session
type PipelineResult struct {
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`
}

// HasSpeech reports whether transcription produced any non-blank text
func (r PipelineResult) HasSpeech() bool {
	return strings.TrimSpace(r.Transcript) != ""
}
