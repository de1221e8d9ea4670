package entities

import (
	"testing"
)

func TestUtteranceCreation(t *testing.T) {
	utterance := NewUtterance([]byte{0x1a, 0x45, 0xdf, 0xa3})

	if utterance.Encoding != EncodingWebMOpus {
		t.Errorf("Expected encoding %s, got %s", EncodingWebMOpus, utterance.Encoding)
	}

	if utterance.IsEmpty() {
		t.Error("Expected utterance with audio to be non-empty")
	}

	if !NewUtterance(nil).IsEmpty() {
		t.Error("Expected utterance without audio to be empty")
	}
}

func TestPipelineResult_HasSpeech(t *testing.T) {
	if (PipelineResult{Transcript: "  \n"}).HasSpeech() {
		t.Error("Expected whitespace transcript to have no speech")
	}

	if !(PipelineResult{Transcript: "hello"}).HasSpeech() {
		t.Error("Expected transcript to have speech")
	}
}

func TestNewMessage(t *testing.T) {
	first := NewMessage("hello")
	second := NewMessage("hello")

	if first.ID == "" {
		t.Fatal("Expected message ID to be set")
	}

	if first.ID == second.ID {
		t.Errorf("Expected unique message IDs, got %s twice", first.ID)
	}

	if first.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	if first.Content != "hello" {
		t.Errorf("Expected content 'hello', got '%s'", first.Content)
	}
}
