package session

import "github.com/satriahrh/voicerelay/domain"

// State is the lifecycle position of one audio session
type State string

const (
	StateAwaitingUpload State = "awaiting_upload"
	StateTranscribing   State = "transcribing"
	StateGenerating     State = "generating"
	StateSynthesizing   State = "synthesizing"
	StateStreaming      State = "streaming"
	StateClosed         State = "closed"
)

// transitions lists every legal move. Closed is terminal.
var transitions = map[State][]State{
	StateAwaitingUpload: {StateTranscribing, StateClosed},
	StateTranscribing:   {StateGenerating, StateClosed},
	StateGenerating:     {StateSynthesizing, StateClosed},
	StateSynthesizing:   {StateStreaming, StateClosed},
	StateStreaming:      {StateClosed},
}

// CanTransitionTo reports whether next is a legal successor of s
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Websocket close codes used on terminal transitions
const (
	CodeNormalClosure  = 1000
	CodeGoingAway      = 1001
	CodeInvalidPayload = 1007
	CodeInternalError  = 1011
)

// Close reasons that are not error kinds
const (
	ReasonComplete     = "processing_complete"
	ReasonClientClosed = "client_closed"
	ReasonShutdown     = "server_shutdown"
)

// Closure is the code and reason sent with the final close frame
type Closure struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// closureFor maps a failure kind to its close frame
func closureFor(kind domain.Kind) Closure {
	switch kind {
	case domain.KindUpload:
		return Closure{Code: CodeInvalidPayload, Reason: string(kind)}
	case domain.KindProvider, domain.KindTransport:
		return Closure{Code: CodeInternalError, Reason: string(kind)}
	default:
		return Closure{Code: CodeInternalError, Reason: string(domain.KindTransport)}
	}
}
