// Package dispatch defines the boundary between the voice pipeline and
// whatever answers the user.
//
// The pipeline hands a finalized transcript to a [Dispatcher] and gets back
// response text plus an intent classification used for conversation-mode
// gating. What happens in between (language models, tool use, scripted
// flows) is the dispatcher's business.
package dispatch

import "context"

// Request carries one finalized utterance and its session context.
type Request struct {
	// Transcript is the authoritative transcript of the utterance.
	Transcript string

	// SessionID identifies the interaction session.
	SessionID string

	// NodeID identifies the device or location the audio came from.
	NodeID string

	// SpeakerID is the verified speaker identity, when speaker verification
	// is enabled and produced a match. Empty otherwise.
	SpeakerID string
}

// Response is the dispatcher's answer.
type Response struct {
	// Text is the response to synthesize and speak. May be empty when the
	// dispatcher chooses not to respond.
	Text string

	// IntentConfidence is the dispatcher's confidence (0.0 to 1.0) in its
	// intent classification. The pipeline compares it against the
	// continuation threshold when deciding whether to stay in conversation
	// mode.
	IntentConfidence float64

	// IntentCategory labels the handled intent (e.g., "question",
	// "tool_use", "chitchat"). Conversation mode can be restricted to an
	// allow-list of categories.
	IntentCategory string
}

// Dispatcher handles finalized transcripts. Handle is called from a worker
// goroutine, never from the frame path; it may block on network calls for
// as long as ctx allows.
//
// Implementations must be safe for concurrent use.
type Dispatcher interface {
	Handle(ctx context.Context, req Request) (Response, error)
}
