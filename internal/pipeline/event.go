package pipeline

// EventType names a pipeline lifecycle moment. External consumers (UI,
// telemetry) key off these exact strings.
type EventType string

const (
	// EventListening is emitted when the pipeline settles into Listening.
	EventListening EventType = "listening"
	// EventRecording is emitted when an utterance recording starts.
	EventRecording EventType = "recording"
	// EventPartialTranscript carries an in-progress transcript in Text.
	EventPartialTranscript EventType = "partial_transcript"
	// EventProcessing is emitted when a finalized utterance enters recognition
	// and dispatch.
	EventProcessing EventType = "processing"
	// EventResponding is emitted when a response is about to be spoken.
	EventResponding EventType = "responding"
	// EventResponse carries the full response text in Text.
	EventResponse EventType = "response"
	// EventError carries a short human-readable message in Message.
	EventError EventType = "error"
)

// Event is one entry on the pipeline's event stream.
type Event struct {
	// Type identifies the lifecycle moment.
	Type EventType

	// Text is set for partial_transcript and response events.
	Text string

	// Message is set for error events.
	Message string
}
