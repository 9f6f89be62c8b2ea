package common

const (
	RequestIDHeader = "X-Request-Id"

	ContentTypeEventStream = "text/event-stream"
)

// Stage is a step of a chat completion request.
type Stage string

const (
	StageReceived          Stage = "received"
	StagePromptProcessed   Stage = "prompt_processed"
	StageBackendDispatched Stage = "backend_dispatched"
	StageResponseProcessed Stage = "response_processed"
	StageSent              Stage = "sent"
	StageError             Stage = "error"
)
