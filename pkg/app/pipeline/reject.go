package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

type RejectKind string

const (
	// KindClient is a malformed or unacceptable client request.
	KindClient RejectKind = "client"
	// KindPolicy is a guardrail verdict.
	KindPolicy RejectKind = "policy"
	// KindBackend is an unusable backend answer.
	KindBackend RejectKind = "backend"
)

const (
	MsgInvalidJSON        = "Invalid JSON body"
	MsgLastMessageNotUser = "Last message must have role 'user'"
	MsgPromptBlocked      = "Prompt blocked by Guardrail"
	MsgResponseBlocked    = "Response blocked by Guardrail"
	MsgBadBackendResponse = "Bad response from backend"
)

// RejectError short-circuits a request. The dispatcher renders it as plain
// text or as a single SSE error frame depending on the request mode.
type RejectError struct {
	Status  int
	Message string
	Kind    RejectKind
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s rejection (%d): %s", e.Kind, e.Status, e.Message)
}

func NewClientError(message string) *RejectError {
	return &RejectError{Status: http.StatusBadRequest, Message: message, Kind: KindClient}
}

func NewPolicyError(message string) *RejectError {
	return &RejectError{Status: http.StatusBadRequest, Message: message, Kind: KindPolicy}
}

func NewBackendError(status int, message string) *RejectError {
	return &RejectError{Status: status, Message: message, Kind: KindBackend}
}

// AsReject unwraps err into a *RejectError when it is one.
func AsReject(err error) (*RejectError, bool) {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
