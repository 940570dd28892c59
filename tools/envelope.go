package tools

import "github.com/docfold/docfold/fault"

// Envelope is the uniform response body shared by the tool-call surface and
// the HTTP endpoints. Success carries data and an optional message; failure
// carries the taxonomy code, message, recovery hint, and optional details.
type Envelope struct {
	Status   string         `json:"status"`
	Data     any            `json:"data,omitempty"`
	Message  string         `json:"message,omitempty"`
	Code     fault.Code     `json:"error_code,omitempty"`
	Recovery string         `json:"recovery_strategy,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

func Success(data any) Envelope {
	return Envelope{Status: "success", Data: data}
}

func SuccessMsg(data any, message string) Envelope {
	return Envelope{Status: "success", Data: data, Message: message}
}

// Failure renders any error into the envelope, coercing non-taxonomy errors
// to UNEXPECTED_ERROR on the way.
func Failure(err error) Envelope {
	fe := fault.From(err)
	return Envelope{
		Status:   "error",
		Code:     fe.Code,
		Message:  fe.Message,
		Recovery: fe.Recovery,
		Details:  fe.Details,
	}
}
