package protocol

// RequestError is a client-visible failure carrying one of the stable codes
// above. Anything else that escapes a handler is mapped to INTERNAL_ERROR at
// the outermost boundary.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return e.Code + ": " + e.Message
}

func NewRequestError(code, message string) *RequestError {
	return &RequestError{Code: code, Message: message}
}
