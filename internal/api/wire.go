// ABOUTME: JSON wire envelope shared by the request/response and push channels.
// ABOUTME: Requests carry {operationName, variables}; responses carry {data, errors}.

package api

import "encoding/json"

// Request is the envelope posted for every read and write operation.
type Request struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is the envelope returned by the server. Data and Errors may
// both be present; the engine treats any declared error as failure.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []ResponseError `json:"errors,omitempty"`
}

// ResponseError is one structured error in the envelope.
type ResponseError struct {
	Message    string     `json:"message"`
	Extensions Extensions `json:"extensions,omitempty"`
}

// Extensions holds machine-readable error metadata.
type Extensions struct {
	Code string `json:"code,omitempty"`
}

// Err converts declared envelope errors into an *APIError, or nil when the
// response is clean. Only the first error is surfaced; the server lists
// secondary errors for diagnostics, not control flow.
func (r *Response) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	first := r.Errors[0]
	return &APIError{Code: first.Extensions.Code, Message: first.Message}
}
