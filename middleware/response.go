/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/acronis/go-ratelimit/log"
)

// ContentTypeAppJSON represents MIME media type for JSON.
const ContentTypeAppJSON = "application/json"

// Error represents error details sent in a response body.
type Error struct {
	Domain  string                 `json:"domain"`
	Code    string                 `json:"code"`
	Message string                 `json:"message,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// NewError creates a new Error with specified params.
func NewError(domain, code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

// AddContext adds value to error context.
func (e *Error) AddContext(field string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[field] = value
	return e
}

// ErrorResponseData is a body of the response with error.
type ErrorResponseData struct {
	Err *Error `json:"error"`
}

// RespondError sets HTTP status code in response and writes error in body in JSON format.
func RespondError(rw http.ResponseWriter, statusCode int, err *Error, logger log.FieldLogger) {
	RespondCodeAndJSON(rw, statusCode, ErrorResponseData{err}, logger)
}

// RespondCodeAndJSON sends a response with the passed status code and JSON-encoded data.
func RespondCodeAndJSON(rw http.ResponseWriter, statusCode int, respData interface{}, logger log.FieldLogger) {
	if rw.Header().Get("Content-Type") == "" {
		rw.Header().Set("Content-Type", ContentTypeAppJSON)
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(respData); err != nil {
		if logger != nil {
			logger.Error("error while marshaling json for response body", log.Error(err))
		}
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(statusCode)
	if _, err := rw.Write(buffer.Bytes()); err != nil && logger != nil {
		logger.Error("error while writing response body", log.Error(err))
	}
}
