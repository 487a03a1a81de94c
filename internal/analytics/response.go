package analytics

import (
	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
)

// ErrorBody is the error part of a failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope of every failed query or sub-query.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// NewErrorResponse renders err with its stable code.
func NewErrorResponse(err error) *ErrorResponse {
	return &ErrorResponse{
		Success: false,
		Error: ErrorBody{
			Code:    string(queryerr.CodeOf(err)),
			Message: queryerr.MessageOf(err),
		},
	}
}
