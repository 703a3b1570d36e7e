// Package handler provides the admin HTTP handlers for Quiesce.
package handler

import (
	"time"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses
// Prometheus exposition format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// HistoryResponse is the response body for GET /v1/history.
type HistoryResponse struct {
	Items []*domain.CycleRecord `json:"items"`
	Total int                   `json:"total"`
}

// SubscribersResponse is the response body for GET /v1/subscribers.
type SubscribersResponse struct {
	Items []*domain.Subscriber `json:"items"`
	Total int                  `json:"total"`
}
