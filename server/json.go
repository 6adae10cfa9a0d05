package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/zkattest/nitro-prover/proverr"
)

// retryAfterSeconds is advertised to callers refused with service-busy.
const retryAfterSeconds = 5

func ReturnJSON(w http.ResponseWriter, resp interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	err := encoder.Encode(resp)
	if err != nil {
		panic(fmt.Errorf("error encoding response: %w", err))
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Category  proverr.Category `json:"category"`
	Retryable bool             `json:"retryable"`
	RequestID string           `json:"request_id,omitempty"`
}

func ReturnErrorJSON(w http.ResponseWriter, err error, requestID string) {
	status := proverr.HTTPStatus(err)
	if proverr.Of(err) == proverr.CategoryServiceBusy {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	ReturnJSON(w, ErrorResponse{
		Error:     err.Error(),
		Category:  proverr.Of(err),
		Retryable: proverr.Retryable(err),
		RequestID: requestID,
	}, status)
}
