// Package handlers implements the stand-in API's endpoints. Every response
// uses the {status, message, params} envelope.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Params  any    `json:"params"`
}

// dataParams wraps payloads the API nests under params.data.
type dataParams[T any] struct {
	Data T `json:"data"`
}

func respondOK(w http.ResponseWriter, log *zap.Logger, message string, params any) {
	if params == nil {
		params = struct{}{}
	}
	writeEnvelope(w, log, http.StatusOK, envelope{Status: true, Message: message, Params: params})
}

func respondWithError(w http.ResponseWriter, log *zap.Logger, statusCode int, message string) {
	writeEnvelope(w, log, statusCode, envelope{Message: message, Params: struct{}{}})
}

func writeEnvelope(w http.ResponseWriter, log *zap.Logger, statusCode int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Warn("failed to encode response", zap.Error(err))
	}
}
