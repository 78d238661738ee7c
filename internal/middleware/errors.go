package middleware

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
)

type errorBody struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := jsoniter.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("middleware write error: %v", err)
	}
}

func writeAppError(w http.ResponseWriter, err *apperr.Error) {
	writeError(w, err.HTTPStatus(), errorBody{Error: err.Message, Code: err.Code})
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
}
