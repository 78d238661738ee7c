package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodySize = 1 << 20

type errorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

var okResponse = statusResponse{Status: "ok"}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeAppError отдаёт ошибку ядра с её статусом и кодом. Всё, что не
// *apperr.Error, логируется и уходит как 500 без подробностей.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if ae.Kind == apperr.KindTransient {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, ae)
	}
	writeJSON(w, ae.HTTPStatus(), errorResponse{Error: ae.Message, Code: ae.Code})
}

// decodeBody читает JSON-тело не больше maxBodySize. Пустое тело допустимо.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return apperr.Validation(apperr.CodeInvalidInput, "invalid body")
	}
	return nil
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func queryInt64(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.Validation(apperr.CodeInvalidID, "invalid "+key)
	}
	return n, nil
}

// messageID разбирает {id} пути как положительный int64.
func messageID(r *http.Request) (int64, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || n <= 0 {
		return 0, apperr.Validation(apperr.CodeInvalidID, "invalid message id")
	}
	return n, nil
}
