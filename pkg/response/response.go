package response

import (
	"encoding/json"
	"net/http"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: statusCode < 400,
		Data:    data,
	})
}

func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// ErrorWithCode attaches a machine-checkable category alongside the message,
// so clients can classify failures without parsing error strings.
func ErrorWithCode(w http.ResponseWriter, statusCode int, code, err string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   err,
		Code:    code,
	})
}

func Error(w http.ResponseWriter, statusCode int, err string) {
	ErrorWithCode(w, statusCode, "", err)
}

func BadRequest(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusBadRequest, "VALIDATION_ERROR", err)
}

func Unauthorized(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", err)
}

func Forbidden(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusForbidden, "FORBIDDEN", err)
}

func NotFound(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusNotFound, "NOT_FOUND", err)
}

func InternalError(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", err)
}
