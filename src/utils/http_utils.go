// backend/src/utils/http_utils.go
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/username/brokerbridge/backend/src/errs"
	"github.com/username/brokerbridge/backend/src/logger"
)

// GenerateETag creates a SHA256 hash of the JSON representation of the data.
func GenerateETag(data interface{}) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data for ETag generation: %w", err)
	}
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("Failed to encode JSON response", "error", err)
	}
}

// SendJSONError sends {ok:false, error:message}.
func SendJSONError(w http.ResponseWriter, message string, statusCode int) {
	logger.L.Warn("Sending JSON error to client", "message", message, "statusCode", statusCode)
	WriteJSON(w, statusCode, map[string]any{"ok": false, "error": message})
}

// SendError translates err into a response.
func SendError(w http.ResponseWriter, err error) {
	status, body := ErrorBody(err)
	WriteJSON(w, status, body)
}

// ErrorBody builds {ok:false, error, ...details} for err. Envelope details are merged into
// the body and may replace the error message with a structured upstream payload.
func ErrorBody(err error) (int, map[string]any) {
	var e *errs.E
	if !errors.As(err, &e) {
		logger.L.Error("Unclassified error reached the client", "error", err)
		return http.StatusInternalServerError, map[string]any{
			"ok": false, "error": http.StatusText(http.StatusInternalServerError),
		}
	}
	body := map[string]any{"ok": false, "error": e.PublicMessage()}
	for k, v := range e.Details {
		if k == "ok" {
			continue
		}
		body[k] = v
	}
	status := e.Status()
	logger.L.Warn("Sending JSON error to client", "op", e.Op, "code", string(e.Code), "statusCode", status, "error", err)
	return status, body
}
