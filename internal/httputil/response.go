package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/carputer/internal/monitoring"
)

// errorBody is the shape of every JSON error reply.
type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON replies with data encoded as JSON. Encoding failures are logged;
// the status line has already gone out by then.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("encode json reply: %v", err)
	}
}

// WriteJSONError replies {"error": msg}.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorBody{Error: msg})
}

func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}

// WriteImage replies with an uncached image body, for frames that change
// every cycle.
func WriteImage(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		monitoring.Debugf("write image reply: %v", err)
	}
}
