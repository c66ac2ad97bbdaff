package httpapi

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Errors map[string]string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), errorBody{Errors: FieldErrors(err)})
}

type redirectBody struct {
	Redirect string `json:"redirect"`
	Message  string `json:"message,omitempty"`
}

type messageBody struct {
	Message string `json:"message"`
}
