package handler

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes data as a compact JSON body with the given status code.
// If data cannot be encoded, a 500 error body is written instead.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "JSON serialization error: "+err.Error())
		return
	}
	writeBody(w, status, body)
}

// WriteError writes the standard error body {"error": "<message>"}.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeBody(w, status, messageBody("error", message))
}

// WriteMessage writes a success body {"message": "<message>"}.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	writeBody(w, status, messageBody("message", message))
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body) // Write error surfaces when the connection is written
}

// messageBody renders a single-key object with a space after the colon,
// the layout clients already match on.
func messageBody(key, message string) []byte {
	quoted, _ := json.Marshal(message) // marshaling a string cannot fail
	return []byte(`{"` + key + `": ` + string(quoted) + `}`)
}
