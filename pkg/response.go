package pkg

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

var ContentType = struct {
	JSON string
	Text string
}{
	JSON: "application/json",
	Text: "text/plain; charset=utf-8",
}

// ErrorResponse is the stable error payload returned by all JSON endpoints.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteTextResponseOK(w http.ResponseWriter, message string) {
	writeBody(w, ContentType.Text, []byte(message), http.StatusOK)
}

// WriteJSON marshals v and writes it with the given status code.
func WriteJSON(w http.ResponseWriter, v any, statusCode int) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("marshal %T response: %s", v, err)
		WriteErrorResponse(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeBody(w, ContentType.JSON, b, statusCode)
}

func WriteErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	b, err := json.Marshal(ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
		},
	})
	if err != nil {
		http.Error(w, message, statusCode)
		return
	}
	writeBody(w, ContentType.JSON, b, statusCode)
}

func writeBody(w http.ResponseWriter, contentType string, body []byte, statusCode int) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		log.Errorf("write %d response: %s", statusCode, err)
	}
}
