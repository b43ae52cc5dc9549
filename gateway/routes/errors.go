package routes

import (
	"encoding/json"
	"net/http"

	"estateagency/marketplace"
)

// envelope is the body of every marketplace response.
type envelope struct {
	Notice   string      `json:"notice"`
	Redirect string      `json:"redirect"`
	Data     interface{} `json:"data,omitempty"`
	Kind     string      `json:"kind"`
}

func toStatus(kind marketplace.Kind) int {
	switch kind {
	case marketplace.KindSuccess:
		return http.StatusOK
	case marketplace.KindInvalidInput:
		return http.StatusBadRequest
	case marketplace.KindUnlockFailed:
		return http.StatusUnauthorized
	case marketplace.KindRPCFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeFailure reports err with exactly one notice and points the client back
// at the page it came from.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	kind := marketplace.KindOf(err)
	writeEnvelope(w, toStatus(kind), envelope{
		Notice:   marketplace.Notice(err),
		Redirect: r.URL.Path,
		Kind:     string(kind),
	})
}

func writeSuccess(w http.ResponseWriter, status int, notice, redirect string, data interface{}) {
	writeEnvelope(w, status, envelope{
		Notice:   notice,
		Redirect: redirect,
		Data:     data,
		Kind:     string(marketplace.KindSuccess),
	})
}
