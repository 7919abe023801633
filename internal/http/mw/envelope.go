package mw

import (
	"encoding/json"
	"net/http"

	"github.com/docspasta/engine/internal/apierr"
)

// writeEnvelope writes the standard {success:false, error, details?} body
// (spec §6.1) for a middleware that rejects a request before it reaches a
// handler (missing user id). Rate-limited requests get httprate's own
// response, not this envelope.
func writeEnvelope(w http.ResponseWriter, status int, env apierr.Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
