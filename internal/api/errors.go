// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/apotheca-labs/pharmsync/internal/logging"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
