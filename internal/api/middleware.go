// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

package api

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/apotheca-labs/pharmsync/internal/logging"
)

// RequestIDWithLogging adds an X-Request-ID header and seeds the logging
// context with a correlation id, so every log line emitted while serving
// the request can be traced back to it.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		chiRequestID := chimiddleware.RequestID(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateCorrelationID()
				r.Header.Set("X-Request-ID", requestID)
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := logging.ContextWithCorrelationID(r.Context(), requestID)
			chiRequestID.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
