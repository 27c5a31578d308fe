package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/vidresolver-go/internal/types"
)

// writeErrorResponse writes the service's {"detail": ...} error body.
func writeErrorResponse(w http.ResponseWriter, statusCode int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(types.ErrorResponse{Detail: detail}); err != nil {
		log.Error().Err(err).Str("detail", detail).Msg("Failed to encode middleware error response")
	}
}
