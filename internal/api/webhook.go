package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/gray-logic-switchbot/internal/bridges/switchbot"
)

// handleWebhook accepts a vendor push event and routes it to its device.
// The vendor only needs a 2xx; errors are reported for debugging.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	if err := s.bridge.HandleWebhook(body); err != nil {
		if errors.Is(err, switchbot.ErrInvalidMessage) {
			s.logger.Warn("rejected webhook payload", "error", err)
		}
		writeBridgeError(w, err, "failed to apply webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
