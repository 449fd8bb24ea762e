package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
)

// History limits mirror the repository's clamp, but out-of-range values
// are rejected here instead of silently adjusted.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var (
	errInvalidLimit = errors.New("invalid limit")
	errLimitTooHigh = errors.New("limit exceeds maximum")
	errInvalidSince = errors.New("invalid since timestamp")
)

// handleGetDeviceHistory serves published snapshots, newest first.
//
// Query parameters:
//   - limit: 1..200, default 50
//   - since: RFC 3339 instant; only later entries are returned
//   - source: refresh, webhook, command, offline or rollback
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	q, err := parseHistoryQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if s.history == nil {
		writeUnavailable(w, "state history unavailable")
		return
	}

	id := dev.Identity().ID
	entries, err := s.history.QueryHistory(r.Context(), id, q)
	if err != nil {
		s.logger.Warn("loading device history failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}

// handleListDeviceCommands serves the vendor command log, newest first.
func (s *Server) handleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if s.commands == nil {
		writeUnavailable(w, "command log unavailable")
		return
	}

	id := dev.Identity().ID
	entries, err := s.commands.ListCommands(r.Context(), id, limit)
	if err != nil {
		s.logger.Warn("loading command log failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to load command log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"commands":  entries,
		"count":     len(entries),
	})
}

func parseHistoryQuery(r *http.Request) (device.HistoryQuery, error) {
	params := r.URL.Query()

	limit, err := parseHistoryLimit(params.Get("limit"))
	if err != nil {
		return device.HistoryQuery{}, err
	}
	q := device.HistoryQuery{Limit: limit, Source: params.Get("source")}
	if len(q.Source) > maxQueryParamLen {
		return device.HistoryQuery{}, errors.New("invalid source")
	}
	if raw := params.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return device.HistoryQuery{}, errInvalidSince
		}
		q.Since = since.UTC()
	}
	return q, nil
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	switch {
	case err != nil || limit <= 0:
		return 0, errInvalidLimit
	case limit > maxHistoryLimit:
		return 0, errLimitTooHigh
	}
	return limit, nil
}
