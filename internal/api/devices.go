package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/synchronizer"
)

// refreshTimeout bounds an on-demand refresh.
const refreshTimeout = 30 * time.Second

// DeviceView is the API representation of one managed device.
type DeviceView struct {
	device.Identity
	SyncState string                     `json:"sync_state"`
	Offline   bool                       `json:"offline"`
	Services  []device.Service           `json:"services"`
	Fields    map[device.Field]FieldView `json:"fields"`
	State     device.State               `json:"state"`
	Pending   *synchronizer.PendingWrite `json:"pending,omitempty"`
}

// FieldView describes one capability field's domain.
type FieldView struct {
	Kind     string   `json:"kind"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Values   []string `json:"values,omitempty"`
	Writable bool     `json:"writable"`
}

func deviceView(s *synchronizer.Synchronizer) DeviceView {
	family := s.Family()
	fields := make(map[device.Field]FieldView)
	for f, d := range family.Fields() {
		fv := FieldView{Kind: d.Kind.String(), Values: d.Values, Writable: family.Writable(f)}
		if d.Kind == device.KindInt || d.Kind == device.KindFloat {
			lo, hi := d.Min, d.Max
			fv.Min, fv.Max = &lo, &hi
		}
		fields[f] = fv
	}
	return DeviceView{
		Identity:  s.Identity(),
		SyncState: s.SyncState().String(),
		Offline:   s.Offline(),
		Services:  s.Services(),
		Fields:    fields,
		State:     s.Snapshot(),
		Pending:   s.Pending(),
	}
}

// lookupDevice resolves the {id} URL parameter, writing 400/404 on failure.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*synchronizer.Synchronizer, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return nil, false
	}
	dev, err := s.bridge.Device(id)
	if err != nil {
		writeNotFound(w, "device not found")
		return nil, false
	}
	return dev, true
}

// handleListDevices returns every managed device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	family := r.URL.Query().Get("family")

	syncs := s.bridge.Devices()
	views := make([]DeviceView, 0, len(syncs))
	for _, dev := range syncs {
		if family != "" && dev.Identity().Family != family {
			continue
		}
		views = append(views, deviceView(dev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleDeviceStats returns device counts by family and transport.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Stats())
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deviceView(dev))
}

// handleGetDeviceState returns the current capability state.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  dev.Identity().ID,
		"state":      dev.Snapshot(),
		"sync_state": dev.SyncState().String(),
		"offline":    dev.Offline(),
	})
}

// handleRefreshDevice runs one refresh now. A busy device answers 409 without
// fetching.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if !dev.Refresh(ctx) {
		if dev.ForcedOffline() {
			writeUnavailable(w, "device is configured offline")
			return
		}
		writeConflict(w, "device has an operation in flight")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.Identity().ID,
		"state":     dev.Snapshot(),
	})
}

// capabilityRequest is the body of a capability write.
type capabilityRequest struct {
	Value any `json:"value"`
}

// handleSetCapability applies one capability write optimistically.
func (s *Server) handleSetCapability(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	field := chi.URLParam(r, "field")
	if field == "" || len(field) > maxQueryParamLen {
		writeBadRequest(w, "invalid field")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	var req capabilityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	id := dev.Identity().ID
	if err := s.bridge.RequestCapability(id, device.Field(field), req.Value); err != nil {
		writeBridgeError(w, err, "failed to apply capability")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"field":     field,
		"state":     dev.Snapshot(),
	})
}
