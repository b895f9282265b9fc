package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/cubeapi"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/logging"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/registry"
)

// BridgeHandler exposes the device snapshots and the command pipeline to
// the host platform
type BridgeHandler struct {
	api        cubeapi.CubeAPI
	registry   *registry.Registry
	dispatcher *registry.Dispatcher
	uid        string
}

func NewBridgeHandler(api cubeapi.CubeAPI, reg *registry.Registry, dispatcher *registry.Dispatcher, uid string) BridgeHandler {
	return BridgeHandler{
		api:        api,
		registry:   reg,
		dispatcher: dispatcher,
		uid:        uid,
	}
}

// Register attaches the handler's routes to the router
func (h *BridgeHandler) Register(r *mux.Router) {
	r.HandleFunc("/devices", h.ListDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", h.GetDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/commands", h.SendCommands).Methods(http.MethodPost)
	r.HandleFunc("/homes", h.ListHomes).Methods(http.MethodGet)
}

type capabilityView struct {
	Code     string   `json:"code"`
	Type     string   `json:"type"`
	ReadOnly bool     `json:"read_only"`
	Min      *int64   `json:"min,omitempty"`
	Max      *int64   `json:"max,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Enum     []string `json:"enum,omitempty"`
}

type deviceView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Kind     string `json:"kind"`
	Online   bool   `json:"online"`

	// Available is false until a first status snapshot has been applied
	Available bool `json:"available"`

	Status map[string]interface{} `json:"status,omitempty"`

	// Seconds since the snapshot was applied; the staleness signal
	StatusAgeSeconds *float64 `json:"status_age_seconds,omitempty"`

	Capabilities []capabilityView `json:"capabilities"`
}

func makeDeviceView(d registry.Device) deviceView {
	view := deviceView{
		ID:        d.Info.ID,
		Name:      d.Info.Name,
		Category:  d.Spec.Category,
		Kind:      d.Spec.Kind(),
		Online:    d.Info.Online,
		Available: d.Available(),
	}

	if d.Status != nil {
		view.Status = d.Status.Values
		age := d.Status.Age().Seconds()
		view.StatusAgeSeconds = &age
	}

	view.Capabilities = make([]capabilityView, 0, len(d.Spec.Points))
	for _, p := range d.Spec.Points {
		view.Capabilities = append(view.Capabilities, capabilityView{
			Code:     p.Code,
			Type:     string(p.Type),
			ReadOnly: p.ReadOnly,
			Min:      p.Min,
			Max:      p.Max,
			Unit:     p.Unit,
			Enum:     p.Enum,
		})
	}

	return view
}

func (h *BridgeHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.registry.All()

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, makeDeviceView(d))
	}

	sendJSONResponse(w, r, http.StatusOK, views)
}

func (h *BridgeHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	device, ok := h.registry.Get(id)
	if !ok {
		sendErrorResponse(w, r, http.StatusNotFound, "unknown-device", "no device with id "+id)
		return
	}

	sendJSONResponse(w, r, http.StatusOK, makeDeviceView(device))
}

type commandRequest struct {
	Assignments map[string]interface{} `json:"assignments"`
}

type commandResponse struct {
	Result string `json:"result"`
}

func (h *BridgeHandler) SendCommands(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req := commandRequest{}
	if err := decodeJSONBody(w, r, &req); err != nil {
		sendErrorResponse(w, r, http.StatusBadRequest, "bad-request", err.Error())
		return
	}

	if len(req.Assignments) == 0 {
		sendErrorResponse(w, r, http.StatusBadRequest, "bad-request", "no assignments supplied")
		return
	}

	if err := h.dispatcher.Send(r.Context(), id, req.Assignments); err != nil {
		status, kind := commandErrorStatus(err)
		logging.Logger(r.Context()).WithError(err).Debugf("command for %s failed", id)
		sendErrorResponse(w, r, status, kind, err.Error())
		return
	}

	sendJSONResponse(w, r, http.StatusOK, commandResponse{Result: "accepted"})
}

func (h *BridgeHandler) ListHomes(w http.ResponseWriter, r *http.Request) {
	homes, err := h.api.Homes(r.Context(), h.uid)
	if err != nil {
		status, kind := commandErrorStatus(err)
		sendErrorResponse(w, r, status, kind, err.Error())
		return
	}

	sendJSONResponse(w, r, http.StatusOK, homes)
}

// commandErrorStatus maps the pipeline error taxonomy onto HTTP statuses
func commandErrorStatus(err error) (int, string) {
	var (
		unknownDevice     *registry.UnknownDeviceError
		invalidCapability *registry.InvalidCapabilityError
		invalidValue      *registry.InvalidValueError
		rejected          *cubeapi.CommandRejectedError
		auth              *cubeapi.AuthError
		transient         *cubeapi.TransientError
	)

	switch {
	case errors.As(err, &unknownDevice):
		return http.StatusNotFound, "unknown-device"
	case errors.As(err, &invalidCapability):
		return http.StatusBadRequest, "invalid-capability"
	case errors.As(err, &invalidValue):
		return http.StatusBadRequest, "invalid-value"
	case errors.As(err, &rejected):
		return http.StatusConflict, "command-rejected"
	case errors.As(err, &auth):
		return http.StatusBadGateway, "auth-failure"
	case errors.As(err, &transient):
		return http.StatusGatewayTimeout, "transient-failure"
	}

	return http.StatusInternalServerError, "internal-error"
}
