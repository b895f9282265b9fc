package registry

import (
	"context"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/cubeapi"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/logging"
)

// Refresher is the out-of-band refresh trigger a dispatched command
// schedules on success
type Refresher interface {
	RefreshNow(deviceID string)
}

// Dispatcher validates capability assignments against the cached device
// specification and issues them as a signed command request.  Validation
// failures never reach the network; platform rejections are surfaced and
// never retried here.
type Dispatcher struct {
	api       cubeapi.CubeAPI
	registry  *Registry
	refresher Refresher
}

func NewDispatcher(api cubeapi.CubeAPI, reg *Registry, refresher Refresher) *Dispatcher {
	return &Dispatcher{
		api:       api,
		registry:  reg,
		refresher: refresher,
	}
}

// Send issues a set of capability assignments to one device.  On success
// it schedules an out-of-cycle status refresh so callers observe the
// effect promptly; the command result does not wait for the refresh.
func (d *Dispatcher) Send(ctx context.Context, deviceID string, assignments map[string]interface{}) error {
	device, ok := d.registry.Get(deviceID)
	if !ok {
		return &UnknownDeviceError{DeviceID: deviceID}
	}

	commands, err := device.Spec.BuildCommands(assignments)
	if err != nil {
		return err
	}

	if err := d.api.SendCommands(ctx, deviceID, commands); err != nil {
		return err
	}

	logging.Logger(ctx).Debugf("sent %d commands to %s", len(commands), deviceID)

	if d.refresher != nil {
		d.refresher.RefreshNow(deviceID)
	}

	return nil
}
