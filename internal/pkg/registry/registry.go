package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/korovkin/limiter"
	"github.com/pkg/errors"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/cubeapi"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/logging"
)

const (
	defaultSpecWorkers = 4
	defaultSpecRetries = 2
)

// Status is one immutable status snapshot for a device.  It is replaced
// wholesale on every apply; readers never see a partial update.
type Status struct {
	Values    map[string]interface{}
	Timestamp time.Time
}

// Age reports how stale the snapshot is
func (s *Status) Age() time.Duration {
	return time.Since(s.Timestamp)
}

// Device is the read view composed of the slow-changing specification
// and the latest status snapshot.  Status is nil until the first
// successful apply; such a device is reported unavailable.
type Device struct {
	Info   cubeapi.DeviceInfo
	Spec   *DeviceSpec
	Status *Status
}

func (d Device) Available() bool {
	return d.Status != nil
}

type entry struct {
	info   cubeapi.DeviceInfo
	spec   *DeviceSpec
	status *Status
}

// Registry exclusively owns the device map.  Mutation happens only in
// LoadAll and ApplyStatus; everything else reads snapshots.
type Registry struct {
	api         cubeapi.CubeAPI
	specWorkers int
	specRetries int

	mu      sync.RWMutex
	devices map[string]*entry
}

func New(api cubeapi.CubeAPI) *Registry {
	return &Registry{
		api:         api,
		specWorkers: defaultSpecWorkers,
		specRetries: defaultSpecRetries,
		devices:     make(map[string]*entry),
	}
}

func (r *Registry) WithSpecWorkers(n int) *Registry {
	if n > 0 {
		r.specWorkers = n
	}
	return r
}

// LoadAll fetches the device list for a user and, with bounded fan-out,
// each device's specification.  The resulting set is published
// atomically once every specification has been fetched or has
// definitively failed.  A device whose specification cannot be obtained
// is omitted and logged; only a list failure is fatal.
func (r *Registry) LoadAll(ctx context.Context, uid string) ([]string, error) {
	infos, err := r.api.Devices(ctx, uid)
	if err != nil {
		return nil, errors.Wrap(err, "listing devices")
	}

	var resultMu sync.Mutex
	specs := make(map[string]*DeviceSpec, len(infos))

	limit := limiter.NewConcurrencyLimiter(r.specWorkers)
	for _, info := range infos {
		info := info
		limit.Execute(func() {
			spec, err := r.fetchSpec(ctx, info)
			if err != nil {
				logging.Logger(ctx).WithError(err).Warnf("omitting device %s: specification unavailable", info.ID)
				return
			}

			resultMu.Lock()
			specs[info.ID] = spec
			resultMu.Unlock()
		})
	}
	limit.Wait()

	now := time.Now()
	published := make(map[string]*entry, len(specs))
	ids := make([]string, 0, len(specs))

	for _, info := range infos {
		spec, ok := specs[info.ID]
		if !ok {
			continue
		}

		e := &entry{info: info, spec: spec}

		// The device list carries an initial status snapshot
		if len(info.Status) > 0 {
			e.status = &Status{Values: statusMap(info.Status), Timestamp: now}
		}

		published[info.ID] = e
		ids = append(ids, info.ID)
	}

	r.mu.Lock()
	r.devices = published
	r.mu.Unlock()

	logging.Logger(ctx).Infof("registry loaded: %d of %d devices published", len(ids), len(infos))
	return ids, nil
}

// fetchSpec retries per-device specification failures a bounded number
// of times before giving up on that device alone
func (r *Registry) fetchSpec(ctx context.Context, info cubeapi.DeviceInfo) (*DeviceSpec, error) {
	var lastErr error

	for attempt := 0; attempt <= r.specRetries; attempt++ {
		src, err := r.api.DeviceSpecification(ctx, info.ID)
		if err == nil {
			return BuildSpec(info.ID, info.Category, src), nil
		}

		lastErr = err

		var terr *cubeapi.TransientError
		if !errors.As(err, &terr) {
			break
		}

		logging.Logger(ctx).WithError(err).Debugf("specification fetch for %s failed (attempt %d)", info.ID, attempt+1)
	}

	return nil, lastErr
}

// Reload re-fetches one device's info and specification, for a device
// re-added after a load.  The existing status snapshot is retained.
func (r *Registry) Reload(ctx context.Context, deviceID string) error {
	info, err := r.api.Device(ctx, deviceID)
	if err != nil {
		return errors.Wrapf(err, "fetching device %s", deviceID)
	}

	spec, err := r.fetchSpec(ctx, *info)
	if err != nil {
		return errors.Wrapf(err, "fetching specification for %s", deviceID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[deviceID]
	if !ok {
		e = &entry{}
		r.devices[deviceID] = e
	}
	e.info = *info
	e.spec = spec

	return nil
}

// Get returns an immutable snapshot of the device, O(1)
func (r *Registry) Get(deviceID string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.devices[deviceID]
	if !ok {
		return Device{}, false
	}

	return Device{Info: e.info, Spec: e.spec, Status: e.status}, true
}

// IDs returns the published device ids in stable order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// All returns snapshots of every published device
func (r *Registry) All() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, e := range r.devices {
		devices = append(devices, Device{Info: e.info, Spec: e.spec, Status: e.status})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Info.ID < devices[j].Info.ID })
	return devices
}

// ApplyStatus atomically replaces the status snapshot for a device.
// Snapshots apply in fetch-completion order but an older result never
// overwrites a newer one already applied.  An unknown device (removed
// between poll cycles) is a warning, not an error.
func (r *Registry) ApplyStatus(deviceID string, values map[string]interface{}, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[deviceID]
	if !ok {
		logging.Logger(nil).Warnf("dropping status for unknown device [%s]", deviceID)
		return
	}

	if e.status != nil && timestamp.Before(e.status.Timestamp) {
		logging.Logger(nil).Debugf("dropping stale status for %s (%s < %s)",
			deviceID, timestamp.Format(time.RFC3339Nano), e.status.Timestamp.Format(time.RFC3339Nano))
		return
	}

	e.status = &Status{Values: values, Timestamp: timestamp}
}

func statusMap(items []cubeapi.StatusItem) map[string]interface{} {
	values := make(map[string]interface{}, len(items))
	for _, item := range items {
		if item.Code == "" {
			continue
		}
		values[item.Code] = item.Value
	}

	return values
}
