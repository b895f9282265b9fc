package registry

import (
	"context"
	"sync"
	"time"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/cubeapi"
)

// fakeAPI is an in-memory CubeAPI for registry tests
type fakeAPI struct {
	mu sync.Mutex

	devices  []cubeapi.DeviceInfo
	specs    map[string]*cubeapi.Specification
	statuses map[string][]cubeapi.StatusItem

	specErrs   map[string]error
	statusErrs map[string]error

	specCalls    map[string]int
	statusCalls  map[string]int
	commandCalls int
	lastCommands []cubeapi.Command
	commandErr   error

	// when set, status fetches block until the channel is closed
	statusGate chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		specs:       make(map[string]*cubeapi.Specification),
		statuses:    make(map[string][]cubeapi.StatusItem),
		specErrs:    make(map[string]error),
		statusErrs:  make(map[string]error),
		specCalls:   make(map[string]int),
		statusCalls: make(map[string]int),
	}
}

func (f *fakeAPI) WithTimeout(d time.Duration) cubeapi.CubeAPI { return f }
func (f *fakeAPI) Close()                                      {}

func (f *fakeAPI) ResolveUser(ctx context.Context, username string) (*cubeapi.User, error) {
	return &cubeapi.User{UID: "u123", Username: username}, nil
}

func (f *fakeAPI) Homes(ctx context.Context, uid string) ([]cubeapi.Home, error) {
	return []cubeapi.Home{{HomeID: "h1", Name: "Home"}}, nil
}

func (f *fakeAPI) Devices(ctx context.Context, uid string) ([]cubeapi.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, nil
}

func (f *fakeAPI) Device(ctx context.Context, deviceID string) (*cubeapi.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, d := range f.devices {
		if d.ID == deviceID {
			d := d
			return &d, nil
		}
	}

	return nil, &cubeapi.APIError{Code: 1106, Msg: "device not found"}
}

func (f *fakeAPI) DeviceStatus(ctx context.Context, deviceID string) ([]cubeapi.StatusItem, error) {
	f.mu.Lock()
	gate := f.statusGate
	f.statusCalls[deviceID]++
	err := f.statusErrs[deviceID]
	status := f.statuses[deviceID]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if err != nil {
		return nil, err
	}

	return status, nil
}

func (f *fakeAPI) DeviceSpecification(ctx context.Context, deviceID string) (*cubeapi.Specification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.specCalls[deviceID]++
	if err := f.specErrs[deviceID]; err != nil {
		return nil, err
	}

	return f.specs[deviceID], nil
}

func (f *fakeAPI) SendCommands(ctx context.Context, deviceID string, commands []cubeapi.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commandCalls++
	f.lastCommands = commands

	return f.commandErr
}

func (f *fakeAPI) countStatusCalls(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[deviceID]
}

func (f *fakeAPI) countCommandCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commandCalls
}

/*
 *   Common fixtures
 */

func socketSpec() *cubeapi.Specification {
	return &cubeapi.Specification{
		Category: "cz",
		Functions: []cubeapi.SpecItem{
			{Code: "switch_1", Type: "Boolean", Values: "{}"},
			{Code: "countdown_1", Type: "Integer", Values: `{"min":0,"max":86400,"scale":0,"step":1,"unit":"s"}`},
		},
		Status: []cubeapi.SpecItem{
			{Code: "switch_1", Type: "Boolean", Values: "{}"},
			{Code: "cur_power", Type: "Integer", Values: `{"min":0,"max":50000,"scale":1,"step":1,"unit":"W"}`},
		},
	}
}

func curtainSpec() *cubeapi.Specification {
	return &cubeapi.Specification{
		Category: "cl",
		Functions: []cubeapi.SpecItem{
			{Code: "control", Type: "Enum", Values: `{"range":["open","close","stop"]}`},
			{Code: "percent_control", Type: "Integer", Values: `{"min":0,"max":100,"scale":0,"step":1,"unit":"%"}`},
		},
		Status: []cubeapi.SpecItem{
			{Code: "percent_state", Type: "Integer", Values: `{"min":0,"max":100,"scale":0,"step":1,"unit":"%"}`},
		},
	}
}

func thermostatSpec(withSwitch bool) *cubeapi.Specification {
	spec := &cubeapi.Specification{
		Category: "wk",
		Functions: []cubeapi.SpecItem{
			{Code: "temp_set", Type: "Integer", Values: `{"min":5,"max":35,"scale":0,"step":1,"unit":"C"}`},
			{Code: "mode", Type: "Enum", Values: `{"range":["hot","cold","auto"]}`},
		},
		Status: []cubeapi.SpecItem{
			{Code: "temp_current", Type: "Integer", Values: `{"min":-20,"max":60,"scale":0,"step":1,"unit":"C"}`},
		},
	}

	if withSwitch {
		spec.Functions = append([]cubeapi.SpecItem{{Code: "switch", Type: "Boolean", Values: "{}"}}, spec.Functions...)
	}

	return spec
}

func (f *fakeAPI) addDevice(id, name, category string, spec *cubeapi.Specification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.devices = append(f.devices, cubeapi.DeviceInfo{ID: id, Name: name, Category: category, Online: true})
	f.specs[id] = spec
}
