package registry

import "fmt"

// UnknownDeviceError is returned for a device id the registry has never
// published
type UnknownDeviceError struct {
	DeviceID string
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("unknown device [%s]", e.DeviceID)
}

// InvalidCapabilityError rejects an assignment for a capability code the
// device specification does not advertise as writable
type InvalidCapabilityError struct {
	DeviceID string
	Code     string
	Reason   string
}

func (e *InvalidCapabilityError) Error() string {
	return fmt.Sprintf("invalid capability [%s] for device %s: %s", e.Code, e.DeviceID, e.Reason)
}

// InvalidValueError rejects an assignment whose value falls outside the
// declared type, range or enum of the capability
type InvalidValueError struct {
	DeviceID string
	Code     string
	Value    interface{}
	Reason   string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %v for capability [%s] of device %s: %s", e.Value, e.Code, e.DeviceID, e.Reason)
}
