package cubeapi

import (
	"context"
	"time"
)

// User is the stable platform identity behind a human-entered username
type User struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Nickname string `json:"nick_name"`
}

// Home groups devices under one location
type Home struct {
	HomeID  string  `json:"home_id"`
	Name    string  `json:"name"`
	GeoName string  `json:"geo_name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Role    string  `json:"role"`
}

// StatusItem is one capability code / value pair as reported by the
// platform
type StatusItem struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

// DeviceInfo is a device as it appears in the user's device list
type DeviceInfo struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	Online      bool         `json:"online"`
	Sub         bool         `json:"sub"`
	UUID        string       `json:"uuid"`
	TimeZone    string       `json:"time_zone"`
	ActiveTime  int64        `json:"active_time"`
	CreateTime  int64        `json:"create_time"`
	UpdateTime  int64        `json:"update_time"`
	Status      []StatusItem `json:"status"`
}

// SpecItem is one entry of a device specification; Values holds the
// type-specific metadata (range, enum values, scale) as a JSON document
type SpecItem struct {
	Code   string `json:"code"`
	Type   string `json:"type"`
	Values string `json:"values"`
}

// Specification is the capability schema for one device: the writable
// functions and the reportable status ranges
type Specification struct {
	Category  string     `json:"category"`
	Functions []SpecItem `json:"functions"`
	Status    []SpecItem `json:"status"`
}

// Command is one capability assignment in a device command payload
type Command struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

// CubeAPI is the signed, authenticated surface of the cloud platform
// consumed by the bridge
type CubeAPI interface {
	WithTimeout(d time.Duration) CubeAPI

	ResolveUser(ctx context.Context, username string) (*User, error)
	Homes(ctx context.Context, uid string) ([]Home, error)
	Devices(ctx context.Context, uid string) ([]DeviceInfo, error)
	Device(ctx context.Context, deviceID string) (*DeviceInfo, error)
	DeviceStatus(ctx context.Context, deviceID string) ([]StatusItem, error)
	DeviceSpecification(ctx context.Context, deviceID string) (*Specification, error)
	SendCommands(ctx context.Context, deviceID string, commands []Command) error

	Close()
}
