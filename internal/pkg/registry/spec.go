package registry

import (
	"encoding/json"
	"fmt"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/cubeapi"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/logging"
)

// ValueType is the platform-declared type of a capability point
type ValueType string

const (
	TypeBoolean ValueType = "Boolean"
	TypeInteger ValueType = "Integer"
	TypeEnum    ValueType = "Enum"
	TypeString  ValueType = "String"
	TypeJSON    ValueType = "Json"
	TypeRaw     ValueType = "Raw"
)

// Type-specific metadata carried in a specification item's values
// document
type valueMeta struct {
	Min   *int64   `json:"min"`
	Max   *int64   `json:"max"`
	Scale int      `json:"scale"`
	Step  int64    `json:"step"`
	Unit  string   `json:"unit"`
	Range []string `json:"range"`
}

// CapabilityPoint is one named, typed control or telemetry value a
// device exposes.  Immutable once fetched.
type CapabilityPoint struct {
	Code     string
	Type     ValueType
	ReadOnly bool
	Min      *int64
	Max      *int64
	Scale    int
	Step     int64
	Unit     string
	Enum     []string
}

// DeviceSpec is the normalized capability schema of one device: the
// ordered set of its points plus the category rules resolved from them
type DeviceSpec struct {
	DeviceID string
	Category string
	Points   []CapabilityPoint

	byCode map[string]int
	rules  categoryRules
}

// BuildSpec normalizes a fetched specification.  Writable functions come
// first in platform order; codes only present as status ranges follow,
// marked read-only.  Malformed values metadata is tolerated the way the
// platform's own clients tolerate it: the point keeps its type with no
// range info.
func BuildSpec(deviceID, category string, src *cubeapi.Specification) *DeviceSpec {
	if src.Category != "" {
		category = src.Category
	}

	spec := &DeviceSpec{
		DeviceID: deviceID,
		Category: category,
		byCode:   make(map[string]int),
		rules:    resolveRules(category),
	}

	add := func(item cubeapi.SpecItem, readOnly bool) {
		if item.Code == "" {
			return
		}
		if _, dup := spec.byCode[item.Code]; dup {
			return
		}

		meta := valueMeta{}
		if item.Values != "" {
			if err := json.Unmarshal([]byte(item.Values), &meta); err != nil {
				logging.Logger(nil).Debugf("unparseable values metadata for %s/%s: %v", deviceID, item.Code, err)
				meta = valueMeta{}
			}
		}

		point := CapabilityPoint{
			Code:     item.Code,
			Type:     ValueType(item.Type),
			ReadOnly: readOnly,
			Min:      meta.Min,
			Max:      meta.Max,
			Scale:    meta.Scale,
			Step:     meta.Step,
			Unit:     meta.Unit,
			Enum:     meta.Range,
		}

		spec.byCode[item.Code] = len(spec.Points)
		spec.Points = append(spec.Points, point)
	}

	for _, item := range src.Functions {
		add(item, false)
	}
	for _, item := range src.Status {
		add(item, true)
	}

	return spec
}

// Point returns the capability point for a code, if declared
func (s *DeviceSpec) Point(code string) (CapabilityPoint, bool) {
	i, ok := s.byCode[code]
	if !ok {
		return CapabilityPoint{}, false
	}

	return s.Points[i], true
}

// Kind is the device's resolved category kind
func (s *DeviceSpec) Kind() string {
	return s.rules.kind.String()
}

func (s *DeviceSpec) writable(code string) bool {
	p, ok := s.Point(code)
	return ok && !p.ReadOnly
}

// resolveWrite maps a requested assignment code to the code the command
// will actually carry, preferring the most granular control point the
// specification advertises.  The returned value may differ from the
// input when a position assignment degrades to the open/close control
// enum.
func (s *DeviceSpec) resolveWrite(code string, value interface{}) (string, interface{}, error) {
	if s.writable(code) {
		return code, value, nil
	}

	// A position assignment may be expressible through a coarser point
	if s.rules.positionGroup(code) {
		for _, candidate := range s.rules.positionPreference {
			if !s.writable(candidate) {
				continue
			}

			if candidate != CodeControl {
				return candidate, value, nil
			}

			// Only the endpoints of the range survive the degrade to
			// open/close
			pos, ok := intValue(value)
			if !ok {
				break
			}
			switch pos {
			case 0:
				return CodeControl, "close", nil
			case 100:
				return CodeControl, "open", nil
			}

			return "", nil, &InvalidValueError{
				DeviceID: s.DeviceID, Code: code, Value: value,
				Reason: "device supports open/close control only",
			}
		}
	}

	if p, ok := s.Point(code); ok && p.ReadOnly {
		return "", nil, &InvalidCapabilityError{DeviceID: s.DeviceID, Code: code, Reason: "capability is read-only"}
	}

	return "", nil, &InvalidCapabilityError{DeviceID: s.DeviceID, Code: code, Reason: "capability not declared by device specification"}
}

// Validate checks one resolved assignment against the declared type,
// range and enum of its capability point
func (s *DeviceSpec) Validate(code string, value interface{}) error {
	point, ok := s.Point(code)
	if !ok {
		return &InvalidCapabilityError{DeviceID: s.DeviceID, Code: code, Reason: "capability not declared by device specification"}
	}
	if point.ReadOnly {
		return &InvalidCapabilityError{DeviceID: s.DeviceID, Code: code, Reason: "capability is read-only"}
	}

	switch point.Type {
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return &InvalidValueError{DeviceID: s.DeviceID, Code: code, Value: value, Reason: "expected boolean"}
		}

	case TypeInteger:
		n, ok := intValue(value)
		if !ok {
			return &InvalidValueError{DeviceID: s.DeviceID, Code: code, Value: value, Reason: "expected integer"}
		}
		if point.Min != nil && n < *point.Min {
			return &InvalidValueError{DeviceID: s.DeviceID, Code: code, Value: value,
				Reason: fmt.Sprintf("below declared minimum %d", *point.Min)}
		}
		if point.Max != nil && n > *point.Max {
			return &InvalidValueError{DeviceID: s.DeviceID, Code: code, Value: value,
				Reason: fmt.Sprintf("above declared maximum %d", *point.Max)}
		}

	case TypeEnum:
		str, ok := value.(string)
		if !ok {
			return &InvalidValueError{DeviceID: s.DeviceID, Code: code, Value: value, Reason: "expected enum string"}
		}
		for _, allowed := range point.Enum {
			if str == allowed {
				return nil
			}
		}
		return &InvalidValueError{DeviceID: s.DeviceID, Code: code, Value: value,
			Reason: fmt.Sprintf("not in declared enum %v", point.Enum)}

	case TypeString:
		if _, ok := value.(string); !ok {
			return &InvalidValueError{DeviceID: s.DeviceID, Code: code, Value: value, Reason: "expected string"}
		}

	case TypeJSON, TypeRaw:
		// Opaque to us; the platform validates content
	}

	return nil
}

// BuildCommands validates a set of assignments and encodes them as the
// ordered command payload.  Any validation failure rejects the whole set
// before a network call is made.
func (s *DeviceSpec) BuildCommands(assignments map[string]interface{}) ([]cubeapi.Command, error) {
	resolved := make(map[string]interface{}, len(assignments))

	for code, value := range assignments {
		if s.rules.gated(code) {
			if _, ok := s.Point(s.rules.setpointGate); !ok {
				return nil, &InvalidCapabilityError{
					DeviceID: s.DeviceID, Code: code,
					Reason: fmt.Sprintf("device lacks the [%s] capability required for this command", s.rules.setpointGate),
				}
			}
		}

		target, targetValue, err := s.resolveWrite(code, value)
		if err != nil {
			return nil, err
		}

		if err := s.Validate(target, targetValue); err != nil {
			return nil, err
		}

		resolved[target] = targetValue
	}

	// Emit in specification order so the payload is deterministic
	commands := make([]cubeapi.Command, 0, len(resolved))
	for _, point := range s.Points {
		if value, ok := resolved[point.Code]; ok {
			commands = append(commands, cubeapi.Command{Code: point.Code, Value: value})
		}
	}

	return commands, nil
}

func intValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}

	return 0, false
}
