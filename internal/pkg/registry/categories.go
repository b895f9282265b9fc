package registry

/*
 *   Device categories and the capability codes their command semantics
 *   hinge on.  The category tables are a closed set; a device whose
 *   category we do not know still polls and accepts plain writable
 *   assignments, it just gets no preference rules.
 */

// Well-known capability codes
const (
	CodeSwitch         = "switch"
	CodeSwitchLED      = "switch_led"
	CodeTempSet        = "temp_set"
	CodeTempCurrent    = "temp_current"
	CodeMode           = "mode"
	CodeFanSpeedEnum   = "fan_speed_enum"
	CodeControl        = "control"
	CodePercentControl = "percent_control"
	CodePercentState   = "percent_state"
	CodePosition       = "position"
	CodeBrightValue    = "bright_value"
	CodeWorkMode       = "work_mode"
)

// Cover stop keyword for the control enum
const coverStop = "stop"

type categoryKind int

const (
	kindUnknown categoryKind = iota
	kindSwitch
	kindLight
	kindSensor
	kindBinarySensor
	kindClimate
	kindCover
)

func (k categoryKind) String() string {
	switch k {
	case kindSwitch:
		return "switch"
	case kindLight:
		return "light"
	case kindSensor:
		return "sensor"
	case kindBinarySensor:
		return "binary_sensor"
	case kindClimate:
		return "climate"
	case kindCover:
		return "cover"
	}

	return "unknown"
}

var categoryKinds = map[string]categoryKind{
	// Switches and sockets
	"kg":  kindSwitch,
	"cz":  kindSwitch,
	"pc":  kindSwitch,
	"dlq": kindSwitch,

	// Lights
	"dj":   kindLight,
	"xdd":  kindLight,
	"fwd":  kindLight,
	"dc":   kindLight,
	"dd":   kindLight,
	"tgkg": kindLight,
	"tgq":  kindLight,
	"fsd":  kindLight,

	// Sensors
	"wsdcg": kindSensor,
	"pm2.5": kindSensor,
	"co2bj": kindSensor,
	"ldcg":  kindSensor,
	"zndb":  kindSensor,
	"hjjcy": kindSensor,

	// Binary sensors
	"mcs":  kindBinarySensor,
	"pir":  kindBinarySensor,
	"sj":   kindBinarySensor,
	"ywbj": kindBinarySensor,
	"rqbj": kindBinarySensor,
	"cobj": kindBinarySensor,

	// Climate
	"kt":    kindClimate,
	"wk":    kindClimate,
	"ktkzq": kindClimate,

	// Covers
	"cl":     kindCover,
	"clkg":   kindCover,
	"ckmkzq": kindCover,
	"mc":     kindCover,
}

// categoryRules is resolved once per device from its category and
// specification content, never re-inspected per call
type categoryRules struct {
	kind categoryKind

	// For covers: write codes for a position assignment, most granular
	// first.  The last resort is the open/close/stop control enum.
	positionPreference []string

	// For climate: setpoint and mode assignments are only accepted when
	// this capability exists on the device
	setpointGate string
}

func resolveRules(category string) categoryRules {
	rules := categoryRules{kind: categoryKinds[category]}

	switch rules.kind {
	case kindCover:
		rules.positionPreference = []string{CodePosition, CodePercentControl, CodeControl}
	case kindClimate:
		rules.setpointGate = CodeSwitch
	}

	return rules
}

// positionGroup says whether a code is an interchangeable way of
// expressing a cover position
func (r categoryRules) positionGroup(code string) bool {
	if r.kind != kindCover {
		return false
	}

	return code == CodePosition || code == CodePercentControl
}

// gated says whether an assignment for this code needs the gate
// capability to be present on the device
func (r categoryRules) gated(code string) bool {
	if r.setpointGate == "" {
		return false
	}

	return code == CodeTempSet || code == CodeMode || code == CodeFanSpeedEnum
}
