package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/cubeapi"
)

func TestBuildSpecOrdersFunctionsFirst(t *testing.T) {
	spec := BuildSpec("d1", "cz", socketSpec())

	require.Len(t, spec.Points, 3)
	assert.Equal(t, "switch_1", spec.Points[0].Code)
	assert.Equal(t, "countdown_1", spec.Points[1].Code)
	assert.Equal(t, "cur_power", spec.Points[2].Code)

	assert.False(t, spec.Points[0].ReadOnly)
	assert.False(t, spec.Points[1].ReadOnly)
	assert.True(t, spec.Points[2].ReadOnly, "status-only code must be read-only")

	assert.Equal(t, "switch", spec.Kind())
}

func TestBuildSpecDeduplicatesStatusCodes(t *testing.T) {
	spec := BuildSpec("d1", "cz", socketSpec())

	// switch_1 appears in both lists; the writable function entry wins
	point, ok := spec.Point("switch_1")
	require.True(t, ok)
	assert.False(t, point.ReadOnly)
}

func TestBuildSpecParsesValueMetadata(t *testing.T) {
	spec := BuildSpec("d1", "cz", socketSpec())

	point, ok := spec.Point("countdown_1")
	require.True(t, ok)
	assert.Equal(t, TypeInteger, point.Type)
	require.NotNil(t, point.Min)
	require.NotNil(t, point.Max)
	assert.Equal(t, int64(0), *point.Min)
	assert.Equal(t, int64(86400), *point.Max)
	assert.Equal(t, "s", point.Unit)
}

func TestBuildSpecToleratesMalformedMetadata(t *testing.T) {
	src := &cubeapi.Specification{
		Category: "cz",
		Functions: []cubeapi.SpecItem{
			{Code: "switch_1", Type: "Boolean", Values: "not json at all"},
		},
	}

	spec := BuildSpec("d1", "cz", src)

	point, ok := spec.Point("switch_1")
	require.True(t, ok)
	assert.Equal(t, TypeBoolean, point.Type)
	assert.Nil(t, point.Min)
	assert.Nil(t, point.Max)
}

func TestValidateTypes(t *testing.T) {
	spec := BuildSpec("d1", "cz", socketSpec())

	assert.NoError(t, spec.Validate("switch_1", true))
	assert.NoError(t, spec.Validate("countdown_1", 300))
	assert.NoError(t, spec.Validate("countdown_1", float64(300)))

	var valErr *InvalidValueError
	assert.ErrorAs(t, spec.Validate("switch_1", "on"), &valErr)
	assert.ErrorAs(t, spec.Validate("countdown_1", "soon"), &valErr)
	assert.ErrorAs(t, spec.Validate("countdown_1", 1.5), &valErr, "non-integral floats are not integers")
	assert.ErrorAs(t, spec.Validate("countdown_1", 86401), &valErr)
	assert.ErrorAs(t, spec.Validate("countdown_1", -1), &valErr)
}

func TestValidateEnum(t *testing.T) {
	spec := BuildSpec("d1", "cl", curtainSpec())

	assert.NoError(t, spec.Validate("control", "open"))
	assert.NoError(t, spec.Validate("control", "stop"))

	var valErr *InvalidValueError
	assert.ErrorAs(t, spec.Validate("control", "sideways"), &valErr)
}

func TestValidateRejectsReadOnlyAndUndeclared(t *testing.T) {
	spec := BuildSpec("d1", "cz", socketSpec())

	var capErr *InvalidCapabilityError
	assert.ErrorAs(t, spec.Validate("cur_power", 42), &capErr)
	assert.ErrorAs(t, spec.Validate("no_such_code", 42), &capErr)
}

func TestBuildCommandsOrdersBySpecification(t *testing.T) {
	spec := BuildSpec("d1", "cz", socketSpec())

	commands, err := spec.BuildCommands(map[string]interface{}{
		"countdown_1": 60,
		"switch_1":    true,
	})
	require.NoError(t, err)

	require.Len(t, commands, 2)
	assert.Equal(t, "switch_1", commands[0].Code)
	assert.Equal(t, "countdown_1", commands[1].Code)
}

func TestBuildCommandsRejectsWholeSet(t *testing.T) {
	spec := BuildSpec("d1", "cz", socketSpec())

	commands, err := spec.BuildCommands(map[string]interface{}{
		"switch_1":    true,
		"countdown_1": "bogus",
	})

	var valErr *InvalidValueError
	assert.ErrorAs(t, err, &valErr)
	assert.Nil(t, commands, "one invalid assignment must reject everything")
}

func TestCoverPositionPrefersPercentControl(t *testing.T) {
	spec := BuildSpec("d1", "cl", curtainSpec())

	commands, err := spec.BuildCommands(map[string]interface{}{
		CodePosition: 40,
	})
	require.NoError(t, err)

	require.Len(t, commands, 1)
	assert.Equal(t, CodePercentControl, commands[0].Code)
	assert.Equal(t, 40, commands[0].Value)
}

func TestCoverControlOnlyDegradesEndpoints(t *testing.T) {
	src := &cubeapi.Specification{
		Category: "mc",
		Functions: []cubeapi.SpecItem{
			{Code: "control", Type: "Enum", Values: `{"range":["open","close","stop"]}`},
		},
	}
	spec := BuildSpec("d1", "mc", src)

	commands, err := spec.BuildCommands(map[string]interface{}{CodePosition: 0})
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, cubeapi.Command{Code: CodeControl, Value: "close"}, commands[0])

	commands, err = spec.BuildCommands(map[string]interface{}{CodePosition: 100})
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, cubeapi.Command{Code: CodeControl, Value: "open"}, commands[0])

	var valErr *InvalidValueError
	_, err = spec.BuildCommands(map[string]interface{}{CodePosition: 50})
	assert.ErrorAs(t, err, &valErr, "intermediate positions cannot degrade to open/close")
}

func TestClimateSetpointGate(t *testing.T) {
	gated := BuildSpec("d1", "wk", thermostatSpec(false))

	var capErr *InvalidCapabilityError
	_, err := gated.BuildCommands(map[string]interface{}{CodeTempSet: 21})
	require.ErrorAs(t, err, &capErr)
	assert.Contains(t, capErr.Error(), CodeSwitch)

	_, err = gated.BuildCommands(map[string]interface{}{CodeMode: "hot"})
	assert.ErrorAs(t, err, &capErr)

	open := BuildSpec("d2", "wk", thermostatSpec(true))

	commands, err := open.BuildCommands(map[string]interface{}{CodeTempSet: 21})
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, CodeTempSet, commands[0].Code)
}

func TestUnknownCategoryStillWritable(t *testing.T) {
	src := &cubeapi.Specification{
		Category: "qqq",
		Functions: []cubeapi.SpecItem{
			{Code: "switch_1", Type: "Boolean", Values: "{}"},
		},
	}
	spec := BuildSpec("d1", "qqq", src)

	assert.Equal(t, "unknown", spec.Kind())

	commands, err := spec.BuildCommands(map[string]interface{}{"switch_1": true})
	require.NoError(t, err)
	assert.Len(t, commands, 1)
}
