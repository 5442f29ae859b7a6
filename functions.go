package knxtunnel

// FunctionDef associates a human-friendly datapoint function name (as used
// in commissioning tools and config files) with the DPT it is normally
// carried on. It is a convenience lookup only: NewDatapoint never consults
// it, callers do.
type FunctionDef struct {
	Name    string
	DPT     DPT
	Aliases []string
}

// CanonicalFunctions is the catalogue of recognised datapoint functions,
// restricted to the DPT majors this package implements.
var CanonicalFunctions = []FunctionDef{
	// Lighting
	{Name: "switch", DPT: DPT1Switch, Aliases: []string{"on_off", "switching"}},
	{Name: "switch_status", DPT: DPT1Switch, Aliases: []string{"switch_feedback"}},
	{Name: "brightness", DPT: DPT5Percentage, Aliases: []string{"dim", "dimming", "level"}},
	{Name: "brightness_status", DPT: DPT5Percentage, Aliases: []string{"dim_status", "dim_feedback"}},
	{Name: "rgb", DPT: DPT232ColourRGB, Aliases: []string{"colour"}},
	{Name: "rgb_status", DPT: DPT232ColourRGB},
	{Name: "dimming_control", DPT: DPT3DimmingControl, Aliases: []string{"relative_dimming"}},

	// Blinds / shutters
	{Name: "position", DPT: DPT5Percentage, Aliases: []string{"blind_position", "height"}},
	{Name: "position_status", DPT: DPT5Percentage, Aliases: []string{"position_feedback"}},
	{Name: "slat", DPT: DPT5Percentage, Aliases: []string{"tilt", "angle"}},
	{Name: "move", DPT: DPT1UpDown, Aliases: []string{"up_down"}},
	{Name: "stop", DPT: DPT1Step, Aliases: []string{"step", "step_stop"}},
	{Name: "blind_control", DPT: DPT3BlindControl, Aliases: []string{"relative_position"}},

	// Climate
	{Name: "temperature", DPT: DPT9Temperature, Aliases: []string{"actual_temperature", "current_temperature", "temp"}},
	{Name: "setpoint", DPT: DPT9Temperature, Aliases: []string{"target_temperature", "set_temp"}},
	{Name: "heating", DPT: DPT1Switch, Aliases: []string{"heat_demand"}},
	{Name: "cooling", DPT: DPT1Switch, Aliases: []string{"cool_demand"}},
	{Name: "hvac_mode", DPT: DPT20HVACMode, Aliases: []string{"mode"}},
	{Name: "valve", DPT: DPT5Percentage, Aliases: []string{"valve_cmd", "valve_position"}},
	{Name: "humidity", DPT: DPT9HumidityRel, Aliases: []string{"rh", "relative_humidity"}},

	// Sensors
	{Name: "lux", DPT: DPT9Lux, Aliases: []string{"light_level", "illuminance"}},
	{Name: "wind_speed", DPT: DPT9Speed, Aliases: []string{"wind"}},
	{Name: "rain", DPT: DPT1Alarm, Aliases: []string{"rain_alarm"}},

	// Energy / metering
	{Name: "power", DPT: DPT14Power, Aliases: []string{"active_power"}},
	{Name: "current", DPT: DPT14Current, Aliases: []string{"electric_current"}},

	// Scenes / controls
	{Name: "scene_control", DPT: DPT18SceneControl},

	// Boolean control
	{Name: "enable", DPT: DPT1Enable},
	{Name: "alarm", DPT: DPT1Alarm, Aliases: []string{"fault"}},
	{Name: "open_close", DPT: DPT1OpenClose, Aliases: []string{"contact"}},
	{Name: "start_stop", DPT: DPT1StartStop},
	{Name: "trigger", DPT: DPT1Trigger},

	// Generic
	{Name: "percentage", DPT: DPT5RawU8},
	{Name: "time_of_day", DPT: DPT10TimeOfDay},
	{Name: "date", DPT: DPT11Date},
	{Name: "date_time", DPT: DPT19DateTime},
	{Name: "access_code", DPT: DPT15Access},
	{Name: "text", DPT: DPT16Latin1},
}

var (
	functionByName  map[string]*FunctionDef
	functionByAlias map[string]*FunctionDef
)

func init() {
	functionByName = make(map[string]*FunctionDef, len(CanonicalFunctions))
	functionByAlias = make(map[string]*FunctionDef, len(CanonicalFunctions)*2)
	for i := range CanonicalFunctions {
		fn := &CanonicalFunctions[i]
		functionByName[fn.Name] = fn
		for _, alias := range fn.Aliases {
			functionByAlias[alias] = fn
		}
	}
}

// LookupFunction returns the function definition for a canonical name or
// alias, or nil if unrecognised.
func LookupFunction(name string) *FunctionDef {
	if fn, ok := functionByName[name]; ok {
		return fn
	}
	if fn, ok := functionByAlias[name]; ok {
		return fn
	}
	return nil
}

// NormalizeFunction resolves a name to its canonical form.
func NormalizeFunction(name string) (canonical string, known bool) {
	if _, ok := functionByName[name]; ok {
		return name, true
	}
	if fn, ok := functionByAlias[name]; ok {
		return fn.Name, true
	}
	return name, false
}

// DefaultDPTForFunction returns the default DPT for a canonical or alias
// function name, or "" if unrecognised.
func DefaultDPTForFunction(name string) DPT {
	if fn := LookupFunction(name); fn != nil {
		return fn.DPT
	}
	return ""
}
