// Package telemetry decodes the vendor's flat telemetry item list into a typed vehicle-status
// snapshot.
//
// The vendor status feed is a list of (numeric code, string value) pairs. Which code maps to
// which field, and how its value decodes, is captured in a Registry. Code assignments have been
// observed to change between vendor API revisions (the charging-status and A/C-status codes in
// particular), so the Registry is versioned configuration rather than a stable contract:
// callers can substitute their own table without touching decode logic.
package telemetry

import (
	"strconv"
	"time"
)

// Item is one telemetry record from the vehicle status feed.
type Item struct {
	Code  int    `json:"code"`
	Value string `json:"value"`
}

// TireValues holds one reading per wheel.
type TireValues struct {
	FrontLeft  float64
	FrontRight float64
	RearLeft   float64
	RearRight  float64
}

// Status is a decoded vehicle-status snapshot. Fields absent from the raw feed keep their safe
// defaults (locked and closed are true, numerics zero); callers never observe an "unknown"
// state distinct from the default.
type Status struct {
	DoorLocked  bool
	TrunkClosed bool

	BatteryLevel     int // traction battery, percent
	AuxiliaryBattery int // 12V battery, percent
	Charging         bool
	ChargerConnected bool

	ACOn bool

	EVRange  int     // km
	GasRange int     // km
	Odometer float64 // km

	WindowFrontLeftClosed  bool
	WindowFrontRightClosed bool
	WindowRearLeftClosed   bool
	WindowRearRightClosed  bool
	SunroofClosed          bool

	TirePressure    TireValues // kPa
	TireTemperature TireValues // degrees Celsius

	// Latitude and Longitude are only meaningful when HasLocation is set; the status feed
	// omits coordinates for vehicles without a location fix.
	Latitude    float64
	Longitude   float64
	HasLocation bool

	LastUpdated time.Time
}

// Defaults returns the snapshot used as the decode starting point. Booleans that represent
// secured state (locks, closures) default to true so a sparse feed reads as "secure" rather
// than "open".
func Defaults() Status {
	return Status{
		DoorLocked:             true,
		TrunkClosed:            true,
		WindowFrontLeftClosed:  true,
		WindowFrontRightClosed: true,
		WindowRearLeftClosed:   true,
		WindowRearRightClosed:  true,
		SunroofClosed:          true,
	}
}

// Rule selects how a telemetry item's string value decodes.
type Rule int

const (
	// RuleFlagOn decodes to true when the value is "1".
	RuleFlagOn Rule = iota
	// RuleFlagOff decodes to true when the value is "0". Used for lock and closure states,
	// where the vendor reports 0 for the secured position.
	RuleFlagOff
	// RuleInt parses the value as a base-10 integer.
	RuleInt
	// RuleFloat parses the value as a decimal number.
	RuleFloat
)

// Field names a Status field a registry entry assigns to.
type Field int

const (
	FieldDoorLocked Field = iota
	FieldTrunkClosed
	FieldBatteryLevel
	FieldAuxiliaryBattery
	FieldCharging
	FieldChargerConnected
	FieldACOn
	FieldEVRange
	FieldGasRange
	FieldOdometer
	FieldWindowFrontLeftClosed
	FieldWindowFrontRightClosed
	FieldWindowRearLeftClosed
	FieldWindowRearRightClosed
	FieldSunroofClosed
	FieldTirePressureFrontLeft
	FieldTirePressureFrontRight
	FieldTirePressureRearLeft
	FieldTirePressureRearRight
	FieldTireTemperatureFrontLeft
	FieldTireTemperatureFrontRight
	FieldTireTemperatureRearLeft
	FieldTireTemperatureRearRight
)

// Entry pairs a target field with its decode rule.
type Entry struct {
	Field Field
	Rule  Rule
}

// Registry maps vendor telemetry codes to decode entries.
type Registry map[int]Entry

// DefaultRegistry returns the code table for the currently observed vendor API revision.
// Confirm the charging-status and A/C-status codes against the live API before relying on
// them; both have changed across revisions.
func DefaultRegistry() Registry {
	return Registry{
		2208001: {FieldDoorLocked, RuleFlagOff},
		2206001: {FieldTrunkClosed, RuleFlagOff},
		2013021: {FieldBatteryLevel, RuleInt},
		2013022: {FieldAuxiliaryBattery, RuleInt},
		2013009: {FieldCharging, RuleFlagOn},
		2013010: {FieldChargerConnected, RuleFlagOn},
		2122001: {FieldACOn, RuleFlagOn},
		2013003: {FieldEVRange, RuleInt},
		2102001: {FieldGasRange, RuleInt},
		2103010: {FieldOdometer, RuleFloat},
		2210001: {FieldWindowFrontLeftClosed, RuleFlagOff},
		2210002: {FieldWindowFrontRightClosed, RuleFlagOff},
		2210003: {FieldWindowRearLeftClosed, RuleFlagOff},
		2210004: {FieldWindowRearRightClosed, RuleFlagOff},
		2210010: {FieldSunroofClosed, RuleFlagOff},
		2101001: {FieldTirePressureFrontLeft, RuleFloat},
		2101002: {FieldTirePressureFrontRight, RuleFloat},
		2101003: {FieldTirePressureRearLeft, RuleFloat},
		2101004: {FieldTirePressureRearRight, RuleFloat},
		2101005: {FieldTireTemperatureFrontLeft, RuleFloat},
		2101006: {FieldTireTemperatureFrontRight, RuleFloat},
		2101007: {FieldTireTemperatureRearLeft, RuleFloat},
		2101008: {FieldTireTemperatureRearRight, RuleFloat},
	}
}

// Decode applies reg to items in one pass and returns a complete snapshot. Decoding is total:
// unrecognized codes are skipped, malformed values leave the field at its default, and absent
// codes never produce an "unknown" state.
func Decode(items []Item, reg Registry, now time.Time) Status {
	status := Defaults()
	status.LastUpdated = now
	for _, item := range items {
		entry, ok := reg[item.Code]
		if !ok {
			continue
		}
		switch entry.Rule {
		case RuleFlagOn:
			setBool(&status, entry.Field, item.Value == "1")
		case RuleFlagOff:
			setBool(&status, entry.Field, item.Value == "0")
		case RuleInt:
			if v, err := strconv.Atoi(item.Value); err == nil {
				setInt(&status, entry.Field, v)
			}
		case RuleFloat:
			if v, err := strconv.ParseFloat(item.Value, 64); err == nil {
				setFloat(&status, entry.Field, v)
			}
		}
	}
	return status
}

func setBool(s *Status, f Field, v bool) {
	switch f {
	case FieldDoorLocked:
		s.DoorLocked = v
	case FieldTrunkClosed:
		s.TrunkClosed = v
	case FieldCharging:
		s.Charging = v
	case FieldChargerConnected:
		s.ChargerConnected = v
	case FieldACOn:
		s.ACOn = v
	case FieldWindowFrontLeftClosed:
		s.WindowFrontLeftClosed = v
	case FieldWindowFrontRightClosed:
		s.WindowFrontRightClosed = v
	case FieldWindowRearLeftClosed:
		s.WindowRearLeftClosed = v
	case FieldWindowRearRightClosed:
		s.WindowRearRightClosed = v
	case FieldSunroofClosed:
		s.SunroofClosed = v
	}
}

func setInt(s *Status, f Field, v int) {
	switch f {
	case FieldBatteryLevel:
		s.BatteryLevel = v
	case FieldAuxiliaryBattery:
		s.AuxiliaryBattery = v
	case FieldEVRange:
		s.EVRange = v
	case FieldGasRange:
		s.GasRange = v
	}
}

func setFloat(s *Status, f Field, v float64) {
	switch f {
	case FieldOdometer:
		s.Odometer = v
	case FieldTirePressureFrontLeft:
		s.TirePressure.FrontLeft = v
	case FieldTirePressureFrontRight:
		s.TirePressure.FrontRight = v
	case FieldTirePressureRearLeft:
		s.TirePressure.RearLeft = v
	case FieldTirePressureRearRight:
		s.TirePressure.RearRight = v
	case FieldTireTemperatureFrontLeft:
		s.TireTemperature.FrontLeft = v
	case FieldTireTemperatureFrontRight:
		s.TireTemperature.FrontRight = v
	case FieldTireTemperatureRearLeft:
		s.TireTemperature.RearLeft = v
	case FieldTireTemperatureRearRight:
		s.TireTemperature.RearRight = v
	}
}
