package telemetry

import (
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestDecodeSparseFeed(t *testing.T) {
	// Only door lock and battery SOC present.
	items := []Item{
		{Code: 2208001, Value: "0"},
		{Code: 2013021, Value: "72"},
	}
	status := Decode(items, DefaultRegistry(), testTime)

	if !status.DoorLocked {
		t.Error("door should decode locked from value 0")
	}
	if !status.TrunkClosed {
		t.Error("absent trunk state should default to closed")
	}
	if status.BatteryLevel != 72 {
		t.Errorf("battery = %d, want 72", status.BatteryLevel)
	}
	if status.Charging || status.ACOn {
		t.Error("absent charging/AC state should default to off")
	}
	if status.LastUpdated != testTime {
		t.Errorf("LastUpdated = %s", status.LastUpdated)
	}
}

func TestDecodeIsTotal(t *testing.T) {
	// Empty feed: every field must still hold its documented default.
	status := Decode(nil, DefaultRegistry(), testTime)
	defaults := Defaults()
	defaults.LastUpdated = testTime
	if status != defaults {
		t.Errorf("empty feed decoded to %+v, want defaults", status)
	}
	if !status.WindowFrontLeftClosed || !status.SunroofClosed {
		t.Error("closures should default to closed")
	}
	if status.HasLocation {
		t.Error("location should default to absent")
	}
}

func TestDecodeFullFeed(t *testing.T) {
	items := []Item{
		{Code: 2208001, Value: "1"}, // unlocked
		{Code: 2206001, Value: "1"}, // trunk open
		{Code: 2013021, Value: "85"},
		{Code: 2013022, Value: "98"},
		{Code: 2013009, Value: "1"},
		{Code: 2013010, Value: "1"},
		{Code: 2122001, Value: "1"},
		{Code: 2013003, Value: "310"},
		{Code: 2102001, Value: "420"},
		{Code: 2103010, Value: "15233.4"},
		{Code: 2210001, Value: "1"}, // front-left window open
		{Code: 2210010, Value: "0"},
		{Code: 2101001, Value: "235.5"},
		{Code: 2101008, Value: "31.2"},
	}
	status := Decode(items, DefaultRegistry(), testTime)

	if status.DoorLocked || status.TrunkClosed {
		t.Error("value 1 should decode to unlocked/open")
	}
	if status.BatteryLevel != 85 || status.AuxiliaryBattery != 98 {
		t.Errorf("batteries = %d/%d", status.BatteryLevel, status.AuxiliaryBattery)
	}
	if !status.Charging || !status.ChargerConnected || !status.ACOn {
		t.Error("charging, charger and AC should all decode on")
	}
	if status.EVRange != 310 || status.GasRange != 420 {
		t.Errorf("ranges = %d/%d", status.EVRange, status.GasRange)
	}
	if status.Odometer != 15233.4 {
		t.Errorf("odometer = %f", status.Odometer)
	}
	if status.WindowFrontLeftClosed {
		t.Error("front-left window should decode open")
	}
	if !status.WindowFrontRightClosed {
		t.Error("absent window should stay closed")
	}
	if !status.SunroofClosed {
		t.Error("sunroof value 0 should decode closed")
	}
	if status.TirePressure.FrontLeft != 235.5 {
		t.Errorf("tire pressure FL = %f", status.TirePressure.FrontLeft)
	}
	if status.TireTemperature.RearRight != 31.2 {
		t.Errorf("tire temp RR = %f", status.TireTemperature.RearRight)
	}
}

func TestDecodeMalformedValues(t *testing.T) {
	items := []Item{
		{Code: 2013021, Value: "not-a-number"},
		{Code: 2103010, Value: ""},
		{Code: 2208001, Value: "banana"}, // neither "0" nor "1", reads as unlocked
		{Code: 9999999, Value: "1"},      // unknown code, skipped
	}
	status := Decode(items, DefaultRegistry(), testTime)
	if status.BatteryLevel != 0 {
		t.Errorf("malformed int should keep default, got %d", status.BatteryLevel)
	}
	if status.Odometer != 0 {
		t.Errorf("malformed float should keep default, got %f", status.Odometer)
	}
	if status.DoorLocked {
		t.Error("unexpected lock value should decode as not locked")
	}
}

func TestRegistryIsSwappable(t *testing.T) {
	// A later vendor revision moved the charging-status code; decode logic must follow the
	// table, not the constant.
	revised := DefaultRegistry()
	delete(revised, 2013009)
	revised[2013023] = Entry{FieldCharging, RuleFlagOn}

	items := []Item{{Code: 2013023, Value: "1"}}
	if !Decode(items, revised, testTime).Charging {
		t.Error("revised registry should decode charging from the new code")
	}
	if Decode(items, DefaultRegistry(), testTime).Charging {
		t.Error("default registry should not recognize the revised code")
	}
}
