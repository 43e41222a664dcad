package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gwm-community/vehicle-cloud/pkg/telemetry"
	"github.com/gwm-community/vehicle-cloud/pkg/vehicle"
)

type fakeController struct {
	lock sync.Mutex

	status    *telemetry.Status
	statusErr error

	doorActions    []vehicle.Action
	trunkActions   []vehicle.Action
	climateActions []vehicle.Action
	climateTemp    int
	climateMinutes int
}

func (f *fakeController) VIN() string { return "LGWEF6A59MH000001" }

func (f *fakeController) GetStatus(_ context.Context) (*telemetry.Status, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.status, f.statusErr
}

func (f *fakeController) CachedStatus() *telemetry.Status {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.status
}

func (f *fakeController) ControlDoors(_ context.Context, action vehicle.Action) vehicle.CommandResult {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.doorActions = append(f.doorActions, action)
	return vehicle.CommandResult{Result: true}
}

func (f *fakeController) ControlTrunk(_ context.Context, action vehicle.Action) vehicle.CommandResult {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.trunkActions = append(f.trunkActions, action)
	return vehicle.CommandResult{Result: true}
}

func (f *fakeController) ControlAC(_ context.Context, action vehicle.Action, temperature, duration int) vehicle.CommandResult {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.climateActions = append(f.climateActions, action)
	f.climateTemp = temperature
	f.climateMinutes = duration
	return vehicle.CommandResult{Result: true}
}

type fakePublisher struct {
	published chan *telemetry.Status
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(chan *telemetry.Status, 16)}
}

func (f *fakePublisher) Start(_ context.Context) error { return nil }
func (f *fakePublisher) Stop(_ context.Context) error  { return nil }
func (f *fakePublisher) PublishStatus(status *telemetry.Status) {
	f.published <- status
}

func TestConfigDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.MQTT.TopicPrefix != "gwm" || cfg.MQTT.ClimateTemperature != 22 {
		t.Errorf("unexpected MQTT defaults: %+v", cfg.MQTT)
	}
	if cfg.Poll.Interval() != 60*time.Second {
		t.Errorf("default poll interval = %s", cfg.Poll.Interval())
	}
}

func TestPollIntervalFloor(t *testing.T) {
	cfg := PollConfig{IntervalSeconds: 5}
	if cfg.Interval() != MinPollInterval {
		t.Errorf("interval below the floor should be raised, got %s", cfg.Interval())
	}
	cfg.IntervalSeconds = 120
	if cfg.Interval() != 2*time.Minute {
		t.Errorf("interval above the floor should pass through, got %s", cfg.Interval())
	}
}

func TestConfigLoadAndEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
vehicle:
  username: driver@example.com
  vin: LGWEF6A59MH000001
mqtt:
  enabled: true
  broker: tcp://broker.local:1883
poll:
  interval_seconds: 45
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GWM_VIN", "LGWEF6A59MH000002")
	t.Setenv("GWM_POLL_INTERVAL", "90")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vehicle.Username != "driver@example.com" {
		t.Errorf("yaml value not loaded: %q", cfg.Vehicle.Username)
	}
	if cfg.Vehicle.VIN != "LGWEF6A59MH000002" {
		t.Errorf("environment should override yaml: %q", cfg.Vehicle.VIN)
	}
	if cfg.Poll.IntervalSeconds != 90 {
		t.Errorf("poll interval not overlaid: %d", cfg.Poll.IntervalSeconds)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://broker.local:1883" {
		t.Errorf("mqtt config not loaded: %+v", cfg.MQTT)
	}
}

func TestConfigClampsClimateTemperature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("mqtt:\n  climate_temperature: 40\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MQTT.ClimateTemperature != 30 {
		t.Errorf("climate temperature should be clamped to 30, got %d", cfg.MQTT.ClimateTemperature)
	}
}

func TestConfigLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %s", err)
	}
	if cfg.MQTT.TopicPrefix != "gwm" {
		t.Errorf("defaults not applied: %+v", cfg.MQTT)
	}
}

func TestPollerPublishesSnapshots(t *testing.T) {
	status := telemetry.Defaults()
	status.BatteryLevel = 80
	car := &fakeController{status: &status}
	pub := newFakePublisher()
	poller := NewPoller(car, pub, time.Second)
	if poller.interval != MinPollInterval {
		t.Errorf("poller interval should be floored, got %s", poller.interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	select {
	case snapshot := <-pub.published:
		if snapshot.BatteryLevel != 80 {
			t.Errorf("unexpected snapshot: %+v", snapshot)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller never published")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}

func TestPollerPublishesCachedOnFailure(t *testing.T) {
	status := telemetry.Defaults()
	car := &fakeController{status: &status, statusErr: errors.New("cloud down")}
	pub := newFakePublisher()
	poller := NewPoller(car, pub, time.Minute)

	poller.poll(context.Background())
	select {
	case snapshot := <-pub.published:
		if snapshot == nil {
			t.Error("expected the cached snapshot")
		}
	default:
		t.Error("degraded poll should still publish last-known state")
	}
}

func TestPollerSkipsPublishWithoutSnapshot(t *testing.T) {
	car := &fakeController{statusErr: errors.New("cloud down")}
	pub := newFakePublisher()
	poller := NewPoller(car, pub, time.Minute)

	poller.poll(context.Background())
	select {
	case <-pub.published:
		t.Error("nothing to publish on first-poll failure")
	default:
	}
}

func TestCommandHandlers(t *testing.T) {
	car := &fakeController{}
	pub := NewHAPublisher(MQTTConfig{TopicPrefix: "gwm", ClimateTemperature: 24, ClimateMinutes: 10}, car)

	pub.handleDoors("LOCK")
	pub.handleDoors("unlock")
	if len(car.doorActions) != 2 || car.doorActions[0] != vehicle.ActionClose || car.doorActions[1] != vehicle.ActionOpen {
		t.Errorf("door actions = %v", car.doorActions)
	}

	pub.handleTrunk("ON")
	pub.handleTrunk("OFF")
	if len(car.trunkActions) != 2 || car.trunkActions[0] != vehicle.ActionOpen || car.trunkActions[1] != vehicle.ActionClose {
		t.Errorf("trunk actions = %v", car.trunkActions)
	}

	pub.handleClimate("ON")
	if len(car.climateActions) != 1 || car.climateActions[0] != vehicle.ActionOn {
		t.Errorf("climate actions = %v", car.climateActions)
	}
	if car.climateTemp != 24 || car.climateMinutes != 10 {
		t.Errorf("climate defaults not applied: %d°C %dmin", car.climateTemp, car.climateMinutes)
	}
}

func TestDiscoveryConfigs(t *testing.T) {
	car := &fakeController{}
	pub := NewHAPublisher(MQTTConfig{TopicPrefix: "gwm", DeviceName: "Ora 03"}, car)

	configs := pub.discoveryConfigs()
	lock, ok := configs["lock/doors"]
	if !ok {
		t.Fatal("missing lock entity")
	}
	if lock["command_topic"] != "gwm/LGWEF6A59MH000001/doors/set" {
		t.Errorf("unexpected command topic: %v", lock["command_topic"])
	}
	if lock["unique_id"] != "LGWEF6A59MH000001_doors" {
		t.Errorf("unexpected unique_id: %v", lock["unique_id"])
	}

	for key, payload := range configs {
		if payload["availability"] == nil {
			t.Errorf("entity %s has no availability topic", key)
		}
		if payload["device"] == nil {
			t.Errorf("entity %s has no device block", key)
		}
	}

	if _, ok := configs["binary_sensor/sunroof"]; !ok {
		t.Error("missing sunroof entity")
	}
	if _, ok := configs["sensor/tire_fl_pressure"]; !ok {
		t.Error("missing tire pressure entity")
	}
}

func TestStatusPayloadShape(t *testing.T) {
	status := telemetry.Defaults()
	status.BatteryLevel = 55
	status.TirePressure.FrontLeft = 240.5

	payload := statusPayload(&status)
	if payload["batteryLevel"] != 55 {
		t.Errorf("batteryLevel = %v", payload["batteryLevel"])
	}
	if payload["doorLocked"] != true || payload["trunkClosed"] != true {
		t.Errorf("closure defaults not reflected: %v", payload)
	}
	tires, ok := payload["tirePressure"].(map[string]float64)
	if !ok || tires["frontLeft"] != 240.5 {
		t.Errorf("tirePressure = %v", payload["tirePressure"])
	}
}

func TestDiscoveryTopic(t *testing.T) {
	got := discoveryTopic("sensor", "VIN123", "battery")
	if got != "homeassistant/sensor/VIN123_battery/config" {
		t.Errorf("discoveryTopic = %q", got)
	}
}
