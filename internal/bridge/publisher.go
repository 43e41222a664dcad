// Package bridge exposes a vehicle to Home Assistant over MQTT. It publishes auto-discovery
// configs and retained state topics, subscribes to command topics, and polls the vendor
// cloud for status updates.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gwm-community/vehicle-cloud/internal/log"
	"github.com/gwm-community/vehicle-cloud/pkg/telemetry"
	"github.com/gwm-community/vehicle-cloud/pkg/vehicle"
)

// commandTimeout bounds a single cloud request triggered from a command topic.
const commandTimeout = 30 * time.Second

// Controller is the subset of the vehicle client the bridge needs.
type Controller interface {
	VIN() string
	GetStatus(ctx context.Context) (*telemetry.Status, error)
	CachedStatus() *telemetry.Status
	ControlDoors(ctx context.Context, action vehicle.Action) vehicle.CommandResult
	ControlTrunk(ctx context.Context, action vehicle.Action) vehicle.CommandResult
	ControlAC(ctx context.Context, action vehicle.Action, temperature, duration int) vehicle.CommandResult
}

// Publisher sends vehicle state to an MQTT broker and relays commands back.
type Publisher interface {
	// Start connects to the broker and publishes discovery configs.
	Start(ctx context.Context) error
	// Stop shuts down the publisher.
	Stop(ctx context.Context) error
	// PublishStatus pushes a status snapshot to the state topics.
	PublishStatus(status *telemetry.Status)
}

// StubPublisher is a no-op publisher for when MQTT is not configured.
type StubPublisher struct{}

func (s *StubPublisher) Start(_ context.Context) error {
	log.Info("bridge: MQTT publisher disabled (stub)")
	return nil
}

func (s *StubPublisher) Stop(_ context.Context) error { return nil }

func (s *StubPublisher) PublishStatus(_ *telemetry.Status) {}

var _ Publisher = (*StubPublisher)(nil)

var _ Publisher = (*HAPublisher)(nil)

// HAPublisher publishes Home Assistant auto-discovery configs, subscribes to command topics
// and relays commands to the vehicle, and forwards polled status snapshots.
type HAPublisher struct {
	cfg MQTTConfig
	car Controller

	client pahomqtt.Client
	lock   sync.Mutex
	last   *telemetry.Status
}

// NewHAPublisher creates a Home Assistant MQTT publisher for one vehicle.
func NewHAPublisher(cfg MQTTConfig, car Controller) *HAPublisher {
	return &HAPublisher{cfg: cfg, car: car}
}

// Start connects to the MQTT broker. Discovery configs, command subscriptions and the
// availability topic are (re)published on every connect.
func (p *HAPublisher) Start(_ context.Context) error {
	availTopic := p.topic("status")

	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(fmt.Sprintf("gwm-%s", p.car.VIN())).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availTopic, "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			log.Info("bridge: MQTT connected, publishing discovery and state")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warning("bridge: MQTT connection lost: %s", err)
		})

	p.client = pahomqtt.NewClient(opts)

	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	log.Info("bridge: MQTT publisher started, broker=%s", p.cfg.Broker)
	return nil
}

// Stop publishes offline availability and disconnects from the broker.
func (p *HAPublisher) Stop(_ context.Context) error {
	if p.client != nil && p.client.IsConnected() {
		p.publish(p.topic("status"), "offline", true)
		p.client.Disconnect(1000)
	}
	log.Info("bridge: MQTT publisher stopped")
	return nil
}

func (p *HAPublisher) onConnect() {
	p.publish(p.topic("status"), "online", true)
	p.publishDiscovery()
	p.subscribeCommands()

	// Re-publish on HA restart so entities survive a broker-side wipe.
	p.client.Subscribe("homeassistant/status", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if string(msg.Payload()) == "online" {
			log.Info("bridge: Home Assistant came online, re-publishing discovery")
			p.publishDiscovery()
			if status := p.car.CachedStatus(); status != nil {
				p.PublishStatus(status)
			}
		}
	})

	p.lock.Lock()
	last := p.last
	p.lock.Unlock()
	if last != nil {
		p.PublishStatus(last)
	}
}

// deviceInfo returns the shared HA device block.
func (p *HAPublisher) deviceInfo() map[string]interface{} {
	return map[string]interface{}{
		"identifiers":  []string{p.car.VIN()},
		"name":         p.cfg.DeviceName,
		"manufacturer": "Great Wall Motors",
	}
}

// discoveryTopic builds the HA auto-discovery topic.
func discoveryTopic(component, vin, objectID string) string {
	return fmt.Sprintf("homeassistant/%s/%s_%s/config", component, vin, objectID)
}

// discoveryConfigs returns every entity config keyed by "component/objectID".
func (p *HAPublisher) discoveryConfigs() map[string]map[string]interface{} {
	dev := p.deviceInfo()
	avail := map[string]interface{}{
		"topic": p.topic("status"),
	}
	vin := p.car.VIN()
	stateTopic := p.topic("state")

	entity := func(name string, extra map[string]interface{}) map[string]interface{} {
		payload := map[string]interface{}{
			"name":         fmt.Sprintf("%s %s", p.cfg.DeviceName, name),
			"unique_id":    fmt.Sprintf("%s_%s", vin, strings.ReplaceAll(strings.ToLower(name), " ", "_")),
			"device":       dev,
			"availability": avail,
		}
		for k, v := range extra {
			payload[k] = v
		}
		return payload
	}

	configs := map[string]map[string]interface{}{
		"lock/doors": entity("Doors", map[string]interface{}{
			"state_topic":    stateTopic,
			"command_topic":  p.topic("doors/set"),
			"value_template": "{{ 'LOCKED' if value_json.doorLocked else 'UNLOCKED' }}",
			"payload_lock":   "LOCK",
			"payload_unlock": "UNLOCK",
			"state_locked":   "LOCKED",
			"state_unlocked": "UNLOCKED",
		}),
		"switch/trunk": entity("Trunk", map[string]interface{}{
			"state_topic":    stateTopic,
			"command_topic":  p.topic("trunk/set"),
			"value_template": "{{ 'OFF' if value_json.trunkClosed else 'ON' }}",
			"icon":           "mdi:car-back",
		}),
		"switch/climate": entity("Climate", map[string]interface{}{
			"state_topic":    stateTopic,
			"command_topic":  p.topic("climate/set"),
			"value_template": "{{ 'ON' if value_json.acOn else 'OFF' }}",
			"icon":           "mdi:air-conditioner",
		}),
		"sensor/battery": entity("Battery", map[string]interface{}{
			"state_topic":         stateTopic,
			"value_template":      "{{ value_json.batteryLevel }}",
			"unit_of_measurement": "%",
			"device_class":        "battery",
			"state_class":         "measurement",
		}),
		"sensor/ev_range": entity("EV Range", map[string]interface{}{
			"state_topic":         stateTopic,
			"value_template":      "{{ value_json.evRange }}",
			"unit_of_measurement": "km",
			"device_class":        "distance",
			"state_class":         "measurement",
		}),
		"sensor/gas_range": entity("Gas Range", map[string]interface{}{
			"state_topic":         stateTopic,
			"value_template":      "{{ value_json.gasRange }}",
			"unit_of_measurement": "km",
			"device_class":        "distance",
			"state_class":         "measurement",
		}),
		"sensor/odometer": entity("Odometer", map[string]interface{}{
			"state_topic":         stateTopic,
			"value_template":      "{{ value_json.odometer }}",
			"unit_of_measurement": "km",
			"device_class":        "distance",
			"state_class":         "total_increasing",
		}),
		"binary_sensor/charging": entity("Charging", map[string]interface{}{
			"state_topic":    stateTopic,
			"value_template": "{{ 'ON' if value_json.charging else 'OFF' }}",
			"device_class":   "battery_charging",
		}),
		"binary_sensor/charger": entity("Charger", map[string]interface{}{
			"state_topic":    stateTopic,
			"value_template": "{{ 'ON' if value_json.chargerConnected else 'OFF' }}",
			"device_class":   "plug",
		}),
		"device_tracker/location": entity("Location", map[string]interface{}{
			"json_attributes_topic": p.topic("location"),
			"source_type":           "gps",
		}),
	}

	windows := []struct{ objectID, name, field string }{
		{"window_fl", "Window Front Left", "windowFrontLeftClosed"},
		{"window_fr", "Window Front Right", "windowFrontRightClosed"},
		{"window_rl", "Window Rear Left", "windowRearLeftClosed"},
		{"window_rr", "Window Rear Right", "windowRearRightClosed"},
		{"sunroof", "Sunroof", "sunroofClosed"},
	}
	for _, w := range windows {
		configs["binary_sensor/"+w.objectID] = entity(w.name, map[string]interface{}{
			"state_topic":    stateTopic,
			"value_template": fmt.Sprintf("{{ 'OFF' if value_json.%s else 'ON' }}", w.field),
			"device_class":   "window",
		})
	}

	tires := []struct{ objectID, name, field string }{
		{"tire_fl", "Tire Front Left", "frontLeft"},
		{"tire_fr", "Tire Front Right", "frontRight"},
		{"tire_rl", "Tire Rear Left", "rearLeft"},
		{"tire_rr", "Tire Rear Right", "rearRight"},
	}
	for _, tire := range tires {
		configs["sensor/"+tire.objectID+"_pressure"] = entity(tire.name+" Pressure", map[string]interface{}{
			"state_topic":         stateTopic,
			"value_template":      fmt.Sprintf("{{ value_json.tirePressure.%s }}", tire.field),
			"unit_of_measurement": "kPa",
			"device_class":        "pressure",
			"state_class":         "measurement",
		})
	}

	return configs
}

func (p *HAPublisher) publishDiscovery() {
	for key, payload := range p.discoveryConfigs() {
		component, objectID, _ := strings.Cut(key, "/")
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error("bridge: failed to marshal discovery config for %s: %s", key, err)
			continue
		}
		p.publish(discoveryTopic(component, p.car.VIN(), objectID), string(data), true)
	}
}

func (p *HAPublisher) subscribeCommands() {
	cmds := map[string]pahomqtt.MessageHandler{
		p.topic("doors/set"):   p.handleDoorsCmd,
		p.topic("trunk/set"):   p.handleTrunkCmd,
		p.topic("climate/set"): p.handleClimateCmd,
	}

	for t, h := range cmds {
		token := p.client.Subscribe(t, 1, h)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Error("bridge: failed to subscribe to command topic %s: %s", t, err)
		}
	}
}

func (p *HAPublisher) handleDoorsCmd(_ pahomqtt.Client, msg pahomqtt.Message) {
	p.handleDoors(string(msg.Payload()))
}

func (p *HAPublisher) handleDoors(payload string) {
	action := vehicle.ActionClose
	if strings.EqualFold(strings.TrimSpace(payload), "UNLOCK") {
		action = vehicle.ActionOpen
	}
	log.Info("bridge: MQTT command: doors %s", action)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if result := p.car.ControlDoors(ctx, action); !result.Result {
		log.Error("bridge: door command failed: %s", result.Message)
	}
}

func (p *HAPublisher) handleTrunkCmd(_ pahomqtt.Client, msg pahomqtt.Message) {
	p.handleTrunk(string(msg.Payload()))
}

func (p *HAPublisher) handleTrunk(payload string) {
	action := vehicle.ActionClose
	if strings.EqualFold(strings.TrimSpace(payload), "ON") {
		action = vehicle.ActionOpen
	}
	log.Info("bridge: MQTT command: trunk %s", action)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if result := p.car.ControlTrunk(ctx, action); !result.Result {
		log.Error("bridge: trunk command failed: %s", result.Message)
	}
}

func (p *HAPublisher) handleClimateCmd(_ pahomqtt.Client, msg pahomqtt.Message) {
	p.handleClimate(string(msg.Payload()))
}

func (p *HAPublisher) handleClimate(payload string) {
	action := vehicle.ActionOff
	if strings.EqualFold(strings.TrimSpace(payload), "ON") {
		action = vehicle.ActionOn
	}
	log.Info("bridge: MQTT command: climate %s (%d°C, %dmin)", action, p.cfg.ClimateTemperature, p.cfg.ClimateMinutes)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if result := p.car.ControlAC(ctx, action, p.cfg.ClimateTemperature, p.cfg.ClimateMinutes); !result.Result {
		log.Error("bridge: climate command failed: %s", result.Message)
	}
}

// PublishStatus pushes a snapshot to the retained state topic. The snapshot is remembered so
// it can be replayed after a reconnect.
func (p *HAPublisher) PublishStatus(status *telemetry.Status) {
	if status == nil {
		return
	}
	p.lock.Lock()
	p.last = status
	p.lock.Unlock()

	data, err := json.Marshal(statusPayload(status))
	if err != nil {
		log.Error("bridge: failed to marshal status: %s", err)
		return
	}
	p.publish(p.topic("state"), string(data), true)

	if status.HasLocation {
		location, err := json.Marshal(map[string]interface{}{
			"latitude":  status.Latitude,
			"longitude": status.Longitude,
		})
		if err == nil {
			p.publish(p.topic("location"), string(location), true)
		}
	}
}

// statusPayload flattens a snapshot into the JSON shape the discovery templates expect.
func statusPayload(status *telemetry.Status) map[string]interface{} {
	return map[string]interface{}{
		"doorLocked":             status.DoorLocked,
		"trunkClosed":            status.TrunkClosed,
		"batteryLevel":           status.BatteryLevel,
		"auxiliaryBattery":       status.AuxiliaryBattery,
		"charging":               status.Charging,
		"chargerConnected":       status.ChargerConnected,
		"acOn":                   status.ACOn,
		"evRange":                status.EVRange,
		"gasRange":               status.GasRange,
		"odometer":               status.Odometer,
		"windowFrontLeftClosed":  status.WindowFrontLeftClosed,
		"windowFrontRightClosed": status.WindowFrontRightClosed,
		"windowRearLeftClosed":   status.WindowRearLeftClosed,
		"windowRearRightClosed":  status.WindowRearRightClosed,
		"sunroofClosed":          status.SunroofClosed,
		"tirePressure": map[string]float64{
			"frontLeft":  status.TirePressure.FrontLeft,
			"frontRight": status.TirePressure.FrontRight,
			"rearLeft":   status.TirePressure.RearLeft,
			"rearRight":  status.TirePressure.RearRight,
		},
		"tireTemperature": map[string]float64{
			"frontLeft":  status.TireTemperature.FrontLeft,
			"frontRight": status.TireTemperature.FrontRight,
			"rearLeft":   status.TireTemperature.RearLeft,
			"rearRight":  status.TireTemperature.RearRight,
		},
	}
}

// topic builds a full topic path: {prefix}/{vin}/{suffix}.
func (p *HAPublisher) topic(suffix string) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.TopicPrefix, p.car.VIN(), suffix)
}

// publish is a convenience wrapper that publishes a message and logs errors.
func (p *HAPublisher) publish(topic, payload string, retained bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, 1, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error("bridge: mqtt publish failed on %s: %s", topic, err)
	}
}
