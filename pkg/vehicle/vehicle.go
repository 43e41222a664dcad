// Package vehicle provides the client for reading vehicle state and sending remote commands
// through the vendor cloud.
//
// A Client owns the mutable state for one vehicle: the cached status snapshot and the
// inter-command cooldown record. The authentication session lives in [account.Account]; every
// operation here re-authenticates transparently through it before touching the network.
package vehicle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gwm-community/vehicle-cloud/internal/log"
	"github.com/gwm-community/vehicle-cloud/pkg/account"
	"github.com/gwm-community/vehicle-cloud/pkg/protocol"
	"github.com/gwm-community/vehicle-cloud/pkg/telemetry"
	"github.com/gwm-community/vehicle-cloud/pkg/transport"
)

// DefaultVehicleURL is the vehicle API gateway for the currently observed API revision.
const DefaultVehicleURL = "https://br-app-gateway.gwmcloud.com/app-api/api/v1.0"

// CommandTimeout is the minimum interval between command attempts. It is a single global gate
// per client: a door command starts the same cooldown that blocks a subsequent trunk or
// climate command.
const CommandTimeout = 60 * time.Second

// ServiceCodes identifies the vendor's per-subsystem instruction envelopes.
type ServiceCodes struct {
	Engine   string
	AC       string
	Doors    string
	Windows  string
	Trunk    string
	Charging string
}

// Profile bundles the vendor-revision-specific constants: endpoints, service codes, the
// command success discriminator, and the telemetry code registry. Treat it as externally
// versioned configuration; several of these values have changed between observed API
// revisions.
type Profile struct {
	VehicleURL string
	Services   ServiceCodes
	// SuccessField names the boolean field in a command response that discriminates
	// success. Any response where this field is not true is treated as a rejection.
	SuccessField string
	Registry     telemetry.Registry
}

// DefaultProfile returns the constants for the currently observed API revision.
func DefaultProfile() Profile {
	return Profile{
		VehicleURL: DefaultVehicleURL,
		Services: ServiceCodes{
			Engine:   "0x03",
			AC:       "0x04",
			Doors:    "0x05",
			Windows:  "0x08",
			Trunk:    "0x09",
			Charging: "0x01",
		},
		SuccessField: "result",
		Registry:     telemetry.DefaultRegistry(),
	}
}

// CommandRecord correlates the most recent command attempt with its sequence number. Exactly
// one is held at a time; it drives the rate limiter and result polling.
type CommandRecord struct {
	SeqNo    string
	IssuedAt time.Time
}

// Config holds per-vehicle parameters.
type Config struct {
	// VIN identifies the vehicle on the owner's account.
	VIN string
	// PIN is the numeric security PIN sent (hashed) with every command.
	PIN string
	// Profile overrides DefaultProfile when non-nil.
	Profile *Profile
}

// Client reads status and sends commands for a single vehicle. Multiple clients can coexist;
// there is no package-level state.
type Client struct {
	vin     string
	pin     string
	profile Profile
	acct    *account.Account
	channel *transport.Channel

	lock        sync.Mutex
	cached      *telemetry.Status
	lastCommand *CommandRecord

	// Test hooks.
	now      func() time.Time
	newSeqNo func() string
}

// NewClient creates a Client for the vehicle identified by cfg.VIN.
func NewClient(cfg Config, acct *account.Account, channel *transport.Channel) *Client {
	profile := DefaultProfile()
	if cfg.Profile != nil {
		profile = *cfg.Profile
	}
	return &Client{
		vin:     cfg.VIN,
		pin:     cfg.PIN,
		profile: profile,
		acct:    acct,
		channel: channel,
		now:     time.Now,
		newSeqNo: func() string {
			// The fixed suffix mirrors the vendor app's sequence numbers.
			return uuid.NewString() + "1234"
		},
	}
}

// VIN returns the vehicle identifier.
func (c *Client) VIN() string {
	return c.vin
}

// Authenticate ensures a valid session exists, performing a login only when needed.
func (c *Client) Authenticate(ctx context.Context) bool {
	return c.acct.Authenticate(ctx)
}

type statusResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Items     []telemetry.Item `json:"items"`
		Latitude  string           `json:"latitude"`
		Longitude string           `json:"longitude"`
	} `json:"data"`
}

// GetStatus polls the vendor cloud for the vehicle's telemetry feed and decodes it into a
// snapshot.
//
// On success the cached snapshot is replaced atomically and returned. On transport or parse
// failure the previous cached snapshot is returned together with the error, so callers can
// degrade to last-known state; the cache itself is never corrupted by a bad read. On
// authentication failure, or when the response lacks the telemetry item list, GetStatus
// returns nil and the cache is left untouched.
func (c *Client) GetStatus(ctx context.Context) (*telemetry.Status, error) {
	if !c.acct.Authenticate(ctx) {
		return nil, protocol.ErrAuthenticationFailed
	}

	url := fmt.Sprintf("%s/vehicle/getLastStatus?vin=%s&flag=true", c.profile.VehicleURL, c.vin)
	body, err := c.channel.Get(ctx, url, c.acct.AuthHeaders())
	if err != nil {
		log.Error("vehicle: status read failed: %s", err)
		return c.CachedStatus(), err
	}

	var rsp statusResponse
	if err := json.Unmarshal(body, &rsp); err != nil {
		log.Error("vehicle: unparseable status response: %s", err)
		return c.CachedStatus(), &protocol.CommandError{Err: err, PossibleSuccess: true, PossibleTemporary: false}
	}
	if rsp.Data.Items == nil {
		log.Warning("vehicle: status response missing telemetry items (code=%s message=%s)", rsp.Code, rsp.Message)
		return nil, protocol.ErrNoStatus
	}

	status := telemetry.Decode(rsp.Data.Items, c.profile.Registry, c.now())
	if lat, err := strconv.ParseFloat(rsp.Data.Latitude, 64); err == nil {
		if lon, err := strconv.ParseFloat(rsp.Data.Longitude, 64); err == nil {
			status.Latitude = lat
			status.Longitude = lon
			status.HasLocation = true
		}
	}

	c.lock.Lock()
	c.cached = &status
	c.lock.Unlock()

	log.Debug("vehicle: status updated: battery=%d%% locked=%t charging=%t", status.BatteryLevel, status.DoorLocked, status.Charging)
	return &status, nil
}

// CachedStatus returns the most recent successfully decoded snapshot without any network
// traffic. It is nil until the first successful GetStatus.
func (c *Client) CachedStatus() *telemetry.Status {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.cached == nil {
		return nil
	}
	s := *c.cached
	return &s
}

// LastSequenceNumber returns the sequence number of the most recent command attempt, or the
// empty string if no command has been sent.
func (c *Client) LastSequenceNumber() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.lastCommand == nil {
		return ""
	}
	return c.lastCommand.SeqNo
}
