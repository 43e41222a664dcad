package vehicle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gwm-community/vehicle-cloud/internal/log"
	"github.com/gwm-community/vehicle-cloud/pkg/account"
	"github.com/gwm-community/vehicle-cloud/pkg/protocol"
)

// Action selects the direction of a binary vehicle command.
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
	ActionOn    Action = "ON"
	ActionOff   Action = "OFF"
)

// switchOrder translates an Action into the vendor's switch encoding: "1" engages
// (open/on), "2" secures (close/off).
func (a Action) switchOrder() string {
	if a == ActionOpen || a == ActionOn {
		return "1"
	}
	return "2"
}

// CommandResult is the uniform outcome shape for all control operations.
type CommandResult struct {
	Result  bool   `json:"result"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// CommandOutcome is the vendor's asynchronous execution report for a previously issued
// command.
type CommandOutcome struct {
	RemoteType int `json:"remoteType"`
	ResultCode int `json:"resultCode"`
}

// sendCommand serializes a logical command into the vendor's per-service instruction envelope
// and posts it.
//
// The attempt is gated on a valid session (auth failures do not consume the rate-limit
// window) and on the inter-command cooldown. The CommandRecord is written at the moment the
// attempt is committed, regardless of the eventual outcome, so rapid retries cannot bypass
// the vendor's own throttling.
func (c *Client) sendCommand(ctx context.Context, serviceCode string, instructions map[string]interface{}) CommandResult {
	if !c.acct.Authenticate(ctx) {
		return CommandResult{Result: false, Message: "Authentication failed"}
	}

	c.lock.Lock()
	now := c.now()
	if c.lastCommand != nil {
		elapsed := now.Sub(c.lastCommand.IssuedAt)
		if elapsed < CommandTimeout {
			c.lock.Unlock()
			rlErr := &protocol.RateLimitError{Remaining: CommandTimeout - elapsed}
			log.Info("vehicle: command locally rejected: %s", rlErr)
			return CommandResult{Result: false, Message: rlErr.Error()}
		}
	}
	seqNo := c.newSeqNo()
	c.lastCommand = &CommandRecord{SeqNo: seqNo, IssuedAt: now}
	c.lock.Unlock()

	envelope := map[string]interface{}{
		"instructions":     map[string]interface{}{serviceCode: instructions},
		"remoteType":       0,
		"securityPassword": account.HashSecret(c.pin),
		"seqNo":            seqNo,
		"type":             2,
		"vin":              c.vin,
	}

	url := c.profile.VehicleURL + "/vehicle/T5/sendCmd"
	body, err := c.channel.Post(ctx, url, c.acct.AuthHeaders(), envelope)
	if err != nil {
		log.Error("vehicle: command send failed: %s", err)
		return CommandResult{Result: false, Message: "Command failed"}
	}

	var rsp map[string]interface{}
	if err := json.Unmarshal(body, &rsp); err != nil {
		log.Error("vehicle: unparseable command response: %s", err)
		return CommandResult{Result: false, Message: "Command failed"}
	}

	if success, ok := rsp[c.profile.SuccessField].(bool); ok && success {
		log.Info("vehicle: command accepted, seqNo=%s", seqNo)
		return CommandResult{Result: true, Message: "Command sent"}
	}

	rejection := &protocol.CommandRejectedError{}
	if msg, ok := rsp["message"].(string); ok {
		rejection.Message = msg
	}
	if code, ok := rsp["code"]; ok {
		rejection.Code = fmt.Sprint(code)
	}
	log.Warning("vehicle: command rejected: code=%s message=%q", rejection.Code, rejection.Message)
	message := rejection.Message
	if message == "" {
		message = "Unknown error"
	}
	return CommandResult{Result: false, Message: message, Code: rejection.Code}
}

// ControlDoors locks (CLOSE) or unlocks (OPEN) the doors.
func (c *Client) ControlDoors(ctx context.Context, action Action) CommandResult {
	log.Info("vehicle: controlling doors: %s", action)
	return c.sendCommand(ctx, c.profile.Services.Doors, map[string]interface{}{
		"doorLock": map[string]string{
			"switchOrder": action.switchOrder(),
		},
	})
}

// ControlTrunk opens or closes the trunk.
func (c *Client) ControlTrunk(ctx context.Context, action Action) CommandResult {
	log.Info("vehicle: controlling trunk: %s", action)
	return c.sendCommand(ctx, c.profile.Services.Trunk, map[string]interface{}{
		"trunk": map[string]string{
			"switchOrder": action.switchOrder(),
		},
	})
}

// ControlAC turns the air conditioning on or off. Temperature is in degrees Celsius and
// duration in minutes; the calling layer clamps temperature to the vendor's 16-30 range.
func (c *Client) ControlAC(ctx context.Context, action Action, temperature int, duration int) CommandResult {
	log.Info("vehicle: controlling A/C: %s (%d°C, %dmin)", action, temperature, duration)
	return c.sendCommand(ctx, c.profile.Services.AC, map[string]interface{}{
		"airConditioner": map[string]string{
			"operationTime": strconv.Itoa(duration),
			"switchOrder":   action.switchOrder(),
			"temperature":   strconv.Itoa(temperature),
		},
	})
}

type commandResultResponse struct {
	Data []CommandOutcome `json:"data"`
}

// GetCommandResult queries the vendor for the asynchronous execution result of a previously
// issued command. It returns the first reported entry, or nil when no result is available or
// the call fails. Purely informational: neither the cached status nor the rate-limit state is
// affected.
func (c *Client) GetCommandResult(ctx context.Context, seqNo string) (*CommandOutcome, error) {
	if !c.acct.Authenticate(ctx) {
		return nil, protocol.ErrAuthenticationFailed
	}

	url := fmt.Sprintf("%s/vehicle/getRemoteCtrlResult?seqNo=%s&vin=%s", c.profile.VehicleURL, seqNo, c.vin)
	body, err := c.channel.Get(ctx, url, c.acct.AuthHeaders())
	if err != nil {
		log.Error("vehicle: command result poll failed: %s", err)
		return nil, err
	}

	var rsp commandResultResponse
	if err := json.Unmarshal(body, &rsp); err != nil {
		log.Error("vehicle: unparseable command result: %s", err)
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: false, PossibleTemporary: false}
	}
	if len(rsp.Data) == 0 {
		return nil, nil
	}
	return &rsp.Data[0], nil
}
