package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gwm-community/vehicle-cloud/pkg/account"
	"github.com/gwm-community/vehicle-cloud/pkg/cli"
	"github.com/gwm-community/vehicle-cloud/pkg/vehicle"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrRequiresVIN     = errors.New("command requires a VIN")
	ErrRequiresPIN     = errors.New("command requires a security PIN")
)

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error

type Command struct {
	help        string
	requiresVIN bool // True if the command targets a vehicle rather than the account.
	requiresPIN bool // True if the command sends a remote instruction to the vehicle.
	args        []Argument
	optional    []Argument
	handler     Handler
}

// configureFlags verifies that c contains all the information required to execute a command.
func configureFlags(c *cli.Config, commandName string) error {
	info, ok := commands[commandName]
	if !ok {
		return ErrUnknownCommand
	}
	c.Flags = cli.FlagAccount
	if info.requiresVIN {
		c.Flags |= cli.FlagVIN
	}
	if info.requiresPIN {
		c.Flags |= cli.FlagPIN
	}
	return nil
}

func checkReadiness(commandName string, haveVIN, havePIN bool) (*Command, error) {
	info, ok := commands[commandName]
	if !ok {
		return nil, ErrUnknownCommand
	}
	if info.requiresVIN && !haveVIN {
		return nil, ErrRequiresVIN
	}
	if info.requiresPIN && !havePIN {
		return nil, ErrRequiresPIN
	}
	return info, nil
}

func execute(ctx context.Context, acct *account.Account, car *vehicle.Client, pin string, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, err := checkReadiness(args[0], car != nil, pin != "")
	if err != nil {
		return err
	}

	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args), len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, acct, car, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

// commandError converts a rejected CommandResult into an error for uniform reporting.
func commandError(result vehicle.CommandResult) error {
	if result.Result {
		return nil
	}
	if result.Code != "" {
		return fmt.Errorf("%s (code %s)", result.Message, result.Code)
	}
	return errors.New(result.Message)
}

func printJSON(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

var commands = map[string]*Command{
	"status": &Command{
		help:        "Fetch and print the vehicle's current status",
		requiresVIN: true,
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			status, err := car.GetStatus(ctx)
			if err != nil {
				if status != nil {
					writeErr("Warning: showing last known status (%s)", err)
				} else {
					return err
				}
			}
			return printJSON(status)
		},
	},
	"cached-status": &Command{
		help:        "Print the last fetched status without network traffic",
		requiresVIN: true,
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			status := car.CachedStatus()
			if status == nil {
				return errors.New("no cached status available")
			}
			return printJSON(status)
		},
	},
	"lock": &Command{
		help:        "Lock vehicle doors",
		requiresVIN: true,
		requiresPIN: true,
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			return commandError(car.ControlDoors(ctx, vehicle.ActionClose))
		},
	},
	"unlock": &Command{
		help:        "Unlock vehicle doors",
		requiresVIN: true,
		requiresPIN: true,
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			return commandError(car.ControlDoors(ctx, vehicle.ActionOpen))
		},
	},
	"trunk-open": &Command{
		help:        "Open the trunk",
		requiresVIN: true,
		requiresPIN: true,
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			return commandError(car.ControlTrunk(ctx, vehicle.ActionOpen))
		},
	},
	"trunk-close": &Command{
		help:        "Close the trunk",
		requiresVIN: true,
		requiresPIN: true,
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			return commandError(car.ControlTrunk(ctx, vehicle.ActionClose))
		},
	},
	"climate-on": &Command{
		help:        "Turn on the air conditioning",
		requiresVIN: true,
		requiresPIN: true,
		args: []Argument{
			Argument{name: "TEMP", help: "Target temperature in degrees Celsius (16-30)"},
		},
		optional: []Argument{
			Argument{name: "MINUTES", help: "Run time in minutes. Defaults to 15."},
		},
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			temp, err := strconv.Atoi(args["TEMP"])
			if err != nil {
				return fmt.Errorf("%w: TEMP must be an integer", ErrCommandLineArgs)
			}
			duration := 15
			if minutes, ok := args["MINUTES"]; ok {
				if duration, err = strconv.Atoi(minutes); err != nil || duration <= 0 {
					return fmt.Errorf("%w: MINUTES must be a positive integer", ErrCommandLineArgs)
				}
			}
			return commandError(car.ControlAC(ctx, vehicle.ActionOn, cli.ClampTemperature(temp), duration))
		},
	},
	"climate-off": &Command{
		help:        "Turn off the air conditioning",
		requiresVIN: true,
		requiresPIN: true,
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			return commandError(car.ControlAC(ctx, vehicle.ActionOff, cli.MinACTemperature, 0))
		},
	},
	"command-result": &Command{
		help:        "Query the execution result of a previously issued command",
		requiresVIN: true,
		optional: []Argument{
			Argument{name: "SEQNO", help: "Sequence number of the command. Defaults to the most recent."},
		},
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			seqNo, ok := args["SEQNO"]
			if !ok {
				seqNo = car.LastSequenceNumber()
			}
			if seqNo == "" {
				return errors.New("no command has been sent in this session; provide SEQNO")
			}
			outcome, err := car.GetCommandResult(ctx, seqNo)
			if err != nil {
				return err
			}
			if outcome == nil {
				fmt.Println("Result not yet available")
				return nil
			}
			return printJSON(outcome)
		},
	},
	"login": &Command{
		help: "Verify account credentials by performing a login",
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			if !acct.Authenticate(ctx) {
				return errors.New("authentication failed")
			}
			fmt.Println("Authenticated")
			return nil
		},
	},
	"session-info": &Command{
		help: "Print the current session tokens and expiry",
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			session := acct.Session()
			if session == nil {
				return errors.New("no session; run login first")
			}
			return printJSON(session)
		},
	},
	"device-id": &Command{
		help: "Print the persistent device identifier sent with login requests",
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			fmt.Println(acct.DeviceID())
			return nil
		},
	},
	"save-credentials": &Command{
		help: "Store the account password and PIN in the system keyring",
		handler: func(ctx context.Context, acct *account.Account, car *vehicle.Client, args map[string]string) error {
			return saveCredentials()
		},
	},
}

// saveCredentials is set by main to a closure over the active config, which owns the keyring
// settings.
var saveCredentials = func() error {
	return errors.New("credential storage not configured")
}

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}
