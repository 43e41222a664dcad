/*
Package cli facilitates building command-line applications that talk to the vendor cloud. It
defines a [Config] type that can be used to register common command-line flags (using the
Golang flag package) and environment variable equivalents.

The package uses [keyring]'s platform-agnostic interface for storing sensitive values (the
account password and the command PIN) in an OS-dependent credential store.

# Examples

	import flag

	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for credentials, VIN, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	config.LoadCredentials()          // Keyring lookups and interactive prompts happen here

	acct, car, err := config.Connect()
	if err != nil {
		panic(err)
	}

Connect returns a nil vehicle client when no VIN is configured; account-only operations
(login checks, token inspection) still work in that case.
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/99designs/keyring"

	"github.com/gwm-community/vehicle-cloud/internal/log"
	"github.com/gwm-community/vehicle-cloud/pkg/account"
	"github.com/gwm-community/vehicle-cloud/pkg/store"
	"github.com/gwm-community/vehicle-cloud/pkg/transport"
	"github.com/gwm-community/vehicle-cloud/pkg/vehicle"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvUsername     = "GWM_USERNAME"
	EnvPassword     = "GWM_PASSWORD"
	EnvVIN          = "GWM_VIN"
	EnvPIN          = "GWM_PIN"
	EnvCertDir      = "GWM_CERT_DIR"
	EnvStorageDir   = "GWM_STORAGE_DIR"
	EnvSecretName   = "GWM_SECRET_NAME"
	EnvKeyringType  = "GWM_KEYRING_TYPE"
	EnvKeyringPass  = "GWM_KEYRING_PASSWORD"
	EnvKeyringPath  = "GWM_KEYRING_PATH"
	EnvKeyringDebug = "GWM_KEYRING_DEBUG"
)

// The vendor's climate control accepts temperatures in this range.
const (
	MinACTemperature = 16
	MaxACTemperature = 30
)

// ClampTemperature forces t into the range the climate system accepts.
func ClampTemperature(t int) int {
	if t < MinACTemperature {
		return MinACTemperature
	}
	if t > MaxACTemperature {
		return MaxACTemperature
	}
	return t
}

// Flag controls what options should be scanned from the command line and/or environment
// variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagVIN     Flag = 1 // Enable VIN option.
	FlagAccount Flag = 2 // Enable account credential options.
	FlagPIN     Flag = 4 // Enable security PIN options. Required for sending vehicle commands.
	FlagAll     Flag = FlagVIN | FlagAccount | FlagPIN
)

var (
	ErrNoCredentials = errors.New("account credentials not provided")
	ErrKeyNotFound   = keyring.ErrKeyNotFound
)

// Config fields determine how a client authenticates to the vendor cloud.
type Config struct {
	Flags      Flag   // Controls which set of environment variables/CLI flags to use.
	Username   string // Account email address.
	Password   string
	VIN        string
	PIN        string // Security PIN used to authorize commands.
	CertDir    string // Directory holding the client certificate bundle.
	StorageDir string // Directory for the device identifier and persisted tokens.

	// SecretName is the system keyring entry name for the account password and PIN. Used
	// when the plaintext values are not provided directly.
	SecretName  string
	Backend     keyring.Config
	BackendType backendType
	Debug       bool // Enable keyring debug messages

	password *string // keyring file password, not the account password
	acct     *account.Account
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getKeyringPassword
	c.Backend.FilePasswordFunc = c.getKeyringPassword

	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	if c.Flags.isSet(FlagVIN) {
		flag.StringVar(&c.VIN, "vin", "", "Vehicle Identification Number. Defaults to $GWM_VIN.")
	}
	if c.Flags.isSet(FlagAccount) {
		flag.StringVar(&c.Username, "username", "", "Account email address. Defaults to $GWM_USERNAME.")
		flag.StringVar(&c.SecretName, "secret-name", "", "System keyring `name` for stored credentials. Defaults to $GWM_SECRET_NAME.")
		flag.StringVar(&c.CertDir, "cert-dir", "", "`Directory` with the client certificate bundle. Defaults to $GWM_CERT_DIR.")
		flag.StringVar(&c.StorageDir, "storage-dir", "", "`Directory` for the device ID and session tokens. Defaults to $GWM_STORAGE_DIR.")
	}
	if c.Flags.isSet(FlagPIN) {
		if !c.Flags.isSet(FlagVIN) {
			log.Debug("FlagPIN is set but FlagVIN is not. A VIN is required to send vehicle commands.")
		}
	}
	if c.Flags.isSet(FlagAccount) || c.Flags.isSet(FlagPIN) {
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $GWM_KEYRING_TYPE.")
		flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already
// populated are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will
// prevent the environment from overriding explicit command-line parameters and avoid
// potentially misleading debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagVIN) {
		if c.VIN == "" {
			c.VIN = os.Getenv(EnvVIN)
			log.Debug("Set VIN to '%s'", c.VIN)
		}
	}
	if c.Flags.isSet(FlagAccount) {
		if c.Username == "" {
			c.Username = os.Getenv(EnvUsername)
			log.Debug("Set username to '%s'", c.Username)
		}
		if c.Password == "" {
			c.Password = os.Getenv(EnvPassword)
		}
		if c.SecretName == "" {
			c.SecretName = os.Getenv(EnvSecretName)
			log.Debug("Set keyring secret name to '%s'", c.SecretName)
		}
		if c.CertDir == "" {
			c.CertDir = os.Getenv(EnvCertDir)
			log.Debug("Set certificate directory to '%s'", c.CertDir)
		}
		if c.StorageDir == "" {
			c.StorageDir = os.Getenv(EnvStorageDir)
			log.Debug("Set storage directory to '%s'", c.StorageDir)
		}
	}
	if c.Flags.isSet(FlagPIN) {
		if c.PIN == "" {
			c.PIN = os.Getenv(EnvPIN)
		}
	}
	if c.Flags.isSet(FlagAccount) || c.Flags.isSet(FlagPIN) {
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvKeyringPath)
			log.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
}

// LoadCredentials fills in the account password and PIN, trying the system keyring first and
// falling back to an interactive prompt. Call this method before [Config.Connect] so that
// prompts do not count against network timeouts.
func (c *Config) LoadCredentials() error {
	if c.Flags.isSet(FlagAccount) && c.Password == "" {
		if c.SecretName != "" {
			password, err := c.LoadPasswordFromKeyring()
			if err == nil {
				c.Password = password
			} else if !errors.Is(err, keyring.ErrKeyNotFound) {
				return err
			}
		}
		if c.Password == "" {
			password, err := promptSecret("Account password")
			if err != nil {
				return err
			}
			c.Password = password
		}
	}
	if c.Flags.isSet(FlagPIN) && c.PIN == "" && c.SecretName != "" {
		pin, err := c.LoadPINFromKeyring()
		if err == nil {
			c.PIN = pin
		} else if !errors.Is(err, keyring.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}

// defaultStorageDir resolves the token/device-ID directory when none was configured.
func (c *Config) defaultStorageDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine storage directory: %s", err)
	}
	return filepath.Join(base, "gwm-vehicle"), nil
}

// Connect logs in to the configured account and, if c includes a VIN, returns a vehicle
// client for it. The vehicle client is nil when no VIN is configured.
func (c *Config) Connect() (*account.Account, *vehicle.Client, error) {
	if c.Username == "" || c.Password == "" {
		return nil, nil, ErrNoCredentials
	}

	storageDir := c.StorageDir
	if storageDir == "" {
		var err error
		if storageDir, err = c.defaultStorageDir(); err != nil {
			return nil, nil, err
		}
	}

	channel := transport.New(transport.Config{CertDir: c.CertDir})
	c.acct = account.New(account.Config{
		Username: c.Username,
		Password: c.Password,
	}, channel, store.New(storageDir))

	if !c.Flags.isSet(FlagVIN) || c.VIN == "" {
		return c.acct, nil, nil
	}
	car := vehicle.NewClient(vehicle.Config{VIN: c.VIN, PIN: c.PIN}, c.acct, channel)
	return c.acct, car, nil
}

// Account returns the account constructed by Connect, or nil before Connect is called.
func (c *Config) Account() *account.Account {
	return c.acct
}
