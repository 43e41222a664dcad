package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName     = "com.gwm.vehicle-cloud"
	keyringPasswordService = "accountPassword"
	keyringPINService      = "securityPin"
	keyringDirectory       = "~/.gwm_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

// promptSecret reads a secret from the terminal without echoing it.
func promptSecret(prompt string) (string, error) {
	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	return string(b), nil
}

func (c *Config) getKeyringPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}
	password, err := promptSecret(prompt)
	if err != nil {
		return "", err
	}
	c.password = &password
	return password, nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	return keyring.Open(c.Backend)
}

// LoadPasswordFromKeyring loads the account password from the system keyring.
//
// The name must match the value provided to SavePasswordToKeyring.
func (c *Config) LoadPasswordFromKeyring() (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}

	item, err := kr.Get(keyringPasswordService + "." + c.SecretName)
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// SavePasswordToKeyring writes the account password to the system keyring.
//
// The name identifies the entry for future use with LoadPasswordFromKeyring and does not
// necessarily need to match the system username.
func (c *Config) SavePasswordToKeyring(password string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}

	if err := kr.Set(keyring.Item{
		Key:  keyringPasswordService + "." + c.SecretName,
		Data: []byte(password),
	}); err != nil {
		return fmt.Errorf("failed to enroll password in keyring: %s", err)
	}
	return nil
}

// LoadPINFromKeyring loads the command security PIN from the system keyring.
func (c *Config) LoadPINFromKeyring() (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(keyringPINService + "." + c.SecretName)
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// SavePINToKeyring writes the command security PIN to the system keyring.
func (c *Config) SavePINToKeyring(pin string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:  keyringPINService + "." + c.SecretName,
		Data: []byte(pin),
	}); err != nil {
		return fmt.Errorf("failed to enroll PIN in keyring: %s", err)
	}
	return nil
}

// DeleteSecrets removes the stored password and PIN entries from the system keyring.
func (c *Config) DeleteSecrets() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Remove(keyringPasswordService + "." + c.SecretName); err != nil && err != keyring.ErrKeyNotFound {
		return err
	}
	if err := kr.Remove(keyringPINService + "." + c.SecretName); err != nil && err != keyring.ErrKeyNotFound {
		return err
	}
	return nil
}
