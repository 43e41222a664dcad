// Package transport provides the HTTPS channel used for every request to the vendor cloud.
//
// The vendor API authenticates clients with a certificate issued by its private CA. When the
// certificate bundle is available the channel runs in strict mode and presents it during the
// TLS handshake; when it is not, the channel falls back to a permissive mode without a client
// certificate. The fallback is an explicit, logged configuration branch so deployments can
// audit which mode they ended up in.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gwm-community/vehicle-cloud/internal/log"
	"github.com/gwm-community/vehicle-cloud/pkg/protocol"
)

// MaxResponseLength caps the byte-length of response bodies read from the vendor cloud.
const MaxResponseLength = 100000

// DefaultTimeout bounds each request so a hung connection cannot block the caller
// indefinitely. This is unrelated to the inter-command cooldown.
const DefaultTimeout = 30 * time.Second

// Certificate bundle filenames expected under the configured certificate directory.
const (
	certFile = "gwm_general.cer"
	keyFile  = "gwm_general.key"
	caFile   = "gwm_root.cer"
)

// Mode identifies how the channel authenticates itself to the vendor cloud.
type Mode int

const (
	// ModeStrict presents the vendor-issued client certificate during the TLS handshake.
	ModeStrict Mode = iota
	// ModePermissive runs without a client certificate. The vendor cloud may reject
	// authenticated endpoints in this mode.
	ModePermissive
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "permissive"
}

// Config holds channel options.
type Config struct {
	// CertDir is the directory holding the vendor certificate bundle. Empty selects
	// permissive mode without probing the filesystem.
	CertDir string
	// Timeout bounds each request. Zero selects DefaultTimeout.
	Timeout time.Duration
	// Client replaces the constructed HTTP client entirely. Tests use this to install
	// interceptors; production callers leave it nil.
	Client *http.Client
}

// Channel issues HTTP requests to the vendor cloud.
type Channel struct {
	client *http.Client
	mode   Mode
}

// New builds a Channel, preferring strict mode when the certificate bundle is readable.
func New(cfg Config) *Channel {
	if cfg.Client != nil {
		return &Channel{client: cfg.Client, mode: ModePermissive}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	tlsConfig, mode := loadTLSConfig(cfg.CertDir)
	if mode == ModePermissive {
		log.Warning("transport: client certificates unavailable, using permissive TLS channel")
	} else {
		log.Info("transport: using client-certificate (strict) TLS channel")
	}

	return &Channel{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		mode: mode,
	}
}

// loadTLSConfig attempts to assemble the strict-mode TLS configuration. Any missing or
// malformed piece of the bundle degrades to permissive mode.
//
// Server chain verification is disabled in both modes: the vendor terminates TLS with
// certificates from its private CA under hostnames the CA does not cover.
func loadTLSConfig(certDir string) (*tls.Config, Mode) {
	if certDir == "" {
		return &tls.Config{InsecureSkipVerify: true}, ModePermissive //nolint:gosec
	}

	certPEM, err := os.ReadFile(filepath.Join(certDir, certFile))
	if err != nil {
		log.Debug("transport: %s", err)
		return &tls.Config{InsecureSkipVerify: true}, ModePermissive //nolint:gosec
	}
	keyPEM, err := os.ReadFile(filepath.Join(certDir, keyFile))
	if err != nil {
		log.Debug("transport: %s", err)
		return &tls.Config{InsecureSkipVerify: true}, ModePermissive //nolint:gosec
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		log.Warning("transport: invalid client certificate pair: %s", err)
		return &tls.Config{InsecureSkipVerify: true}, ModePermissive //nolint:gosec
	}

	config := &tls.Config{
		Certificates:       []tls.Certificate{pair},
		InsecureSkipVerify: true, //nolint:gosec
	}
	if caPEM, err := os.ReadFile(filepath.Join(certDir, caFile)); err == nil {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM(caPEM) {
			config.RootCAs = pool
		}
	}
	return config, ModeStrict
}

// Mode reports which TLS mode the channel selected at construction.
func (c *Channel) Mode() Mode {
	return c.mode
}

// Get issues a GET request and returns the response body. Non-2xx statuses are returned as
// *protocol.HttpError with the body as the message.
func (c *Channel) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, headers, nil)
}

// Post serializes body as JSON and issues a POST request.
func (c *Channel) Post(ctx context.Context, url string, headers map[string]string, body interface{}) ([]byte, error) {
	var payload []byte
	var ok bool
	if payload, ok = body.([]byte); !ok {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &protocol.CommandError{Err: err, PossibleSuccess: false, PossibleTemporary: false}
		}
	}
	return c.do(ctx, http.MethodPost, url, headers, payload)
}

func (c *Channel) do(ctx context.Context, method, url string, headers map[string]string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: false, PossibleTemporary: false}
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "*/*")
	for name, value := range headers {
		request.Header.Set(name, value)
	}

	log.Debug("transport: %s %s: %s", method, url, body)
	response, err := c.client.Do(request)
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: false, PossibleTemporary: true}
	}
	defer response.Body.Close()

	limited := io.LimitedReader{R: response.Body, N: MaxResponseLength + 1}
	rspBody, err := io.ReadAll(&limited)
	if err != nil {
		return nil, &protocol.CommandError{Err: err, PossibleSuccess: true, PossibleTemporary: false}
	}
	if len(rspBody) > MaxResponseLength {
		return nil, protocol.NewError("response exceeds maximum length", true, true)
	}

	log.Debug("transport: server returned %d: %s", response.StatusCode, rspBody)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &protocol.HttpError{Code: response.StatusCode, Message: string(rspBody)}
	}
	return rspBody, nil
}
