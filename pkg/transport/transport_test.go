package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwm-community/vehicle-cloud/pkg/protocol"
)

// writeTestBundle generates a self-signed certificate pair in dir using the vendor bundle
// filenames.
func writeTestBundle(t *testing.T, dir string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	for name, data := range map[string][]byte{certFile: certPEM, keyFile: keyPEM, caFile: certPEM} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestModeSelection(t *testing.T) {
	if mode := New(Config{}).Mode(); mode != ModePermissive {
		t.Errorf("empty cert dir: mode = %s, want permissive", mode)
	}
	if mode := New(Config{CertDir: "/does/not/exist"}).Mode(); mode != ModePermissive {
		t.Errorf("missing cert dir: mode = %s, want permissive", mode)
	}

	dir := t.TempDir()
	writeTestBundle(t, dir)
	if mode := New(Config{CertDir: dir}).Mode(); mode != ModeStrict {
		t.Errorf("complete bundle: mode = %s, want strict", mode)
	}

	// A corrupt key degrades to permissive rather than failing construction.
	if err := os.WriteFile(filepath.Join(dir, keyFile), []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if mode := New(Config{CertDir: dir}).Mode(); mode != ModePermissive {
		t.Errorf("corrupt key: mode = %s, want permissive", mode)
	}
}

func TestGetReturnsBody(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("accessToken") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"ok":true}`)
	}))
	defer server.Close()

	ch := New(Config{})
	body, err := ch.Get(context.Background(), server.URL, map[string]string{"accessToken": "tok"})
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}
}

func TestNon2xxReturnsHttpError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream broken")
	}))
	defer server.Close()

	_, err := New(Config{}).Get(context.Background(), server.URL, nil)
	var httpErr *protocol.HttpError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HttpError, got %T: %v", err, err)
	}
	if httpErr.Code != http.StatusBadGateway || httpErr.Message != "upstream broken" {
		t.Errorf("got %d %q", httpErr.Code, httpErr.Message)
	}
}

func TestPostMarshalsJSON(t *testing.T) {
	type echo struct {
		ContentType string
		Body        map[string]interface{}
	}
	var got echo
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.ContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&got.Body)
		io.WriteString(w, "{}")
	}))
	defer server.Close()

	_, err := New(Config{}).Post(context.Background(), server.URL, nil, map[string]string{"vin": "LGW1234"})
	if err != nil {
		t.Fatalf("Post: %s", err)
	}
	if got.ContentType != "application/json" {
		t.Errorf("Content-Type = %q", got.ContentType)
	}
	if got.Body["vin"] != "LGW1234" {
		t.Errorf("body = %v", got.Body)
	}
}

func TestTransportErrorIsTemporary(t *testing.T) {
	ch := New(Config{Timeout: time.Second})
	_, err := ch.Get(context.Background(), "https://127.0.0.1:1", nil)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !protocol.Temporary(err) {
		t.Errorf("network errors should be temporary, got %v", err)
	}
	if protocol.MayHaveSucceeded(err) {
		t.Error("connection failures cannot have succeeded")
	}
}
