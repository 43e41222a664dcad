// Package account manages the authentication session with the vendor cloud: the login
// exchange, token expiry tracking, and transparent re-authentication for every other
// operation in the client.
package account

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gwm-community/vehicle-cloud/internal/log"
	"github.com/gwm-community/vehicle-cloud/pkg/store"
	"github.com/gwm-community/vehicle-cloud/pkg/transport"
)

// DefaultLoginURL is the account login endpoint for the currently observed API revision.
const DefaultLoginURL = "https://br-front-service.gwmcloud.com/br-official-commerce/br-official-gateway/pc-api/api/v1.0/userAuth/loginAccount"

// ExpiryBuffer is subtracted from the token expiry when judging validity, so a token is
// refreshed shortly before the vendor would start rejecting it.
const ExpiryBuffer = time.Minute

// fallbackTokenLifetime is assumed when the access token's expiration claim cannot be decoded.
const fallbackTokenLifetime = time.Hour

// DefaultHeaders returns the vendor-specific header set sent with every request. The values
// identify the client as the vendor's own PC app and are revision-specific configuration, not
// a stable contract.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"rs":           "5",
		"terminal":     "GW_PC_GWM",
		"brand":        "6",
		"brandid":      "CCZ001",
		"language":     "pt_BR",
		"systemtype":   "2",
		"regioncode":   "LA",
		"country":      "BR",
		"appid":        "6",
		"devicetype":   "0",
		"enterpriseid": "CC01",
	}
}

// HashSecret returns the lowercase hex MD5 digest of s. The vendor API transmits the account
// password and the command security PIN in this form.
func HashSecret(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// Session holds the access/refresh token pair authorizing vehicle API calls.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the session can still authorize requests at the given time, applying
// the ExpiryBuffer safety margin.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return now.Before(s.ExpiresAt.Add(-ExpiryBuffer))
}

// Config holds login parameters.
type Config struct {
	Username string
	Password string
	// LoginURL overrides DefaultLoginURL when set.
	LoginURL string
	// Headers overrides DefaultHeaders when non-nil.
	Headers map[string]string
}

// Account owns the authentication session for one set of credentials. All methods are safe for
// concurrent use.
type Account struct {
	cfg      Config
	channel  *transport.Channel
	store    *store.Store
	deviceID string

	lock    sync.Mutex
	session *Session

	now func() time.Time
}

// New creates an Account. The device identity and any previously persisted session are loaded
// from st; an expired or missing session simply means the first Authenticate call performs a
// login.
func New(cfg Config, channel *transport.Channel, st *store.Store) *Account {
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	a := &Account{
		cfg:      cfg,
		channel:  channel,
		store:    st,
		deviceID: st.DeviceID(),
		now:      time.Now,
	}
	if tokens := st.LoadTokens(); tokens != nil {
		a.session = &Session{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresAt:    time.UnixMilli(tokens.ExpiresAt),
		}
		log.Debug("account: loaded persisted session, expires %s", a.session.ExpiresAt)
	}
	return a
}

// DeviceID returns the stable client installation identifier used as a login parameter.
func (a *Account) DeviceID() string {
	return a.deviceID
}

// Session returns a copy of the current session, or nil if none exists.
func (a *Account) Session() *Session {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.session == nil {
		return nil
	}
	s := *a.session
	return &s
}

type loginResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// Authenticate ensures a usable session exists, logging in only when the current session is
// missing or inside the expiry buffer. It reports success; on failure a still-valid prior
// session is left untouched. Every authenticated operation in the client must call this first
// and abort on false rather than attempting the call unauthenticated.
func (a *Account) Authenticate(ctx context.Context) bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.session.Valid(a.now()) {
		return true
	}

	log.Info("account: authenticating with vendor cloud")

	body := map[string]string{
		"account":  a.cfg.Username,
		"password": HashSecret(a.cfg.Password),
		"deviceId": a.deviceID,
	}
	rsp, err := a.channel.Post(ctx, a.cfg.LoginURL, a.cfg.Headers, body)
	if err != nil {
		log.Error("account: login request failed: %s", err)
		return false
	}

	var parsed loginResponse
	if err := json.Unmarshal(rsp, &parsed); err != nil {
		log.Error("account: malformed login response: %s", err)
		return false
	}
	if parsed.Data.AccessToken == "" {
		log.Error("account: login response missing access token (code=%s message=%s)", parsed.Code, parsed.Message)
		return false
	}

	session := &Session{
		AccessToken:  parsed.Data.AccessToken,
		RefreshToken: parsed.Data.RefreshToken,
		ExpiresAt:    a.tokenExpiry(parsed.Data.AccessToken),
	}
	a.session = session
	a.store.SaveTokens(&store.Tokens{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.ExpiresAt.UnixMilli(),
	})
	log.Info("account: authentication successful, session expires %s", session.ExpiresAt)
	return true
}

// tokenExpiry decodes the access token's embedded expiration claim. The token is not verified
// here; only the vendor can do that, the client just needs the refresh deadline. An
// undecodable claim falls back to issued-plus-one-hour.
func (a *Account) tokenExpiry(accessToken string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	log.Warning("account: could not decode token expiry, assuming %s lifetime", fallbackTokenLifetime)
	return a.now().Add(fallbackTokenLifetime)
}

// AuthHeaders returns the header set for authenticated vehicle API requests: the vendor base
// headers plus the current token pair.
func (a *Account) AuthHeaders() map[string]string {
	a.lock.Lock()
	defer a.lock.Unlock()

	headers := make(map[string]string, len(a.cfg.Headers)+2)
	for name, value := range a.cfg.Headers {
		headers[name] = value
	}
	if a.session != nil {
		headers["accessToken"] = a.session.AccessToken
		headers["refreshToken"] = a.session.RefreshToken
	}
	return headers
}
