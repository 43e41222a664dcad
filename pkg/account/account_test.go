package account_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gwm-community/vehicle-cloud/pkg/account"
	"github.com/gwm-community/vehicle-cloud/pkg/store"
	"github.com/gwm-community/vehicle-cloud/pkg/transport"
)

const loginURL = "https://cloud.example.com/login"

// makeJWT builds an unsigned token carrying only an exp claim, which is all the client decodes.
func makeJWT(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp":%d}`, exp.Unix())))
	return header + "." + payload + ".sig"
}

func loginBody(accessToken string) map[string]interface{} {
	return map[string]interface{}{
		"code": "000000",
		"data": map[string]string{
			"accessToken":  accessToken,
			"refreshToken": "refresh-1",
		},
	}
}

var _ = Describe("Account", func() {
	var (
		st      *store.Store
		channel *transport.Channel
		ctx     context.Context
	)

	BeforeEach(func() {
		client := &http.Client{}
		httpmock.ActivateNonDefault(client)
		DeferCleanup(httpmock.DeactivateAndReset)
		channel = transport.New(transport.Config{Client: client})
		st = store.New(GinkgoT().TempDir())
		ctx = context.Background()
	})

	newAccount := func() *account.Account {
		return account.New(account.Config{
			Username: "driver@example.com",
			Password: "hunter2",
			LoginURL: loginURL,
		}, channel, st)
	}

	Describe("Authenticate", func() {
		Context("with no prior session", func() {
			It("logs in once and reuses the session", func() {
				token := makeJWT(time.Now().Add(2 * time.Hour))
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					httpmock.NewJsonResponderOrPanic(200, loginBody(token)))

				acct := newAccount()
				Expect(acct.Authenticate(ctx)).To(BeTrue())
				Expect(httpmock.GetTotalCallCount()).To(Equal(1))

				// Second call hits the fast path with no network traffic.
				Expect(acct.Authenticate(ctx)).To(BeTrue())
				Expect(httpmock.GetTotalCallCount()).To(Equal(1))
			})

			It("sends the hashed credential pair and device identity", func() {
				var body string
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					func(req *http.Request) (*http.Response, error) {
						raw, _ := io.ReadAll(req.Body)
						body = string(raw)
						return httpmock.NewJsonResponse(200, loginBody(makeJWT(time.Now().Add(time.Hour))))
					})

				acct := newAccount()
				Expect(acct.Authenticate(ctx)).To(BeTrue())
				Expect(body).To(ContainSubstring(account.HashSecret("hunter2")))
				Expect(body).NotTo(ContainSubstring("hunter2\""))
				Expect(body).To(ContainSubstring(acct.DeviceID()))
			})

			It("takes the expiry from the token claim", func() {
				exp := time.Now().Add(8 * time.Hour).Truncate(time.Second)
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					httpmock.NewJsonResponderOrPanic(200, loginBody(makeJWT(exp))))

				acct := newAccount()
				Expect(acct.Authenticate(ctx)).To(BeTrue())
				Expect(acct.Session().ExpiresAt).To(BeTemporally("==", exp))
			})

			It("falls back to one hour for an undecodable token", func() {
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					httpmock.NewJsonResponderOrPanic(200, loginBody("opaque-token")))

				acct := newAccount()
				Expect(acct.Authenticate(ctx)).To(BeTrue())
				Expect(acct.Session().ExpiresAt).To(BeTemporally("~", time.Now().Add(time.Hour), time.Minute))
			})
		})

		Context("when the login response has no access token", func() {
			It("fails and persists nothing", func() {
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					httpmock.NewStringResponder(200, `{"code":"110001","message":"invalid credentials","data":{}}`))

				acct := newAccount()
				Expect(acct.Authenticate(ctx)).To(BeFalse())
				Expect(st.LoadTokens()).To(BeNil())
			})
		})

		Context("when the transport fails", func() {
			It("fails without a session", func() {
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					httpmock.NewErrorResponder(fmt.Errorf("connection refused")))

				Expect(newAccount().Authenticate(ctx)).To(BeFalse())
			})

			It("does not disturb a still-valid session", func() {
				token := makeJWT(time.Now().Add(2 * time.Hour))
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					httpmock.NewJsonResponderOrPanic(200, loginBody(token)))
				acct := newAccount()
				Expect(acct.Authenticate(ctx)).To(BeTrue())

				httpmock.Reset()
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					httpmock.NewErrorResponder(fmt.Errorf("connection refused")))

				Expect(acct.Authenticate(ctx)).To(BeTrue())
				Expect(acct.Session().AccessToken).To(Equal(token))
			})
		})

		Context("with a persisted session", func() {
			It("authenticates without a login call", func() {
				st.SaveTokens(&store.Tokens{
					AccessToken:  "persisted",
					RefreshToken: "refresh",
					ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
				})
				acct := newAccount()
				Expect(acct.Authenticate(ctx)).To(BeTrue())
				Expect(httpmock.GetTotalCallCount()).To(BeZero())
			})

			It("re-logs-in when the persisted session is inside the expiry buffer", func() {
				st.SaveTokens(&store.Tokens{
					AccessToken: "stale",
					ExpiresAt:   time.Now().Add(30 * time.Second).UnixMilli(),
				})
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					httpmock.NewJsonResponderOrPanic(200, loginBody(makeJWT(time.Now().Add(time.Hour)))))

				acct := newAccount()
				Expect(acct.Authenticate(ctx)).To(BeTrue())
				Expect(httpmock.GetTotalCallCount()).To(Equal(1))
			})

			It("survives a restart round trip", func() {
				httpmock.RegisterResponder(http.MethodPost, loginURL,
					httpmock.NewJsonResponderOrPanic(200, loginBody(makeJWT(time.Now().Add(time.Hour)))))
				Expect(newAccount().Authenticate(ctx)).To(BeTrue())
				Expect(httpmock.GetTotalCallCount()).To(Equal(1))

				// A fresh instance over the same storage directory reuses the session.
				again := newAccount()
				Expect(again.Authenticate(ctx)).To(BeTrue())
				Expect(httpmock.GetTotalCallCount()).To(Equal(1))
			})
		})
	})

	Describe("AuthHeaders", func() {
		It("carries the vendor headers and the token pair", func() {
			httpmock.RegisterResponder(http.MethodPost, loginURL,
				httpmock.NewJsonResponderOrPanic(200, loginBody(makeJWT(time.Now().Add(time.Hour)))))
			acct := account.New(account.Config{LoginURL: loginURL}, channel, st)
			Expect(acct.Authenticate(ctx)).To(BeTrue())

			headers := acct.AuthHeaders()
			Expect(headers).To(HaveKeyWithValue("terminal", "GW_PC_GWM"))
			Expect(headers).To(HaveKey("accessToken"))
			Expect(headers).To(HaveKeyWithValue("refreshToken", "refresh-1"))
		})
	})

	Describe("Session.Valid", func() {
		It("applies the one-minute buffer", func() {
			now := time.Now()
			s := &account.Session{AccessToken: "t", ExpiresAt: now.Add(59 * time.Second)}
			Expect(s.Valid(now)).To(BeFalse())
			s.ExpiresAt = now.Add(61 * time.Second)
			Expect(s.Valid(now)).To(BeTrue())
			Expect((*account.Session)(nil).Valid(now)).To(BeFalse())
		})
	})
})
