package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("test-secret")

func sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func expiresIn(d time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(d))}
}

func authenticationToken(t *testing.T, user string) string {
	return sign(t, authenticationClaims{ID: user, RegisteredClaims: expiresIn(time.Hour)})
}

func authorizationToken(t *testing.T, c authorizationClaims) string {
	if c.ExpiresAt == nil {
		c.RegisteredClaims = expiresIn(time.Hour)
	}
	return sign(t, c)
}

func roomRequest(query url.Values, cookie string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/room?"+query.Encode(), nil)
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: "access", Value: cookie})
	}
	return r
}

func newAuthenticator(t *testing.T, dev bool) *TokenAuthenticator {
	t.Helper()
	v, err := NewHMACVerifier(secret)
	if err != nil {
		t.Fatal(err)
	}
	return &TokenAuthenticator{Verifier: v, DevMode: dev}
}

func TestTokenAuthenticator(t *testing.T) {
	grant := authorizationClaims{UserID: "u1", RoomID: "r1", Teacher: true, OrgID: "o1", ScheduleID: "s1"}

	t.Run("valid tokens", func(t *testing.T) {
		cookie := authenticationToken(t, "u1")
		r := roomRequest(url.Values{"authorization": {authorizationToken(t, grant)}}, cookie)

		id, err := newAuthenticator(t, false).Authenticate(r)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		want := Identity{UserID: "u1", RoomID: "r1", OrgID: "o1", ScheduleID: "s1", IsTeacher: true, AuthCookie: cookie}
		if id != want {
			t.Errorf("got %+v, want %+v", id, want)
		}
	})

	t.Run("query authentication only in dev mode", func(t *testing.T) {
		q := url.Values{
			"authentication": {authenticationToken(t, "u1")},
			"authorization":  {authorizationToken(t, grant)},
		}
		if _, err := newAuthenticator(t, false).Authenticate(roomRequest(q, "")); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("production mode err = %v, want ErrUnauthenticated", err)
		}
		if _, err := newAuthenticator(t, true).Authenticate(roomRequest(q, "")); err != nil {
			t.Errorf("dev mode err = %v", err)
		}
	})

	failures := []struct {
		name   string
		cookie func(t *testing.T) string
		grant  authorizationClaims
	}{
		{"no authentication", func(*testing.T) string { return "" }, grant},
		{"different users", func(t *testing.T) string { return authenticationToken(t, "u2") }, grant},
		{"missing org", func(t *testing.T) string { return authenticationToken(t, "u1") },
			authorizationClaims{UserID: "u1", RoomID: "r1", ScheduleID: "s1"}},
		{"missing schedule", func(t *testing.T) string { return authenticationToken(t, "u1") },
			authorizationClaims{UserID: "u1", RoomID: "r1", OrgID: "o1"}},
		{"expired grant", func(t *testing.T) string { return authenticationToken(t, "u1") },
			authorizationClaims{UserID: "u1", RoomID: "r1", OrgID: "o1", ScheduleID: "s1", RegisteredClaims: expiresIn(-time.Minute)}},
		{"forged authentication", func(*testing.T) string { return "not-a-jwt" }, grant},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			r := roomRequest(url.Values{"authorization": {authorizationToken(t, tt.grant)}}, tt.cookie(t))
			if _, err := newAuthenticator(t, false).Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("err = %v, want ErrUnauthenticated", err)
			}
		})
	}

	t.Run("no authorization", func(t *testing.T) {
		r := roomRequest(url.Values{}, authenticationToken(t, "u1"))
		if _, err := newAuthenticator(t, false).Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("err = %v, want ErrUnauthenticated", err)
		}
	})
}

func TestJWTVerifier_rejectsOtherAlgorithms(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewPublicKeyVerifier(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	if err != nil {
		t.Fatalf("NewPublicKeyVerifier: %v", err)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, authenticationClaims{ID: "u1", RegisteredClaims: expiresIn(time.Hour)}).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	if user, err := v.VerifyAuthentication(signed); err != nil || user != "u1" {
		t.Errorf("got %q, %v", user, err)
	}

	if _, err := v.VerifyAuthentication(authenticationToken(t, "u1")); err == nil {
		t.Error("expected an HMAC token to be rejected by a public key verifier")
	}
}

func TestNewHMACVerifier_emptySecret(t *testing.T) {
	if _, err := NewHMACVerifier(nil); err == nil {
		t.Error("expected error")
	}
}

func TestDebugAuthenticator(t *testing.T) {
	d := NewDebugAuthenticator(nil)
	first, _ := d.Authenticate(httptest.NewRequest(http.MethodGet, "/room", nil))
	second, _ := d.Authenticate(httptest.NewRequest(http.MethodGet, "/room", nil))

	if first.UserID != "debugUser0" || second.UserID != "debugUser1" {
		t.Errorf("user ids = %s, %s", first.UserID, second.UserID)
	}
	if first.RoomID != "test-room" || first.OrgID != "test-org" || first.ScheduleID != "test-schedule" || !first.IsTeacher {
		t.Errorf("identity = %+v", first)
	}
}
