// Package auth establishes who is connecting and which room they may join.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"sfu-gateway/internal/model"
)

// ErrUnauthenticated matches every authentication or authorization failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the result of a successful authentication.
type Identity struct {
	UserID     model.UserID
	RoomID     model.RoomID
	OrgID      model.OrgID
	ScheduleID model.ScheduleID
	IsTeacher  bool

	// AuthCookie is the raw authentication token, forwarded to the
	// schedule service.
	AuthCookie string
}

// Authenticator turns an upgrade request into an Identity.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// Authorization is the content of a verified room authorization token.
type Authorization struct {
	UserID     model.UserID
	RoomID     model.RoomID
	OrgID      model.OrgID
	ScheduleID model.ScheduleID
	IsTeacher  bool
}

// Verifier checks tokens.
type Verifier interface {
	// VerifyAuthentication returns the user an authentication token was
	// issued to.
	VerifyAuthentication(token string) (model.UserID, error)
	// VerifyAuthorization returns the room grant in an authorization token.
	VerifyAuthorization(token string) (Authorization, error)
}

// TokenAuthenticator requires an authentication token, from the access
// cookie, and an authorization token, from the authorization query
// parameter, issued to the same user.
type TokenAuthenticator struct {
	Verifier Verifier

	// DevMode also accepts the authentication token from the
	// authentication query parameter.
	DevMode bool
}

func unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthenticated, fmt.Sprintf(format, args...))
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	authentication := a.authenticationToken(r)
	if authentication == "" {
		return Identity{}, unauthenticated("no authentication token")
	}
	authorization := r.URL.Query().Get("authorization")
	if authorization == "" {
		return Identity{}, unauthenticated("no authorization query parameter")
	}

	userID, err := a.Verifier.VerifyAuthentication(authentication)
	if err != nil {
		return Identity{}, unauthenticated("authentication token: %v", err)
	}
	grant, err := a.Verifier.VerifyAuthorization(authorization)
	if err != nil {
		return Identity{}, unauthenticated("authorization token: %v", err)
	}

	if grant.UserID != userID {
		return Identity{}, unauthenticated("authentication and authorization tokens are for different users")
	}
	if grant.OrgID == "" {
		return Identity{}, unauthenticated("authorization token has no org_id")
	}
	if grant.ScheduleID == "" {
		return Identity{}, unauthenticated("authorization token has no schedule_id")
	}

	return Identity{
		UserID:     grant.UserID,
		RoomID:     grant.RoomID,
		OrgID:      grant.OrgID,
		ScheduleID: grant.ScheduleID,
		IsTeacher:  grant.IsTeacher,
		AuthCookie: authentication,
	}, nil
}

func (a *TokenAuthenticator) authenticationToken(r *http.Request) string {
	if a.DevMode {
		if token := r.URL.Query().Get("authentication"); token != "" {
			return token
		}
	}
	if c, err := r.Cookie("access"); err == nil {
		return c.Value
	}
	return ""
}
