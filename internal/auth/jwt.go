package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"sfu-gateway/internal/model"
)

type authenticationClaims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

type authorizationClaims struct {
	UserID     string `json:"userid"`
	RoomID     string `json:"roomid"`
	Teacher    bool   `json:"teacher"`
	OrgID      string `json:"org_id"`
	ScheduleID string `json:"schedule_id"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies tokens signed either with an asymmetric key pair or
// with a shared secret. Expired tokens are rejected.
type JWTVerifier struct {
	key     any
	methods []string
}

// NewHMACVerifier verifies HS256/384/512 tokens signed with secret.
func NewHMACVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty hmac secret")
	}
	return &JWTVerifier{key: secret, methods: []string{"HS256", "HS384", "HS512"}}, nil
}

// NewPublicKeyVerifier verifies RSA or ECDSA signed tokens against a PEM
// encoded public key.
func NewPublicKeyVerifier(pemBytes []byte) (*JWTVerifier, error) {
	if k, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
		return &JWTVerifier{key: k, methods: []string{"RS256", "RS384", "RS512"}}, nil
	}
	k, err := jwt.ParseECPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTVerifier{key: k, methods: []string{"ES256", "ES384", "ES512"}}, nil
}

// LoadPublicKeyVerifier reads a PEM public key from path.
func LoadPublicKeyVerifier(path string) (*JWTVerifier, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return NewPublicKeyVerifier(pemBytes)
}

func (v *JWTVerifier) parse(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired())
	return err
}

func (v *JWTVerifier) VerifyAuthentication(token string) (model.UserID, error) {
	var claims authenticationClaims
	if err := v.parse(token, &claims); err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", errors.New("token has no id")
	}
	return model.UserID(claims.ID), nil
}

func (v *JWTVerifier) VerifyAuthorization(token string) (Authorization, error) {
	var claims authorizationClaims
	if err := v.parse(token, &claims); err != nil {
		return Authorization{}, err
	}
	if claims.UserID == "" || claims.RoomID == "" {
		return Authorization{}, errors.New("token has no userid or roomid")
	}
	return Authorization{
		UserID:     model.UserID(claims.UserID),
		RoomID:     model.RoomID(claims.RoomID),
		OrgID:      model.OrgID(claims.OrgID),
		ScheduleID: model.ScheduleID(claims.ScheduleID),
		IsTeacher:  claims.Teacher,
	}, nil
}
