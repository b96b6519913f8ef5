// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Identity is the authenticated user behind a connection or request.
type Identity struct {
	UserID string

	// Rooms limits which rooms the user may join. Empty means any room.
	Rooms []string
}

// CanJoin reports whether the identity may join roomID.
func (id Identity) CanJoin(roomID string) bool {
	if len(id.Rooms) == 0 {
		return true
	}
	for _, room := range id.Rooms {
		if room == roomID {
			return true
		}
	}
	return false
}

// An Authenticator checks credential tokens sent by clients.
// The returned error's message is sent to the client as the rejection reason.
type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

// Claims are the JWT claims of a teamchat token.
type Claims struct {
	jwt.RegisteredClaims
	Rooms []string `json:"rooms,omitempty"`
}

// JWTAuthenticator accepts HS256 signed JWTs.
// The subject is the user ID.
type JWTAuthenticator struct {
	Secret []byte
	Issuer string           // If set, tokens must carry this issuer
	Now    func() time.Time // If nil, time.Now is used
}

func (a *JWTAuthenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, errors.New("no token provided")
	}
	if len(a.Secret) == 0 {
		return Identity{}, errors.New("server has no signing secret")
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.Issuer != "" {
		options = append(options, jwt.WithIssuer(a.Issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.Secret, nil
	}, options...)
	if err != nil {
		return Identity{}, mapJWTError(err)
	}
	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Identity{}, errors.New("token has no subject")
	}
	return Identity{UserID: userID, Rooms: claims.Rooms}, nil
}

// IssueToken mints a token for userID, valid for ttl.
// rooms restricts the rooms the token can join; nil allows all rooms.
func (a *JWTAuthenticator) IssueToken(userID string, rooms []string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("User ID is required")
	}
	if len(a.Secret) == 0 {
		return "", errors.New("No signing secret configured")
	}
	if ttl <= 0 {
		return "", errors.New("Token lifetime must be positive")
	}

	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Rooms: rooms,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return "", errors.Wrap(err, "Sign token")
	}
	return signed, nil
}

// mapJWTError turns parser errors into reasons fit for clients.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.New("token expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return errors.New("token not valid yet")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return errors.New("token issuer not accepted")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return errors.New("token is missing a required claim")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return errors.New("invalid token signature")
	default:
		return errors.New("invalid token")
	}
}
