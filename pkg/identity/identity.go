// Package identity reads a participant id out of a relay credential.
//
// Clients only decode the token: the id is used to recognise frames the relay
// echoes back to their sender. The relay verifies the signature before it
// trusts the same claim.
package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roomcall/roomcall/pkg/signaling"
)

var (
	ErrNoIdentity   = errors.New("credential carries no participant id")
	ErrEmptySecret  = errors.New("empty signing secret")
	errNoCredential = errors.New("empty credential")
)

// Claims checked in order; the first present, non-empty one wins.
var claimKeys = []string{"user_id", "user", "sub"}

var parser = jwt.NewParser(jwt.WithJSONNumber())

// ResolveSelfID decodes the identity claim of a JWT credential. It returns
// false for a malformed token or one without a usable claim, in which case
// callers must not suppress any message by identity.
func ResolveSelfID(credential string) (signaling.ParticipantID, bool) {
	if credential == "" {
		return "", false
	}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(credential, claims); err != nil {
		return "", false
	}
	return FromClaims(claims)
}

// FromClaims picks the participant id out of decoded claims.
func FromClaims(claims jwt.MapClaims) (signaling.ParticipantID, bool) {
	for _, k := range claimKeys {
		if id, ok := signaling.ParseParticipantID(claims[k]); ok {
			return id, true
		}
	}
	return "", false
}

var verifier = jwt.NewParser(
	jwt.WithJSONNumber(),
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
)

// Verify checks an HS256 credential against secret, including its expiry,
// and returns the participant id it names.
func Verify(credential string, secret []byte) (signaling.ParticipantID, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	if credential == "" {
		return "", errNoCredential
	}
	claims := jwt.MapClaims{}
	_, err := verifier.ParseWithClaims(credential, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	id, ok := FromClaims(claims)
	if !ok {
		return "", ErrNoIdentity
	}
	return id, nil
}
