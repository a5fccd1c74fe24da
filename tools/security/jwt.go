package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options controls signing and verification.
type Options struct {
	Secret []byte
	TTL    time.Duration
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, TTL: 2 * time.Hour}
}

// Sign mints an HS256 token carrying the user identifier. The gateway
// only needs this for tooling and tests; production tokens come from the
// upstream auth service.
func Sign(userID int64, opt Options) (string, error) {
	if len(opt.Secret) == 0 {
		return "", fmt.Errorf("empty secret")
	}
	if opt.TTL <= 0 {
		opt.TTL = 2 * time.Hour
	}
	now := time.Now()
	claims := jwtlib.MapClaims{
		"userId": userID,
		"iat":    now.Unix(),
		"exp":    now.Add(opt.TTL).Unix(),
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(opt.Secret)
}

// Verify checks the HMAC signature and returns the claims.
func Verify(token string, opt Options) (jwtlib.MapClaims, error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opt.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, fmt.Errorf("claims type mismatch")
	}
	return claims, nil
}

// ParseUnverified decodes the claims without checking the signature, for
// deployments where token authority was already established upstream.
func ParseUnverified(token string) (jwtlib.MapClaims, error) {
	parsed, _, err := jwtlib.NewParser().ParseUnverified(token, jwtlib.MapClaims{})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, fmt.Errorf("claims type mismatch")
	}
	return claims, nil
}

// HashToken produces a stable fingerprint safe to log in place of the
// raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}
