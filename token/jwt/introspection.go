package jwt

import (
	"fmt"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/internal/utils"
	"github.com/jrsteele09/go-session-keeper/token/keys"
)

// TokenIntrospection describes a verified access token.
// When Active is false the other fields may not be populated.
type TokenIntrospection struct {
	Active    bool      `json:"active"`               // True or false - Is the token valid
	Sub       string    `json:"sub,omitempty"`        // Users unique ID
	SessionID string    `json:"sid,omitempty"`        // Login session the token belongs to
	JTI       string    `json:"jti,omitempty"`        // Token ID used for revocation
	Iss       string    `json:"iss,omitempty"`        // Issuer of the token
	Roles     []string  `json:"roles,omitempty"`      // Roles assigned to the User
	ExpiresAt time.Time `json:"expires_at,omitempty"` // Expiration
}

// HasRole reports whether the token grants role.
func (ti *TokenIntrospection) HasRole(role string) bool {
	return slices.Contains(ti.Roles, role)
}

// RevokedChecker is an interface for checking if a token has been revoked
type RevokedChecker interface {
	IsRevoked(jti string) bool
}

// Inspector handles JWT token introspection and validation
type Inspector struct {
	signer         keys.Signer
	issuer         string
	revokedChecker RevokedChecker
}

// NewInspector creates a new JWT inspector. An empty issuer skips the issuer check.
func NewInspector(signer keys.Signer, issuer string, revokedChecker RevokedChecker) *Inspector {
	return &Inspector{
		signer:         signer,
		issuer:         issuer,
		revokedChecker: revokedChecker,
	}
}

// Introspect verifies rawToken. Expired, revoked, or badly signed tokens are reported
// inactive; err is only set when the token cannot be parsed at all.
func (i *Inspector) Introspect(rawToken string) (*TokenIntrospection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return &TokenIntrospection{Active: false}, nil
	}

	claims, err := i.verify(rawToken)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenMalformed) {
			return &TokenIntrospection{Active: false}, err
		}
		return &TokenIntrospection{Active: false}, nil
	}

	sub, _ := claims["sub"].(string)
	sid, _ := claims["sid"].(string)
	jti, _ := claims["jti"].(string)
	iss, _ := claims["iss"].(string)
	exp, _ := claims["exp"].(float64)

	roles := utils.ClaimStrings(claims["roles"])

	active := true
	// Check if token has been revoked
	if jti != "" && i.revokedChecker != nil && i.revokedChecker.IsRevoked(jti) {
		active = false
	}

	return &TokenIntrospection{
		Active:    active,
		Sub:       sub,
		SessionID: sid,
		JTI:       jti,
		Iss:       iss,
		Roles:     roles,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}

// ParseAndExtractJTI verifies rawToken and returns the identifiers needed to revoke it.
func (i *Inspector) ParseAndExtractJTI(rawToken string) (jti string, exp time.Time, err error) {
	claims, err := i.verify(rawToken)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("[Inspector ParseAndExtractJTI] invalid token: %w", err)
	}

	jtiClaim, ok := claims["jti"].(string)
	if !ok || jtiClaim == "" {
		return "", time.Time{}, fmt.Errorf("[Inspector ParseAndExtractJTI] token missing jti claim")
	}

	expClaim, ok := claims["exp"].(float64)
	if !ok {
		return "", time.Time{}, fmt.Errorf("[Inspector ParseAndExtractJTI] token missing exp claim")
	}
	return jtiClaim, time.Unix(int64(expClaim), 0), nil
}

func (i *Inspector) verify(rawToken string) (jwtlib.MapClaims, error) {
	options := []jwtlib.ParserOption{
		jwtlib.WithTimeFunc(NowTimeFunc),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithValidMethods([]string{i.signer.GetSigningMethod().Alg()}),
	}
	if i.issuer != "" {
		options = append(options, jwtlib.WithIssuer(i.issuer))
	}

	claims := jwtlib.MapClaims{}
	token, err := jwtlib.ParseWithClaims(rawToken, claims, i.signer.GetVerificationKey, options...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}
