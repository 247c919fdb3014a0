package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-keeper/token/keys"
	"github.com/jrsteele09/go-session-keeper/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// AccessToken is a signed access token and its expiry.
type AccessToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Creator issues access tokens bound to a login session
type Creator struct {
	signer keys.Signer
	issuer string
	expiry time.Duration
}

// NewCreator creates a new JWT creator
func NewCreator(signer keys.Signer, issuer string, expiry time.Duration) *Creator {
	return &Creator{
		signer: signer,
		issuer: issuer,
		expiry: expiry,
	}
}

// CreateAccessToken creates an access token for user within sessionID
func (c *Creator) CreateAccessToken(user *users.User, sessionID string) (*AccessToken, error) {
	now := NowTimeFunc()
	expiresAt := now.Add(c.expiry)
	jti := uuid.New().String()

	claims := jwtlib.MapClaims{
		"iss":   c.issuer,         // The issuer of the token
		"sub":   user.ID,          // The user the token was issued to
		"sid":   sessionID,        // The login session the token belongs to
		"roles": user.RoleNames(), // Roles granted to the user
		"iat":   now.Unix(),       // Issued At
		"exp":   expiresAt.Unix(), // Expiry
		"jti":   jti,              // Unique token ID for revocation
	}

	signed, err := c.signer.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("[Creator CreateAccessToken] sign: %w", err)
	}
	return &AccessToken{Token: signed, JTI: jti, ExpiresAt: time.Unix(expiresAt.Unix(), 0)}, nil
}
