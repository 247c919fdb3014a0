package users

import (
	"fmt"
	"slices"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// RoleType is a role carried in access tokens.
type RoleType string

const (
	RoleAdmin  RoleType = "admin"
	RoleMember RoleType = "member"
)

type User struct {
	ID           string     `json:"id,omitempty"`          // Unique identifier for the user
	Username     string     `json:"username,omitempty"`    // Unique login name
	PasswordHash string     `json:"-"`                     // Hashed version of the user's password - never serialize
	Roles        []RoleType `json:"roles,omitempty"`       // Roles granted in access tokens
	DateJoined   time.Time  `json:"date_joined,omitempty"` // Date and time when the user was created
	LastLogin    time.Time  `json:"last_login,omitempty"`  // Last time the user logged in
	Blocked      bool       `json:"blocked,omitempty"`     // Blocked users cannot log in
}

// New creates a user with a hashed password.
func New(username, password string, roles ...RoleType) (*User, error) {
	if username == "" {
		return nil, fmt.Errorf("[users New] username is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("[users New] hash password: %w", err)
	}
	return &User{
		Username:     username,
		PasswordHash: hash,
		Roles:        roles,
		DateJoined:   time.Now(),
	}, nil
}

// ValidatePasswordStrength checks if password meets security requirements:
// at least 8 characters with upper and lower case letters and a number.
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var hasUpper, hasLower, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// CheckPassword checks password against the user's hash.
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.PasswordHash)
}

// HasRole reports whether the user was granted role.
func (u *User) HasRole(role RoleType) bool {
	return slices.Contains(u.Roles, role)
}

// RoleNames returns the roles as strings for token claims.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, string(r))
	}
	return names
}
