package auth

import "time"

type Role string

const (
	RoleParty Role = "party"
	RoleAdmin Role = "admin"
)

// User is an operator account bound to one ledger wallet address.
// It mirrors the users table and carries no JSON annotations so different
// presentation layers can reuse it.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Account      string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Account  string `json:"account"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Claims is what a verified session token asserts.
type Claims struct {
	UserID  string
	Account string
	Role    Role
}
