package auth

import "time"

// User is the domain representation of an account holder. Name and Email are
// plaintext here; they exist in the database only as ciphertext plus, for
// email, a deterministic search token.
// It carries no JSON annotations so it can be reused by different
// presentation layers.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
