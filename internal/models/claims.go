package models

import "github.com/golang-jwt/jwt/v5"

// OwnerClaims are the JWT claims the calling layers authenticate with.
// The engine only needs the owner id for wallet scoping and the role for
// the admin-only routes.
type OwnerClaims struct {
	OwnerID uint   `json:"owner_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}
