// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages
// but without inheritance. Go favours composition over inheritance.
//
// Users themselves are not modelled here: they belong to the identity
// provider and are only ever seen as an opaque ID (see auth.Identity).
package model

import "time"

// Profile holds the per-user credit balance.
//
// The ID is the identity provider's user ID, so there is exactly one profile
// per user. Credits are never negative at rest: the repository only ever
// debits with a conditional UPDATE that refuses to go below zero.
type Profile struct {
	ID        string    `json:"id"        db:"id"`
	Email     string    `json:"email"     db:"email"`
	Credits   int       `json:"credits"   db:"credits"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
