// Package model defines the data structures used throughout the application.
package model

import "time"

// User is the local record of an identity observed from the identity
// provider. ID is the provider's stable external id (for GitHub logins it is
// "github|<numeric id>"); plans and voice sessions reference users by it.
//
// Users are created or refreshed whenever an identity event is observed and
// are never deleted by this service.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
