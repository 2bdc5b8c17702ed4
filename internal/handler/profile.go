package handler

import (
	"time"

	"github.com/iliyamo/cms-auth/internal/model"
)

// profile is the public projection of a user. DateJoined is only shown to
// staff viewers.
type profile struct {
	ID         uint64     `json:"id"`
	Username   string     `json:"username"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Email      string     `json:"email"`
	DateJoined *time.Time `json:"date_joined,omitempty"`
}

func newProfile(u model.User, viewerRole uint8) profile {
	p := profile{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
	}
	if viewerRole != model.RoleOrdinary {
		joined := u.CreatedAt
		p.DateJoined = &joined
	}
	return p
}
