package models

import (
	"fmt"
	"strings"
)

// Role is the access tier of an attendee. The stored role is authoritative;
// roles supplied by callers are only compared against it.
type Role string

const (
	RoleGeneral    Role = "general"
	RoleManagement Role = "management"
)

// Valid reports whether r is a recognized access tier.
func (r Role) Valid() bool {
	switch r {
	case RoleGeneral, RoleManagement:
		return true
	}
	return false
}

// QuotaLimit returns the number of photos an attendee with role r may record.
// ok is false for unrecognized roles, which have no quota at all.
func (r Role) QuotaLimit() (limit int, ok bool) {
	switch r {
	case RoleManagement:
		return 2, true
	case RoleGeneral:
		return 1, true
	}
	return 0, false
}

// ParseRole converts a raw role value into a Role, rejecting unknown tiers.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Attendee represents a registered person at the gathering.
// It maps to the `users` table.
type Attendee struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Role        Role   `db:"role" json:"access_level"`
	PhotosTaken int    `db:"photos_taken" json:"photos_taken"`
}

// QuotaSnapshot is the subset of an attendee read right before a quota decision.
type QuotaSnapshot struct {
	Role        Role `db:"role"`
	PhotosTaken int  `db:"photos_taken"`
}

// Remaining returns how many photos are still allowed, or 0 for unknown roles.
func (q QuotaSnapshot) Remaining() int {
	limit, ok := q.Role.QuotaLimit()
	if !ok || q.PhotosTaken >= limit {
		return 0
	}
	return limit - q.PhotosTaken
}
