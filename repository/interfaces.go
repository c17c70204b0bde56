package repository

import (
	"context"

	"gatheringAccess/models"
)

// AttendeeRepositoryI defines storage access for Attendee rows. It performs
// no quota enforcement; callers decide whether an increment is allowed.
type AttendeeRepositoryI interface {
	FetchProfile(ctx context.Context, id string) (*models.Attendee, error)
	FetchQuotaSnapshot(ctx context.Context, id string) (*models.QuotaSnapshot, error)
	IncrementPhotoCount(ctx context.Context, id string) error
	IncrementPhotoCountBelow(ctx context.Context, id string, role models.Role, limit int) (bool, error)
	Ping(ctx context.Context) error
}

var _ AttendeeRepositoryI = (*AttendeeRepository)(nil)
