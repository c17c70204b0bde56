// Package quota decides whether an attendee may record another photo and
// records it when allowed.
package quota

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"gatheringAccess/models"
)

// Outcome is the result of a RecordPhoto call.
type Outcome int

const (
	// Failed means the store could not be consulted; the error says why.
	Failed Outcome = iota
	Recorded
	NotFound
	RoleMismatch
	InvalidRole
	QuotaExceeded
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case NotFound:
		return "not_found"
	case RoleMismatch:
		return "role_mismatch"
	case InvalidRole:
		return "invalid_role"
	case QuotaExceeded:
		return "quota_exceeded"
	}
	return "failed"
}

// Store is the storage the engine needs.
type Store interface {
	FetchQuotaSnapshot(ctx context.Context, id string) (*models.QuotaSnapshot, error)
	IncrementPhotoCountBelow(ctx context.Context, id string, role models.Role, limit int) (bool, error)
}

// maxAttempts bounds how often a lost conditional update is re-evaluated.
const maxAttempts = 3

// Engine enforces per-role photo quotas.
type Engine struct {
	store Store
	log   zerolog.Logger
}

func NewEngine(store Store, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// RecordPhoto records one photo for attendee id if claimedRole matches the
// stored role and the role's quota is not used up.
//
// The increment is a conditional store update, so under any number of
// concurrent callers at most QuotaLimit(role) calls return Recorded. When the
// update loses a race the snapshot is read again and the call is classified
// from the fresh state.
func (e *Engine) RecordPhoto(ctx context.Context, id, claimedRole string) (Outcome, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		snap, err := e.store.FetchQuotaSnapshot(ctx, id)
		if err != nil {
			return Failed, fmt.Errorf("fetch quota snapshot: %w", err)
		}
		out, limit := e.decide(id, claimedRole, snap)
		if out != Recorded {
			return out, nil
		}
		ok, err := e.store.IncrementPhotoCountBelow(ctx, id, snap.Role, limit)
		if err != nil {
			return Failed, fmt.Errorf("increment photo count: %w", err)
		}
		if ok {
			e.log.Info().Str("attendee", id).Str("role", string(snap.Role)).
				Int("photos_taken", snap.PhotosTaken+1).Int("limit", limit).Msg("photo recorded")
			return Recorded, nil
		}
		e.log.Debug().Str("attendee", id).Int("attempt", attempt+1).Msg("conditional increment lost, re-evaluating")
	}
	return QuotaExceeded, nil
}

// decide classifies a snapshot. A Recorded result means the attendee is
// eligible and limit is the quota to enforce in the conditional update.
func (e *Engine) decide(id, claimedRole string, snap *models.QuotaSnapshot) (Outcome, int) {
	if snap == nil {
		return NotFound, 0
	}
	if claimedRole != string(snap.Role) {
		e.log.Warn().Str("attendee", id).Str("claimed_role", claimedRole).
			Str("stored_role", string(snap.Role)).Msg("claimed role does not match stored role")
		return RoleMismatch, 0
	}
	limit, ok := snap.Role.QuotaLimit()
	if !ok {
		e.log.Warn().Str("attendee", id).Str("stored_role", string(snap.Role)).Msg("stored role has no photo quota")
		return InvalidRole, 0
	}
	if snap.PhotosTaken >= limit {
		e.log.Debug().Str("attendee", id).Int("photos_taken", snap.PhotosTaken).Int("limit", limit).Msg("photo quota exhausted")
		return QuotaExceeded, limit
	}
	return Recorded, limit
}
