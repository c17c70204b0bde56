package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatheringAccess/internal/db"
	"gatheringAccess/models"
)

// opTimeout bounds every repository operation, including the wait for a
// pooled connection and for sqlite write locks.
const opTimeout = 3 * time.Second

type AttendeeRepository struct {
	db *db.DB
}

func NewAttendeeRepository(d *db.DB) *AttendeeRepository {
	return &AttendeeRepository{db: d}
}

// withTx runs fn in a transaction bounded by opTimeout. Any error from fn
// rolls the transaction back and is returned unchanged; otherwise the
// transaction is committed.
func (r *AttendeeRepository) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// FetchProfile returns the attendee with the given id, or nil if there is none.
func (r *AttendeeRepository) FetchProfile(ctx context.Context, id string) (*models.Attendee, error) {
	var a *models.Attendee
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var u models.Attendee
		var role string
		err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT id, name, role, photos_taken FROM users WHERE id = ?`), id).
			Scan(&u.ID, &u.Name, &role, &u.PhotosTaken)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		u.Role = models.Role(role)
		a = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FetchQuotaSnapshot returns the stored role and photo count, or nil if the
// attendee does not exist.
func (r *AttendeeRepository) FetchQuotaSnapshot(ctx context.Context, id string) (*models.QuotaSnapshot, error) {
	var s *models.QuotaSnapshot
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var q models.QuotaSnapshot
		var role string
		err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT role, photos_taken FROM users WHERE id = ?`), id).
			Scan(&role, &q.PhotosTaken)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		q.Role = models.Role(role)
		s = &q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// IncrementPhotoCount adds one to the attendee's counter unconditionally.
// It returns sql.ErrNoRows if the attendee does not exist.
func (r *AttendeeRepository) IncrementPhotoCount(ctx context.Context, id string) error {
	return r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.db.Rebind(`UPDATE users SET photos_taken = photos_taken + 1 WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// IncrementPhotoCountBelow adds one to the counter only while the stored role
// still equals role and the counter is below limit. The check and the write
// are one statement, so concurrent callers cannot push the counter past
// limit. It reports whether a row was updated.
func (r *AttendeeRepository) IncrementPhotoCountBelow(ctx context.Context, id string, role models.Role, limit int) (bool, error) {
	var updated bool
	err := r.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			r.db.Rebind(`UPDATE users SET photos_taken = photos_taken + 1 WHERE id = ? AND role = ? AND photos_taken < ?`),
			id, string(role), limit)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

// Ping checks that the store is reachable.
func (r *AttendeeRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.db.PingContext(ctx)
}
