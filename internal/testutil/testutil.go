package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"gatheringAccess/internal/config"
	"gatheringAccess/internal/db"
	"gatheringAccess/models"
)

// OpenTestDB opens a file-backed SQLite database in a per-test temp directory.
// A file is used instead of a shared-cache memory database so that concurrent
// writers wait on the busy timeout rather than failing with table locks.
// The DB is closed via t.Cleanup.
func OpenTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(config.DatabaseConfig{
		Driver:       db.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "gathering.db"),
		MaxOpenConns: 8,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// SeedAttendee inserts a users row the way the provisioning process would.
func SeedAttendee(t *testing.T, d *db.DB, a models.Attendee) {
	t.Helper()
	_, err := d.ExecContext(context.Background(),
		d.Rebind(`INSERT INTO users (id, name, role, photos_taken) VALUES (?, ?, ?, ?)`),
		a.ID, a.Name, string(a.Role), a.PhotosTaken)
	if err != nil {
		t.Fatalf("seed attendee %s: %v", a.ID, err)
	}
}

// PhotosTaken reads the stored counter for id directly.
func PhotosTaken(t *testing.T, d *db.DB, id string) int {
	t.Helper()
	var n int
	if err := d.QueryRowContext(context.Background(), d.Rebind(`SELECT photos_taken FROM users WHERE id = ?`), id).Scan(&n); err != nil {
		t.Fatalf("read photos_taken for %s: %v", id, err)
	}
	return n
}

// Published is one message captured by RecordingPublisher.
type Published struct {
	Subj string
	Data any
}

// RecordingPublisher captures published messages for assertions.
type RecordingPublisher struct {
	mu   sync.Mutex
	msgs []Published
}

func (p *RecordingPublisher) Publish(subj string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, Published{Subj: subj, Data: data})
}

// Messages returns a copy of everything published so far.
func (p *RecordingPublisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.msgs))
	copy(out, p.msgs)
	return out
}
