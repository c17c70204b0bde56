package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"gatheringAccess/internal/testutil"
	"gatheringAccess/models"
	"gatheringAccess/repository"
)

// newTestEngine opens a temp sqlite DB and returns an engine over it.
func newTestEngine(t *testing.T, seed ...models.Attendee) (*Engine, func(id string) int) {
	t.Helper()
	d := testutil.OpenTestDB(t)
	for _, a := range seed {
		testutil.SeedAttendee(t, d, a)
	}
	e := NewEngine(repository.NewAttendeeRepository(d), zerolog.Nop())
	return e, func(id string) int { return testutil.PhotosTaken(t, d, id) }
}

func TestRecordPhoto_GeneralQuota(t *testing.T) {
	e, photos := newTestEngine(t, models.Attendee{ID: "A1", Name: "Ama", Role: models.RoleGeneral})
	ctx := context.Background()

	out, err := e.RecordPhoto(ctx, "A1", "general")
	if err != nil || out != Recorded {
		t.Fatalf("first record: %v %v", out, err)
	}
	if n := photos("A1"); n != 1 {
		t.Fatalf("photos_taken = %d, want 1", n)
	}
	out, err = e.RecordPhoto(ctx, "A1", "general")
	if err != nil || out != QuotaExceeded {
		t.Fatalf("second record: %v %v", out, err)
	}
	if n := photos("A1"); n != 1 {
		t.Fatalf("photos_taken = %d after refusal, want 1", n)
	}
}

func TestRecordPhoto_ManagementQuota(t *testing.T) {
	e, photos := newTestEngine(t, models.Attendee{ID: "M1", Name: "Mo", Role: models.RoleManagement})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if out, err := e.RecordPhoto(ctx, "M1", "management"); err != nil || out != Recorded {
			t.Fatalf("record %d: %v %v", i, out, err)
		}
	}
	if out, _ := e.RecordPhoto(ctx, "M1", "management"); out != QuotaExceeded {
		t.Fatalf("third record: %v", out)
	}
	if n := photos("M1"); n != 2 {
		t.Fatalf("photos_taken = %d, want 2", n)
	}
}

func TestRecordPhoto_RoleMismatch(t *testing.T) {
	e, photos := newTestEngine(t, models.Attendee{ID: "A2", Name: "Dee", Role: models.RoleManagement, PhotosTaken: 1})
	out, err := e.RecordPhoto(context.Background(), "A2", "general")
	if err != nil || out != RoleMismatch {
		t.Fatalf("got %v %v, want role mismatch", out, err)
	}
	if n := photos("A2"); n != 1 {
		t.Fatalf("photos_taken = %d, want 1", n)
	}
}

func TestRecordPhoto_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	out, err := e.RecordPhoto(context.Background(), "ghost", "general")
	if err != nil || out != NotFound {
		t.Fatalf("got %v %v, want not found", out, err)
	}
}

func TestRecordPhoto_InvalidStoredRole(t *testing.T) {
	e, photos := newTestEngine(t, models.Attendee{ID: "V1", Name: "Vic", Role: models.Role("vip")})
	out, err := e.RecordPhoto(context.Background(), "V1", "vip")
	if err != nil || out != InvalidRole {
		t.Fatalf("got %v %v, want invalid role", out, err)
	}
	if n := photos("V1"); n != 0 {
		t.Fatalf("photos_taken = %d, want 0", n)
	}
}

func TestRecordPhoto_ConcurrentCallersNeverOverGrant(t *testing.T) {
	e, photos := newTestEngine(t, models.Attendee{ID: "M1", Name: "Mo", Role: models.RoleManagement})

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[Outcome]int{}
		errs    []error
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := e.RecordPhoto(context.Background(), "M1", "management")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results[out]++
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if results[Recorded] != 2 || results[QuotaExceeded] != n-2 {
		t.Fatalf("outcomes = %v, want 2 recorded and %d exceeded", results, n-2)
	}
	if got := photos("M1"); got != 2 {
		t.Fatalf("photos_taken = %d, want 2", got)
	}
}

type fakeStore struct {
	snaps   []*models.QuotaSnapshot
	reads   int
	updates []bool
	writes  int
	readErr error
	incErr  error
}

func (f *fakeStore) FetchQuotaSnapshot(ctx context.Context, id string) (*models.QuotaSnapshot, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	s := f.snaps[min(f.reads, len(f.snaps)-1)]
	f.reads++
	return s, nil
}

func (f *fakeStore) IncrementPhotoCountBelow(ctx context.Context, id string, role models.Role, limit int) (bool, error) {
	if f.incErr != nil {
		return false, f.incErr
	}
	ok := f.updates[min(f.writes, len(f.updates)-1)]
	f.writes++
	return ok, nil
}

func TestRecordPhoto_LostRaceIsReclassified(t *testing.T) {
	f := &fakeStore{
		snaps: []*models.QuotaSnapshot{
			{Role: models.RoleGeneral, PhotosTaken: 0},
			{Role: models.RoleGeneral, PhotosTaken: 1},
		},
		updates: []bool{false},
	}
	out, err := NewEngine(f, zerolog.Nop()).RecordPhoto(context.Background(), "A1", "general")
	if err != nil || out != QuotaExceeded {
		t.Fatalf("got %v %v, want quota exceeded", out, err)
	}
	if f.reads != 2 || f.writes != 1 {
		t.Fatalf("reads=%d writes=%d, want 2 and 1", f.reads, f.writes)
	}
}

func TestRecordPhoto_RetriesAreBounded(t *testing.T) {
	f := &fakeStore{
		snaps:   []*models.QuotaSnapshot{{Role: models.RoleGeneral}},
		updates: []bool{false},
	}
	out, err := NewEngine(f, zerolog.Nop()).RecordPhoto(context.Background(), "A1", "general")
	if err != nil || out != QuotaExceeded {
		t.Fatalf("got %v %v", out, err)
	}
	if f.writes != maxAttempts {
		t.Fatalf("writes = %d, want %d", f.writes, maxAttempts)
	}
}

func TestRecordPhoto_StoreErrors(t *testing.T) {
	boom := errors.New("connection refused")

	out, err := NewEngine(&fakeStore{readErr: boom}, zerolog.Nop()).RecordPhoto(context.Background(), "A1", "general")
	if out != Failed || !errors.Is(err, boom) {
		t.Fatalf("read failure: %v %v", out, err)
	}

	f := &fakeStore{snaps: []*models.QuotaSnapshot{{Role: models.RoleGeneral}}, incErr: boom}
	out, err = NewEngine(f, zerolog.Nop()).RecordPhoto(context.Background(), "A1", "general")
	if out != Failed || !errors.Is(err, boom) {
		t.Fatalf("write failure: %v %v", out, err)
	}
}

func TestOutcome_String(t *testing.T) {
	if Recorded.String() != "recorded" || QuotaExceeded.String() != "quota_exceeded" || Failed.String() != "failed" {
		t.Fatalf("unexpected names: %s %s %s", Recorded, QuotaExceeded, Failed)
	}
}
