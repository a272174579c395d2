package patient

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/clinica/epicrisis/internal/platform/db"
)

func newBoltStore(t *testing.T, path string) *db.Lazy[*bbolt.DB] {
	t.Helper()
	store := db.NewLazy("bolt", func(ctx context.Context) (*bbolt.DB, error) {
		return db.OpenBolt(ctx, BoltOptions(path, 0))
	}, (*bbolt.DB).Close, zerolog.Nop())
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestBoltRepo(t *testing.T) Repository {
	t.Helper()
	return NewBoltRepo(newBoltStore(t, filepath.Join(t.TempDir(), "clinica.db")), zerolog.Nop())
}

func samplePatient(mrn string) *Patient {
	return &Patient{
		FirstName:           "Lucía",
		LastName:            "García",
		MedicalRecordNumber: mrn,
		BirthDate:           "2024-03-05",
		BirthTime:           "14:30",
		Sex:                 "F",
		Weight:              "3250",
		HepBVaccinated:      true,
		HepBLot:             "L-1234",
	}
}

func TestBoltRepo_AddThenGet(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	in := samplePatient("HC-001")
	want := *in
	id, err := repo.Add(ctx, in)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}

	got, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected createdAt to be assigned")
	}

	want.ID = id
	want.CreatedAt = got.CreatedAt
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("stored record differs:\n got %+v\nwant %+v", *got, want)
	}
}

func TestBoltRepo_AddIgnoresCallerCreatedAt(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	in := samplePatient("HC-001")
	in.CreatedAt = in.CreatedAt.AddDate(1990, 0, 0)
	id, err := repo.Add(ctx, in)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	got, _ := repo.GetByID(ctx, id)
	if got.CreatedAt.Year() == 1991 {
		t.Error("expected createdAt to be assigned by the store")
	}
}

func TestBoltRepo_IDsIncrease(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	first, err := repo.Add(ctx, samplePatient("HC-001"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.Add(ctx, samplePatient("HC-002"))
	if err != nil {
		t.Fatal(err)
	}
	if second <= first {
		t.Errorf("expected increasing ids, got %d then %d", first, second)
	}
}

func TestBoltRepo_GetByID_NotFound(t *testing.T) {
	repo := newTestBoltRepo(t)

	got, err := repo.GetByID(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected no error for a missing record, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestBoltRepo_DuplicateMedicalRecordNumber(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	first := samplePatient("HC-001")
	id, err := repo.Add(ctx, first)
	if err != nil {
		t.Fatalf("first Add() error: %v", err)
	}
	before, _ := repo.GetByID(ctx, id)

	second := samplePatient("HC-001")
	second.FirstName = "Otro"
	if _, err := repo.Add(ctx, second); !errors.Is(err, ErrDuplicateMedicalRecordNumber) {
		t.Fatalf("expected ErrDuplicateMedicalRecordNumber, got %v", err)
	}

	after, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("first record changed after rejected add:\n got %+v\nwant %+v", after, before)
	}

	all, _ := repo.Search(ctx, "")
	if len(all) != 1 {
		t.Errorf("expected one stored record, got %d", len(all))
	}
}

func TestBoltRepo_ConcurrentAddsSameNumber(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Add(ctx, samplePatient("HC-RACE"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrDuplicateMedicalRecordNumber):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || rejected != n-1 {
		t.Errorf("expected 1 success and %d rejections, got %d and %d", n-1, succeeded, rejected)
	}
}

func TestBoltRepo_UpdateIsIdempotent(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	p := samplePatient("HC-001")
	id, err := repo.Add(ctx, p)
	if err != nil {
		t.Fatal(err)
	}

	p.Weight = "3300"
	p.DischargeDate = "2024-03-08"
	if err := repo.Update(ctx, p); err != nil {
		t.Fatalf("first Update() error: %v", err)
	}
	once, _ := repo.GetByID(ctx, id)

	if err := repo.Update(ctx, p); err != nil {
		t.Fatalf("second Update() error: %v", err)
	}
	twice, _ := repo.GetByID(ctx, id)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("update not idempotent:\n once  %+v\n twice %+v", once, twice)
	}
	if twice.Weight != "3300" {
		t.Errorf("expected updated weight, got %q", twice.Weight)
	}
}

func TestBoltRepo_UpdatePreservesCreatedAt(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	p := samplePatient("HC-001")
	id, _ := repo.Add(ctx, p)
	original, _ := repo.GetByID(ctx, id)

	replacement := samplePatient("HC-001")
	replacement.ID = id
	if err := repo.Update(ctx, replacement); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, _ := repo.GetByID(ctx, id)
	if !got.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("createdAt changed from %v to %v", original.CreatedAt, got.CreatedAt)
	}
}

func TestBoltRepo_UpdateUpsertsMissingRecord(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	p := samplePatient("HC-050")
	p.ID = 50
	if err := repo.Update(ctx, p); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, err := repo.GetByID(ctx, 50)
	if err != nil || got == nil {
		t.Fatalf("expected upserted record, got %v, %v", got, err)
	}

	next, err := repo.Add(ctx, samplePatient("HC-051"))
	if err != nil {
		t.Fatal(err)
	}
	if next <= 50 {
		t.Errorf("expected new ids after the upserted one, got %d", next)
	}
}

func TestBoltRepo_UpdateRequiresID(t *testing.T) {
	repo := newTestBoltRepo(t)
	if err := repo.Update(context.Background(), samplePatient("HC-001")); !errors.Is(err, ErrIDRequired) {
		t.Errorf("expected ErrIDRequired, got %v", err)
	}
}

func TestBoltRepo_UpdateRejectsTakenNumber(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	repo.Add(ctx, samplePatient("HC-001"))
	p := samplePatient("HC-002")
	id, _ := repo.Add(ctx, p)

	p.MedicalRecordNumber = "HC-001"
	if err := repo.Update(ctx, p); !errors.Is(err, ErrDuplicateMedicalRecordNumber) {
		t.Fatalf("expected ErrDuplicateMedicalRecordNumber, got %v", err)
	}
	got, _ := repo.GetByID(ctx, id)
	if got.MedicalRecordNumber != "HC-002" {
		t.Errorf("expected record unchanged, got %q", got.MedicalRecordNumber)
	}
}

func TestBoltRepo_UpdateReleasesOldNumber(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	p := samplePatient("HC-001")
	repo.Add(ctx, p)
	p.MedicalRecordNumber = "HC-009"
	if err := repo.Update(ctx, p); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if _, err := repo.Add(ctx, samplePatient("HC-001")); err != nil {
		t.Errorf("expected released number to be reusable, got %v", err)
	}
}

func TestBoltRepo_SearchEmptyReturnsAll(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	for _, mrn := range []string{"HC-001", "HC-002", "HC-003"} {
		if _, err := repo.Add(ctx, samplePatient(mrn)); err != nil {
			t.Fatal(err)
		}
	}

	for _, q := range []string{"", "   "} {
		got, err := repo.Search(ctx, q)
		if err != nil {
			t.Fatalf("Search(%q) error: %v", q, err)
		}
		if len(got) != 3 {
			t.Errorf("Search(%q): expected 3 records, got %d", q, len(got))
		}
	}
}

func TestBoltRepo_SearchCaseAndWhitespace(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	garcia := samplePatient("HC-001")
	garcia.FirstName, garcia.LastName = "Juan", "Garcia"
	other := samplePatient("HC-002")
	other.FirstName, other.LastName = "Ana", "Pérez"
	repo.Add(ctx, garcia)
	repo.Add(ctx, other)

	var sets [][]int64
	for _, q := range []string{"Garcia", "garcia", " garcia "} {
		got, err := repo.Search(ctx, q)
		if err != nil {
			t.Fatalf("Search(%q) error: %v", q, err)
		}
		var ids []int64
		for _, p := range got {
			ids = append(ids, p.ID)
		}
		sets = append(sets, ids)
	}
	if len(sets[0]) != 1 || sets[0][0] != garcia.ID {
		t.Fatalf("expected only the Garcia record, got %v", sets[0])
	}
	if !reflect.DeepEqual(sets[0], sets[1]) || !reflect.DeepEqual(sets[0], sets[2]) {
		t.Errorf("expected identical result sets, got %v", sets)
	}
}

func TestBoltRepo_SearchFullNameAndNumber(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	p := samplePatient("HC-2024-001")
	p.FirstName, p.LastName = "Juan", "Garcia"
	repo.Add(ctx, p)
	other := samplePatient("HC-2023-777")
	other.FirstName, other.LastName = "Ana", "Pérez"
	repo.Add(ctx, other)

	got, _ := repo.Search(ctx, "2024")
	if len(got) != 1 || got[0].ID != p.ID {
		t.Errorf("expected number substring match, got %d records", len(got))
	}

	got, _ = repo.Search(ctx, "juan gar")
	if len(got) != 1 || got[0].ID != p.ID {
		t.Errorf("expected full name substring match, got %d records", len(got))
	}

	got, _ = repo.Search(ctx, "hc-")
	if len(got) != 2 {
		t.Errorf("expected both records for a shared prefix, got %d", len(got))
	}

	got, _ = repo.Search(ctx, "zzz")
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %v", got)
	}
}

func TestBoltRepo_SearchInsertionOrder(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	var ids []int64
	for _, mrn := range []string{"HC-003", "HC-001", "HC-002"} {
		id, _ := repo.Add(ctx, samplePatient(mrn))
		ids = append(ids, id)
	}

	got, _ := repo.Search(ctx, "")
	for i, p := range got {
		if p.ID != ids[i] {
			t.Fatalf("expected insertion order %v, got record %d at %d", ids, p.ID, i)
		}
	}
}

func TestBoltRepo_FindByName(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	a := samplePatient("HC-001")
	a.FirstName, a.LastName = "Juan", "Garcia"
	b := samplePatient("HC-002")
	b.FirstName, b.LastName = "Juan", "Garcia"
	c := samplePatient("HC-003")
	c.FirstName, c.LastName = "Juan", "Garciaz"
	for _, p := range []*Patient{a, b, c} {
		if _, err := repo.Add(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.FindByName(ctx, "Juan", "Garcia")
	if err != nil {
		t.Fatalf("FindByName() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 exact matches, got %d", len(got))
	}

	b.LastName = "Lopez"
	if err := repo.Update(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.FindByName(ctx, "Juan", "Garcia")
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("expected the name index to follow the update, got %d records", len(got))
	}
}

func TestBoltRepo_FindByName_NULInName(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()

	odd := samplePatient("HC-001")
	odd.FirstName, odd.LastName = "a\x00b", "c"
	plain := samplePatient("HC-002")
	plain.FirstName, plain.LastName = "a", "b"
	for _, p := range []*Patient{odd, plain} {
		if _, err := repo.Add(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.FindByName(ctx, "a", "b")
	if err != nil {
		t.Fatalf("FindByName() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != plain.ID {
		t.Errorf("expected only the a/b record, got %d records", len(got))
	}

	got, err = repo.FindByName(ctx, "a\x00b", "c")
	if err != nil {
		t.Fatalf("FindByName() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != odd.ID {
		t.Errorf("expected only the NUL-named record, got %d records", len(got))
	}
}

func TestNamePrefix_NoNameExtendsAnother(t *testing.T) {
	pairs := [][2]string{
		{"a", "b"},
		{"a\x00b", "c"},
		{"a", "b\x00"},
		{"ab", ""},
		{"", "ab"},
	}
	for i, x := range pairs {
		for j, y := range pairs {
			if i == j {
				continue
			}
			if bytes.HasPrefix(nameKey(y[0], y[1], db.EncodeID(1)), namePrefix(x[0], x[1])) {
				t.Errorf("key for %q falls under prefix of %q", y, x)
			}
		}
	}
}

func TestBoltRepo_RejectsOversizedIndexedFields(t *testing.T) {
	repo := newTestBoltRepo(t)
	ctx := context.Background()
	huge := strings.Repeat("x", 40*1024)

	p := samplePatient(huge)
	_, err := repo.Add(ctx, p)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for an oversized record number, got %v", err)
	}
	if len(verr.TooLong) != 1 || verr.TooLong[0] != "numeroHistoriaClinica" {
		t.Errorf("unexpected fields %v", verr.TooLong)
	}

	p = samplePatient("HC-001")
	p.FirstName = huge
	if _, err := repo.Add(ctx, p); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for an oversized name, got %v", err)
	}

	p.FirstName = "Lucía"
	id, err := repo.Add(ctx, p)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	p.ID = id
	p.LastName = huge
	if err := repo.Update(ctx, p); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError on update, got %v", err)
	}
	if got, _ := repo.FindByName(ctx, huge, "García"); len(got) != 0 {
		t.Errorf("expected no match for an oversized name, got %d", len(got))
	}
}

func TestBoltRepo_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinica.db")
	ctx := context.Background()

	store := newBoltStore(t, path)
	id, err := NewBoltRepo(store, zerolog.Nop()).Add(ctx, samplePatient("HC-001"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	repo := NewBoltRepo(newBoltStore(t, path), zerolog.Nop())
	got, err := repo.GetByID(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("expected record after reopen, got %v, %v", got, err)
	}
	if _, err := repo.Add(ctx, samplePatient("HC-001")); !errors.Is(err, ErrDuplicateMedicalRecordNumber) {
		t.Errorf("expected unique index to survive reopen, got %v", err)
	}
}

func TestBoltRepo_OpenFailureIsRetried(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	// a regular file where a directory is needed makes every open fail
	if err := os.WriteFile(blocked, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	repo := NewBoltRepo(newBoltStore(t, filepath.Join(blocked, "clinica.db")), zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := repo.Search(context.Background(), ""); err == nil {
			t.Fatalf("attempt %d: expected open failure", i)
		}
	}
}

func TestBoltRepo_Ping(t *testing.T) {
	repo := newTestBoltRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}
