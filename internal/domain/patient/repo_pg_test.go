package patient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinica/epicrisis/internal/platform/db"
	"github.com/clinica/epicrisis/migrations"
)

// newTestPGRepo migrates a fresh schema in the database named by
// EPICRISIS_TEST_DATABASE_URL and drops it when the test ends.
func newTestPGRepo(t *testing.T) Repository {
	t.Helper()
	url := os.Getenv("EPICRISIS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EPICRISIS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := fmt.Sprintf("epicrisis_test_%d", time.Now().UnixNano())

	store := db.NewLazy("postgres", func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := db.NewPool(ctx, url, 4, 1)
		if err != nil {
			return nil, err
		}
		if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}, func(pool *pgxpool.Pool) error {
		_, err := pool.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		pool.Close()
		return err
	}, zerolog.Nop())
	t.Cleanup(func() { store.Close() })

	repo, err := NewPGRepo(store, schema, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	return repo
}

func TestNewPGRepo_InvalidSchema(t *testing.T) {
	if _, err := NewPGRepo(nil, "bad;schema", zerolog.Nop()); err == nil {
		t.Error("expected error for invalid schema name")
	}
}

func TestPGRepo_AddGetDuplicate(t *testing.T) {
	repo := newTestPGRepo(t)
	ctx := context.Background()

	id, err := repo.Add(ctx, samplePatient("HC-001"))
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	got, err := repo.GetByID(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("GetByID() = %v, %v", got, err)
	}
	if got.FirstName != "Lucía" || got.MedicalRecordNumber != "HC-001" || !got.HepBVaccinated {
		t.Errorf("unexpected record %+v", got)
	}

	if _, err := repo.Add(ctx, samplePatient("HC-001")); !errors.Is(err, ErrDuplicateMedicalRecordNumber) {
		t.Errorf("expected ErrDuplicateMedicalRecordNumber, got %v", err)
	}

	missing, err := repo.GetByID(ctx, id+1000)
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for a missing record, got %v, %v", missing, err)
	}
}

func TestPGRepo_UpdateAndSearch(t *testing.T) {
	repo := newTestPGRepo(t)
	ctx := context.Background()

	p := samplePatient("HC-2024-001")
	id, err := repo.Add(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	created := p.CreatedAt

	p.Weight = "3300"
	if err := repo.Update(ctx, p); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, _ := repo.GetByID(ctx, id)
	if got.Weight != "3300" {
		t.Errorf("expected updated weight, got %q", got.Weight)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("createdAt changed from %v to %v", created, got.CreatedAt)
	}

	upserted := samplePatient("HC-500")
	upserted.ID = id + 500
	if err := repo.Update(ctx, upserted); err != nil {
		t.Fatalf("upsert error: %v", err)
	}
	next, err := repo.Add(ctx, samplePatient("HC-501"))
	if err != nil {
		t.Fatal(err)
	}
	if next <= upserted.ID {
		t.Errorf("expected sequence past %d, got %d", upserted.ID, next)
	}

	results, err := repo.Search(ctx, " 2024 ")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Errorf("expected the 2024 record only, got %d records", len(results))
	}

	all, _ := repo.Search(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}

	byName, err := repo.FindByName(ctx, "Lucía", "García")
	if err != nil {
		t.Fatalf("FindByName() error: %v", err)
	}
	if len(byName) != 3 {
		t.Errorf("expected 3 name matches, got %d", len(byName))
	}
}

func TestIsDuplicateMRN(t *testing.T) {
	mrn := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: mrnConstraint}
	if !isDuplicateMRN(mrn) {
		t.Error("record number violation should map to the duplicate sentinel")
	}
	if !isDuplicateMRN(fmt.Errorf("insert: %w", mrn)) {
		t.Error("wrapped record number violation should map to the duplicate sentinel")
	}

	pkey := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "pacientes_pkey"}
	if isDuplicateMRN(pkey) {
		t.Error("primary key violation must not be reported as a duplicate record number")
	}
	if isDuplicateMRN(&pgconn.PgError{Code: "23503", ConstraintName: mrnConstraint}) {
		t.Error("non-unique violations must not map to the duplicate sentinel")
	}
	if isDuplicateMRN(errors.New("boom")) {
		t.Error("plain errors must not map to the duplicate sentinel")
	}
}

func TestPGRepo_UpdateNeverLowersSequence(t *testing.T) {
	repo := newTestPGRepo(t)
	ctx := context.Background()

	for _, mrn := range []string{"HC-001", "HC-002", "HC-003"} {
		if _, err := repo.Add(ctx, samplePatient(mrn)); err != nil {
			t.Fatalf("Add(%s) error: %v", mrn, err)
		}
	}

	old := samplePatient("HC-001")
	old.ID = 1
	if err := repo.Update(ctx, old); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	id, err := repo.Add(ctx, samplePatient("HC-004"))
	if err != nil {
		t.Fatalf("Add() after update error: %v", err)
	}
	if id != 4 {
		t.Errorf("expected id 4 after updating an older record, got %d", id)
	}

	ahead := samplePatient("HC-010")
	ahead.ID = 10
	if err := repo.Update(ctx, ahead); err != nil {
		t.Fatalf("Update() upsert error: %v", err)
	}
	id, err = repo.Add(ctx, samplePatient("HC-011"))
	if err != nil {
		t.Fatalf("Add() after upsert error: %v", err)
	}
	if id != 11 {
		t.Errorf("expected id 11 after upserting id 10, got %d", id)
	}
}
