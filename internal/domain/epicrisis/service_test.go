package epicrisis

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinica/epicrisis/internal/domain/patient"
)

type fakeRepo struct {
	records map[int64]*patient.Patient
}

func (f *fakeRepo) Add(_ context.Context, p *patient.Patient) (int64, error) {
	p.ID = int64(len(f.records) + 1)
	f.records[p.ID] = p
	return p.ID, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id int64) (*patient.Patient, error) {
	return f.records[id], nil
}

func (f *fakeRepo) Update(_ context.Context, p *patient.Patient) error {
	f.records[p.ID] = p
	return nil
}

func (f *fakeRepo) Search(_ context.Context, q string) ([]*patient.Patient, error) {
	var out []*patient.Patient
	for _, p := range f.records {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRepo) FindByName(_ context.Context, firstName, lastName string) ([]*patient.Patient, error) {
	return nil, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return nil }

func newTestService() *Service {
	repo := &fakeRepo{records: map[int64]*patient.Patient{3: fullPatient()}}
	svc := NewService(patient.NewService(repo), "Hospital Central")
	svc.now = func() time.Time { return issued }
	return svc
}

func TestService_Document(t *testing.T) {
	doc, err := newTestService().Document(context.Background(), 3)
	if err != nil {
		t.Fatalf("Document() error: %v", err)
	}
	if doc.PatientID != 3 || !doc.IssuedAt.Equal(issued) {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestService_Document_NotFound(t *testing.T) {
	_, err := newTestService().Document(context.Background(), 99)
	if !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestService_WritePDF(t *testing.T) {
	var buf bytes.Buffer
	if err := newTestService().WritePDF(context.Background(), 3, &buf); err != nil {
		t.Fatalf("WritePDF() error: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Errorf("expected PDF header, got %q", buf.Bytes()[:min(8, buf.Len())])
	}
}
