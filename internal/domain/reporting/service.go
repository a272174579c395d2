package reporting

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/clinica/epicrisis/internal/domain/patient"
)

// ErrMeasureNotFound is returned for an unknown measure id.
var ErrMeasureNotFound = errors.New("measure not found")

type Service struct {
	patients *patient.Service
	now      func() time.Time
}

func NewService(patients *patient.Service) *Service {
	return &Service{patients: patients, now: time.Now}
}

// EvaluateAll runs every predefined measure over one scan of the roster.
func (s *Service) EvaluateAll(ctx context.Context) ([]MeasureReport, error) {
	roster, err := s.patients.Search(ctx, "")
	if err != nil {
		return nil, err
	}
	now := s.now()
	reports := make([]MeasureReport, 0, len(PredefinedMeasures))
	for _, m := range PredefinedMeasures {
		reports = append(reports, report(m, roster, now))
	}
	return reports, nil
}

func (s *Service) Evaluate(ctx context.Context, id string) (*MeasureReport, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, ErrMeasureNotFound
	}
	roster, err := s.patients.Search(ctx, "")
	if err != nil {
		return nil, err
	}
	r := report(*m, roster, s.now())
	return &r, nil
}

// ExportRoster writes the patients matching q as a workbook and returns how
// many rows were written.
func (s *Service) ExportRoster(ctx context.Context, q string, w io.Writer) (int, error) {
	roster, err := s.patients.Search(ctx, q)
	if err != nil {
		return 0, err
	}
	if err := WriteRoster(w, roster); err != nil {
		return 0, err
	}
	return len(roster), nil
}

func report(m MeasureDefinition, roster []*patient.Patient, now time.Time) MeasureReport {
	return MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: now,
		Results:     m.Evaluate(roster),
	}
}
