package epicrisis

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/clinica/epicrisis/internal/domain/patient"
)

// ErrPatientNotFound is returned when no record has the requested id.
var ErrPatientNotFound = errors.New("patient not found")

type Service struct {
	patients *patient.Service
	clinic   string
	now      func() time.Time
}

func NewService(patients *patient.Service, clinic string) *Service {
	return &Service{patients: patients, clinic: clinic, now: time.Now}
}

func (s *Service) Document(ctx context.Context, id int64) (*Document, error) {
	p, err := s.patients.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPatientNotFound
	}
	return Build(p, s.clinic, s.now()), nil
}

func (s *Service) WritePDF(ctx context.Context, id int64, w io.Writer) error {
	doc, err := s.Document(ctx, id)
	if err != nil {
		return err
	}
	return WritePDF(doc, w)
}
