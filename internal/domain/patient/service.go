package patient

import (
	"context"
	"strings"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Add validates the required fields and stores a new record. The caller's
// id and createdAt are ignored.
func (s *Service) Add(ctx context.Context, p *Patient) (int64, error) {
	if err := validateRequired(p); err != nil {
		return 0, err
	}
	p.ID = 0
	return s.repo.Add(ctx, p)
}

func (s *Service) Get(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// Update replaces a whole record. There is no partial patch.
func (s *Service) Update(ctx context.Context, p *Patient) error {
	if p.ID <= 0 {
		return ErrIDRequired
	}
	if err := validateRequired(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) Search(ctx context.Context, q string) ([]*Patient, error) {
	return s.repo.Search(ctx, q)
}

func (s *Service) FindByName(ctx context.Context, firstName, lastName string) ([]*Patient, error) {
	return s.repo.FindByName(ctx, strings.TrimSpace(firstName), strings.TrimSpace(lastName))
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
