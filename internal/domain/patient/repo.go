package patient

import "context"

// Repository is the patient store contract. Every operation opens the
// underlying store on first use.
type Repository interface {
	// Add assigns id and createdAt and returns the new id.
	Add(ctx context.Context, p *Patient) (int64, error)
	// GetByID returns nil, nil when no record has the id.
	GetByID(ctx context.Context, id int64) (*Patient, error)
	// Update replaces the record stored under p.ID, inserting it if absent.
	Update(ctx context.Context, p *Patient) error
	// Search returns the records matching q in storage order.
	Search(ctx context.Context, q string) ([]*Patient, error)
	// FindByName returns exact given/family name matches via the name index.
	FindByName(ctx context.Context, firstName, lastName string) ([]*Patient, error)
	Ping(ctx context.Context) error
}
