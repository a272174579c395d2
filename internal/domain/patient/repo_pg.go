package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinica/epicrisis/internal/platform/db"
)

const (
	pgUniqueViolation = "23505"
	// mrnConstraint is the unique constraint on numero_historia_clinica
	// declared in migrations/001_pacientes.sql.
	mrnConstraint = "pacientes_numero_historia_clinica_key"
)

type pgRepo struct {
	pool   *db.Lazy[*pgxpool.Pool]
	table  string
	logger zerolog.Logger
}

// NewPGRepo returns a Repository backed by the pacientes table in schema.
// The full record is kept in a JSONB column next to the indexed columns.
func NewPGRepo(pool *db.Lazy[*pgxpool.Pool], schema string, logger zerolog.Logger) (Repository, error) {
	if !db.ValidSchema(schema) {
		return nil, fmt.Errorf("invalid schema name: %q", schema)
	}
	return &pgRepo{
		pool:   pool,
		table:  pgx.Identifier{schema, "pacientes"}.Sanitize(),
		logger: logger.With().Str("component", "patient_store").Str("driver", "postgres").Logger(),
	}, nil
}

const pgCols = `id, datos, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p         Patient
		id        int64
		data      []byte
		createdAt time.Time
	)
	if err := row.Scan(&id, &data, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode record %d: %w", id, err)
	}
	p.ID = id
	p.CreatedAt = createdAt.UTC()
	return &p, nil
}

// recordJSON is the JSONB payload; identity lives in its own columns.
func recordJSON(p *Patient) ([]byte, error) {
	rec := *p
	rec.ID = 0
	return json.Marshal(rec)
}

func (r *pgRepo) Add(ctx context.Context, p *Patient) (int64, error) {
	if err := validateIndexable(p); err != nil {
		return 0, err
	}
	pool, err := r.acquire(ctx, "add")
	if err != nil {
		return 0, err
	}
	data, err := recordJSON(p)
	if err != nil {
		return 0, r.fail("add", err)
	}

	err = pool.QueryRow(ctx, `
		INSERT INTO `+r.table+` (nombre, apellido, numero_historia_clinica, datos)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		p.FirstName, p.LastName, p.MedicalRecordNumber, data).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return 0, r.fail("add", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p.ID, nil
}

func (r *pgRepo) GetByID(ctx context.Context, id int64) (*Patient, error) {
	pool, err := r.acquire(ctx, "get")
	if err != nil {
		return nil, err
	}
	p, err := scanPatient(pool.QueryRow(ctx, `SELECT `+pgCols+` FROM `+r.table+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.fail("get", err)
	}
	return p, nil
}

func (r *pgRepo) Update(ctx context.Context, p *Patient) error {
	if p.ID <= 0 {
		return ErrIDRequired
	}
	if err := validateIndexable(p); err != nil {
		return err
	}
	pool, err := r.acquire(ctx, "update")
	if err != nil {
		return err
	}
	data, err := recordJSON(p)
	if err != nil {
		return r.fail("update", err)
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		// created_at is written only when the row is new
		err := tx.QueryRow(ctx, `
			INSERT INTO `+r.table+` (id, nombre, apellido, numero_historia_clinica, datos)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				nombre = EXCLUDED.nombre,
				apellido = EXCLUDED.apellido,
				numero_historia_clinica = EXCLUDED.numero_historia_clinica,
				datos = EXCLUDED.datos
			RETURNING created_at`,
			p.ID, p.FirstName, p.LastName, p.MedicalRecordNumber, data).Scan(&p.CreatedAt)
		if err != nil {
			return err
		}
		// Only ever move the sequence forward: ids already handed out by
		// nextval to uncommitted inserts must not be issued again.
		_, err = tx.Exec(ctx, `
			SELECT setval(seq, $2)
			FROM (SELECT pg_get_serial_sequence($1, 'id')::regclass AS seq) s
			WHERE $2 > COALESCE(pg_sequence_last_value(seq), 0)`, r.table, p.ID)
		return err
	})
	if err != nil {
		return r.fail("update", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return nil
}

func (r *pgRepo) Search(ctx context.Context, q string) ([]*Patient, error) {
	pool, err := r.acquire(ctx, "search")
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT `+pgCols+` FROM `+r.table+` ORDER BY id`)
	if err != nil {
		return nil, r.fail("search", err)
	}
	defer rows.Close()

	query := NormalizeQuery(q)
	items := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, r.fail("search", err)
		}
		if MatchesQuery(p, query) {
			items = append(items, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail("search", err)
	}
	return items, nil
}

func (r *pgRepo) FindByName(ctx context.Context, firstName, lastName string) ([]*Patient, error) {
	pool, err := r.acquire(ctx, "find_by_name")
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT `+pgCols+` FROM `+r.table+`
		WHERE nombre = $1 AND apellido = $2 ORDER BY id`, firstName, lastName)
	if err != nil {
		return nil, r.fail("find_by_name", err)
	}
	defer rows.Close()

	items := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, r.fail("find_by_name", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail("find_by_name", err)
	}
	return items, nil
}

func (r *pgRepo) Ping(ctx context.Context) error {
	pool, err := r.acquire(ctx, "ping")
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (r *pgRepo) acquire(ctx context.Context, op string) (*pgxpool.Pool, error) {
	pool, err := r.pool.Acquire(ctx)
	if err != nil {
		r.logger.Error().Err(err).Str("op", op).Msg("patient store unavailable")
		return nil, err
	}
	return pool, nil
}

func (r *pgRepo) fail(op string, err error) error {
	if isDuplicateMRN(err) {
		r.logger.Warn().Str("op", op).Msg("duplicate numeroHistoriaClinica rejected")
		return ErrDuplicateMedicalRecordNumber
	}
	r.logger.Error().Err(err).Str("op", op).Msg("patient store operation failed")
	return fmt.Errorf("patient %s: %w", op, err)
}

// isDuplicateMRN reports whether err is a unique violation of the record
// number constraint. Other unique violations, such as the primary key, stay
// storage errors.
func isDuplicateMRN(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == mrnConstraint
}
