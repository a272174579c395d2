package patient

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/clinica/epicrisis/internal/platform/db"
)

var (
	bucketPatients = []byte("pacientes")
	bucketByName   = []byte("pacientes.nombreApellido")
	bucketByMRN    = []byte("pacientes.numeroHistoriaClinica")
)

// BoltOptions describes the embedded patient database at path.
func BoltOptions(path string, timeout time.Duration) db.BoltOptions {
	return db.BoltOptions{
		Path:    path,
		Version: SchemaVersion,
		Timeout: timeout,
		Upgrade: upgradeBolt,
	}
}

// upgradeBolt creates the collection and its two indexes. Existing buckets
// are left untouched.
func upgradeBolt(tx *bbolt.Tx, oldVersion int) error {
	for _, name := range [][]byte{bucketPatients, bucketByName, bucketByMRN} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("create bucket %s: %w", name, err)
		}
	}
	return nil
}

type boltRepo struct {
	store  *db.Lazy[*bbolt.DB]
	logger zerolog.Logger
	now    func() time.Time
}

// NewBoltRepo returns a Repository backed by the embedded bbolt file behind
// store.
func NewBoltRepo(store *db.Lazy[*bbolt.DB], logger zerolog.Logger) Repository {
	return &boltRepo{
		store:  store,
		logger: logger.With().Str("component", "patient_store").Str("driver", "bolt").Logger(),
		now:    time.Now,
	}
}

func (r *boltRepo) Add(ctx context.Context, p *Patient) (int64, error) {
	if err := validateIndexable(p); err != nil {
		return 0, err
	}
	bdb, err := r.acquire(ctx, "add")
	if err != nil {
		return 0, err
	}

	rec := *p
	rec.CreatedAt = r.now().UTC()
	err = bdb.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketPatients)
		seq, err := records.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = int64(seq)
		return putRecord(tx, &rec)
	})
	if err != nil {
		return 0, r.fail("add", err)
	}

	p.ID = rec.ID
	p.CreatedAt = rec.CreatedAt
	return rec.ID, nil
}

func (r *boltRepo) GetByID(ctx context.Context, id int64) (*Patient, error) {
	bdb, err := r.acquire(ctx, "get")
	if err != nil {
		return nil, err
	}

	var p *Patient
	err = bdb.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPatients).Get(db.EncodeID(uint64(id)))
		if data == nil {
			return nil
		}
		p, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, r.fail("get", err)
	}
	return p, nil
}

func (r *boltRepo) Update(ctx context.Context, p *Patient) error {
	if p.ID <= 0 {
		return ErrIDRequired
	}
	if err := validateIndexable(p); err != nil {
		return err
	}
	bdb, err := r.acquire(ctx, "update")
	if err != nil {
		return err
	}

	rec := *p
	err = bdb.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketPatients)
		key := db.EncodeID(uint64(rec.ID))

		rec.CreatedAt = r.now().UTC()
		if data := records.Get(key); data != nil {
			old, err := decodeRecord(data)
			if err != nil {
				return err
			}
			rec.CreatedAt = old.CreatedAt
			if err := deleteIndexes(tx, old); err != nil {
				return err
			}
		}

		if err := putRecord(tx, &rec); err != nil {
			return err
		}
		// keep NextSequence ahead of explicitly chosen ids
		if uint64(rec.ID) > records.Sequence() {
			return records.SetSequence(uint64(rec.ID))
		}
		return nil
	})
	if err != nil {
		return r.fail("update", err)
	}

	p.CreatedAt = rec.CreatedAt
	return nil
}

func (r *boltRepo) Search(ctx context.Context, q string) ([]*Patient, error) {
	bdb, err := r.acquire(ctx, "search")
	if err != nil {
		return nil, err
	}

	query := NormalizeQuery(q)
	items := []*Patient{}
	err = bdb.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPatients).ForEach(func(_, data []byte) error {
			p, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if MatchesQuery(p, query) {
				items = append(items, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, r.fail("search", err)
	}
	return items, nil
}

// FindByName returns the records whose given and family names are exactly
// firstName and lastName, using the compound name index.
func (r *boltRepo) FindByName(ctx context.Context, firstName, lastName string) ([]*Patient, error) {
	bdb, err := r.acquire(ctx, "find_by_name")
	if err != nil {
		return nil, err
	}

	if len(firstName) > MaxFieldLength || len(lastName) > MaxFieldLength {
		return []*Patient{}, nil
	}
	prefix := namePrefix(firstName, lastName)
	items := []*Patient{}
	err = bdb.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketPatients)
		c := tx.Bucket(bucketByName).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id := k[len(prefix):]
			data := records.Get(id)
			if data == nil {
				return fmt.Errorf("name index points at missing record %d", db.DecodeID(id))
			}
			p, err := decodeRecord(data)
			if err != nil {
				return err
			}
			items = append(items, p)
		}
		return nil
	})
	if err != nil {
		return nil, r.fail("find_by_name", err)
	}
	return items, nil
}

func (r *boltRepo) Ping(ctx context.Context) error {
	bdb, err := r.acquire(ctx, "ping")
	if err != nil {
		return err
	}
	return bdb.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketPatients) == nil {
			return fmt.Errorf("bucket %s missing", bucketPatients)
		}
		return nil
	})
}

func (r *boltRepo) acquire(ctx context.Context, op string) (*bbolt.DB, error) {
	bdb, err := r.store.Acquire(ctx)
	if err != nil {
		r.logger.Error().Err(err).Str("op", op).Msg("patient store unavailable")
		return nil, err
	}
	return bdb, nil
}

func (r *boltRepo) fail(op string, err error) error {
	if errors.Is(err, ErrDuplicateMedicalRecordNumber) {
		r.logger.Warn().Str("op", op).Msg("duplicate numeroHistoriaClinica rejected")
		return err
	}
	r.logger.Error().Err(err).Str("op", op).Msg("patient store operation failed")
	return fmt.Errorf("patient %s: %w", op, err)
}

// putRecord writes rec and its index entries. The unique index is checked
// inside the same transaction so a losing concurrent writer is rejected.
func putRecord(tx *bbolt.Tx, rec *Patient) error {
	key := db.EncodeID(uint64(rec.ID))

	if rec.MedicalRecordNumber != "" {
		byMRN := tx.Bucket(bucketByMRN)
		if owner := byMRN.Get([]byte(rec.MedicalRecordNumber)); owner != nil && !bytes.Equal(owner, key) {
			return ErrDuplicateMedicalRecordNumber
		}
		if err := byMRN.Put([]byte(rec.MedicalRecordNumber), key); err != nil {
			return err
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := tx.Bucket(bucketPatients).Put(key, data); err != nil {
		return err
	}
	return tx.Bucket(bucketByName).Put(nameKey(rec.FirstName, rec.LastName, key), nil)
}

func deleteIndexes(tx *bbolt.Tx, old *Patient) error {
	key := db.EncodeID(uint64(old.ID))
	if err := tx.Bucket(bucketByName).Delete(nameKey(old.FirstName, old.LastName, key)); err != nil {
		return err
	}
	if old.MedicalRecordNumber == "" {
		return nil
	}
	byMRN := tx.Bucket(bucketByMRN)
	if bytes.Equal(byMRN.Get([]byte(old.MedicalRecordNumber)), key) {
		return byMRN.Delete([]byte(old.MedicalRecordNumber))
	}
	return nil
}

func decodeRecord(data []byte) (*Patient, error) {
	var p Patient
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &p, nil
}

// namePrefix encodes the compound index key as uvarint(len) + bytes for each
// name, so no name can extend into another name's prefix whatever bytes it
// contains.
func namePrefix(firstName, lastName string) []byte {
	b := make([]byte, 0, len(firstName)+len(lastName)+2*binary.MaxVarintLen64)
	b = binary.AppendUvarint(b, uint64(len(firstName)))
	b = append(b, firstName...)
	b = binary.AppendUvarint(b, uint64(len(lastName)))
	return append(b, lastName...)
}

func nameKey(firstName, lastName string, id []byte) []byte {
	return append(namePrefix(firstName, lastName), id...)
}
