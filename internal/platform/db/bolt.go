package db

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// ErrSchemaTooNew is returned when the file was written by a newer schema
// version than the one requested.
var ErrSchemaTooNew = errors.New("stored schema version is newer than requested")

var (
	metaBucket = []byte("_meta")
	versionKey = []byte("version")
)

// BoltUpgradeFunc brings the buckets from oldVersion (0 for a new file) to the
// requested version. It runs inside the same write transaction that records
// the new version, so it either fully applies or not at all.
type BoltUpgradeFunc func(tx *bbolt.Tx, oldVersion int) error

// BoltOptions describes an embedded database file.
type BoltOptions struct {
	Path    string
	Version int
	Timeout time.Duration
	Upgrade BoltUpgradeFunc
}

// OpenBolt opens (creating if needed) the bbolt file and runs the upgrade
// step when the stored schema version is older than opts.Version.
func OpenBolt(ctx context.Context, opts BoltOptions) (*bbolt.DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if opts.Version < 1 {
		return nil, fmt.Errorf("bolt schema version must be >= 1, got %d", opts.Version)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	bdb, err := bbolt.Open(opts.Path, 0o600, &bbolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		current := 0
		if v := meta.Get(versionKey); v != nil {
			current = int(DecodeID(v))
		}
		if current > opts.Version {
			return fmt.Errorf("%w: stored %d, requested %d", ErrSchemaTooNew, current, opts.Version)
		}
		if current == opts.Version {
			return nil
		}
		if opts.Upgrade != nil {
			if err := opts.Upgrade(tx, current); err != nil {
				return err
			}
		}
		return meta.Put(versionKey, EncodeID(uint64(opts.Version)))
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("upgrade schema of %s: %w", opts.Path, err)
	}

	return bdb, nil
}

// BoltSchemaVersion returns the schema version recorded in the file.
func BoltSchemaVersion(bdb *bbolt.DB) (int, error) {
	var version int
	err := bdb.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return nil
		}
		if v := meta.Get(versionKey); v != nil {
			version = int(DecodeID(v))
		}
		return nil
	})
	return version, err
}

// EncodeID returns the 8-byte big-endian form of id so that keys sort in
// numeric order under a bbolt cursor.
func EncodeID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// DecodeID is the inverse of EncodeID.
func DecodeID(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
