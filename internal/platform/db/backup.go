package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
)

const (
	backupPrefix     = "clinica-"
	backupSuffix     = ".db"
	backupTimeLayout = "20060102T150405"
)

// Backup writes a consistent snapshot of bdb into dir and prunes older
// snapshots so that at most keep remain. keep <= 0 disables pruning.
func Backup(bdb *bbolt.DB, dir string, keep int, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := backupPrefix + now.UTC().Format(backupTimeLayout) + backupSuffix
	path := filepath.Join(dir, name)

	err := bdb.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(path, 0o600)
	})
	if err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", path, err)
	}

	if keep > 0 {
		if err := pruneBackups(dir, keep); err != nil {
			return path, err
		}
	}
	return path, nil
}

// ListBackups returns the snapshot file names in dir, oldest first.
func ListBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		names = append(names, name)
	}
	// the timestamp layout sorts lexically
	sort.Strings(names)
	return names, nil
}

func pruneBackups(dir string, keep int) error {
	names, err := ListBackups(dir)
	if err != nil {
		return err
	}
	for len(names) > keep {
		if err := os.Remove(filepath.Join(dir, names[0])); err != nil {
			return fmt.Errorf("prune backup %s: %w", names[0], err)
		}
		names = names[1:]
	}
	return nil
}

// BackupJob snapshots the embedded store on a fixed interval.
type BackupJob struct {
	store  *Lazy[*bbolt.DB]
	dir    string
	keep   int
	logger zerolog.Logger
	now    func() time.Time

	scheduler *gocron.Scheduler
}

func NewBackupJob(store *Lazy[*bbolt.DB], dir string, keep int, logger zerolog.Logger) *BackupJob {
	return &BackupJob{
		store:  store,
		dir:    dir,
		keep:   keep,
		logger: logger.With().Str("component", "backup").Logger(),
		now:    time.Now,
	}
}

// Run takes one snapshot. It opens the store if it is not open yet.
func (j *BackupJob) Run(ctx context.Context) (string, error) {
	bdb, err := j.store.Acquire(ctx)
	if err != nil {
		return "", err
	}
	path, err := Backup(bdb, j.dir, j.keep, j.now())
	if err != nil {
		j.logger.Error().Err(err).Str("dir", j.dir).Msg("backup failed")
		return path, err
	}
	j.logger.Info().Str("file", path).Msg("backup written")
	return path, nil
}

// Start schedules Run every interval. The first run happens one interval
// from now.
func (j *BackupJob) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("backup interval must be positive, got %s", interval)
	}
	s := gocron.NewScheduler(time.Local)
	_, err := s.Every(interval).WaitForSchedule().Do(func() {
		j.Run(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule backup: %w", err)
	}
	s.StartAsync()
	j.scheduler = s
	j.logger.Info().Dur("interval", interval).Str("dir", j.dir).Msg("backup schedule started")
	return nil
}

// Stop halts the schedule. It is a no-op if Start was never called.
func (j *BackupJob) Stop() {
	if j.scheduler != nil {
		j.scheduler.Stop()
		j.scheduler = nil
	}
}
