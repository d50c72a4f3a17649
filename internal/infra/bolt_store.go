package infra

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/policy"
)

const (
	boltDBName = "usagemon.bolt"

	bucketLimits    = "limits"
	bucketWhitelist = "whitelist"
	bucketSamples   = "samples"
	bucketDaemon    = "daemon"
	bucketMeta      = "meta"
)

// DefaultBoltLockTimeout bounds how long an operation waits for the file lock.
const DefaultBoltLockTimeout = 2 * time.Second

// sampleRecord is the msgpack value of a samples bucket entry. The key is the
// big-endian sample time in unix nanoseconds followed by the package id, so a
// cursor walks samples in time order.
type sampleRecord struct {
	PackageID  string `msgpack:"p"`
	CreditedMs int64  `msgpack:"c"`
}

type daemonRecord struct {
	PID           int    `msgpack:"pid"`
	Name          string `msgpack:"name"`
	StartedAt     int64  `msgpack:"started_at"`
	LastHeartbeat int64  `msgpack:"last_heartbeat"`
	AppVersion    string `msgpack:"app_version"`
}

// BoltStore implements domain.Store on a bbolt file with msgpack values.
//
// bbolt holds an exclusive flock while a database is open, so the store opens
// the file per operation: read-only (shared lock) for queries and read-write
// for updates. That lets the CLI edit limits while the daemon is running.
type BoltStore struct {
	path    string
	timeout time.Duration
}

// NewBoltStore creates the bolt file and its buckets in dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &BoltStore{
		path:    filepath.Join(dataDir, boltDBName),
		timeout: DefaultBoltLockTimeout,
	}
	err := s.update(context.Background(), func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLimits, bucketWhitelist, bucketSamples, bucketDaemon, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return seedBoltWhitelist(tx)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func seedBoltWhitelist(tx *bolt.Tx) error {
	meta := tx.Bucket([]byte(bucketMeta))
	if meta.Get([]byte(metaWhitelistSeed)) != nil {
		return nil
	}
	wl := tx.Bucket([]byte(bucketWhitelist))
	for _, e := range policy.DefaultWhitelist() {
		if wl.Get([]byte(e.PackageID)) != nil {
			continue
		}
		if err := putMsgpack(wl, e.PackageID, e); err != nil {
			return err
		}
	}
	return meta.Put([]byte(metaWhitelistSeed), []byte("1"))
}

func (s *BoltStore) open(ctx context.Context, readOnly bool) (*bolt.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: s.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", s.path, err)
	}
	return db, nil
}

func (s *BoltStore) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	db, err := s.open(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (s *BoltStore) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	db, err := s.open(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

func putMsgpack(b *bolt.Bucket, key string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

// --- domain.LimitRegistry ---

// GetLimit returns the limit for pkg or domain.ErrNotFound.
func (s *BoltStore) GetLimit(ctx context.Context, pkg string) (*domain.AppLimit, error) {
	var limit *domain.AppLimit
	err := s.view(ctx, func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketLimits)).Get([]byte(pkg))
		if raw == nil {
			return domain.ErrNotFound
		}
		var l domain.AppLimit
		if err := msgpack.Unmarshal(raw, &l); err != nil {
			return fmt.Errorf("unmarshal limit %s: %w", pkg, err)
		}
		limit = &l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return limit, nil
}

// ListLimits returns every limit ordered by package id.
func (s *BoltStore) ListLimits(ctx context.Context) ([]domain.AppLimit, error) {
	limits := make([]domain.AppLimit, 0)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLimits)).ForEach(func(k, v []byte) error {
			var l domain.AppLimit
			if err := msgpack.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("unmarshal limit %s: %w", k, err)
			}
			limits = append(limits, l)
			return nil
		})
	})
	return limits, err
}

// UpsertLimit inserts or replaces the limit for limit.PackageID.
func (s *BoltStore) UpsertLimit(ctx context.Context, limit domain.AppLimit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	err := s.update(ctx, func(tx *bolt.Tx) error {
		return putMsgpack(tx.Bucket([]byte(bucketLimits)), limit.PackageID, limit)
	})
	if err != nil {
		return fmt.Errorf("upsert limit %s: %w", limit.PackageID, err)
	}
	return nil
}

// SetLimitEnabled toggles an existing limit.
func (s *BoltStore) SetLimitEnabled(ctx context.Context, pkg string, enabled bool) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLimits))
		raw := b.Get([]byte(pkg))
		if raw == nil {
			return domain.ErrNotFound
		}
		var l domain.AppLimit
		if err := msgpack.Unmarshal(raw, &l); err != nil {
			return fmt.Errorf("unmarshal limit %s: %w", pkg, err)
		}
		l.Enabled = enabled
		return putMsgpack(b, pkg, l)
	})
}

// DeleteLimit removes the limit for pkg.
func (s *BoltStore) DeleteLimit(ctx context.Context, pkg string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLimits))
		if b.Get([]byte(pkg)) == nil {
			return domain.ErrNotFound
		}
		return b.Delete([]byte(pkg))
	})
}

// --- domain.WhitelistRegistry ---

// IsWhitelisted reports whether pkg is exempt from enforcement.
func (s *BoltStore) IsWhitelisted(ctx context.Context, pkg string) (bool, error) {
	var found bool
	err := s.view(ctx, func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(bucketWhitelist)).Get([]byte(pkg)) != nil
		return nil
	})
	return found, err
}

// GetWhitelistEntry returns the entry for pkg or domain.ErrNotFound.
func (s *BoltStore) GetWhitelistEntry(ctx context.Context, pkg string) (*domain.WhitelistEntry, error) {
	var entry *domain.WhitelistEntry
	err := s.view(ctx, func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketWhitelist)).Get([]byte(pkg))
		if raw == nil {
			return domain.ErrNotFound
		}
		var e domain.WhitelistEntry
		if err := msgpack.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("unmarshal whitelist entry %s: %w", pkg, err)
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListWhitelist returns every entry ordered by package id.
func (s *BoltStore) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	entries := make([]domain.WhitelistEntry, 0)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketWhitelist)).ForEach(func(k, v []byte) error {
			var e domain.WhitelistEntry
			if err := msgpack.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal whitelist entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// AddWhitelist inserts or replaces a whitelist entry.
func (s *BoltStore) AddWhitelist(ctx context.Context, entry domain.WhitelistEntry) error {
	if entry.PackageID == "" {
		return fmt.Errorf("add whitelist: package id is required")
	}
	err := s.update(ctx, func(tx *bolt.Tx) error {
		return putMsgpack(tx.Bucket([]byte(bucketWhitelist)), entry.PackageID, entry)
	})
	if err != nil {
		return fmt.Errorf("add whitelist %s: %w", entry.PackageID, err)
	}
	return nil
}

// RemoveWhitelist deletes the entry for pkg.
func (s *BoltStore) RemoveWhitelist(ctx context.Context, pkg string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketWhitelist))
		if b.Get([]byte(pkg)) == nil {
			return domain.ErrNotFound
		}
		return b.Delete([]byte(pkg))
	})
}

// --- domain.UsageLog / domain.UsageSource ---

func sampleKey(at time.Time, pkg string) []byte {
	key := make([]byte, 8, 8+len(pkg))
	binary.BigEndian.PutUint64(key, uint64(at.UnixNano()))
	return append(key, pkg...)
}

func timePrefix(t time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return key
}

// walkSamples visits samples with start <= time <= end in time order.
func walkSamples(tx *bolt.Tx, start, end time.Time, fn func(at time.Time, rec sampleRecord) error) error {
	c := tx.Bucket([]byte(bucketSamples)).Cursor()
	lo, hi := timePrefix(start), timePrefix(end)
	for k, v := c.Seek(lo); k != nil && len(k) >= 8 && bytes.Compare(k[:8], hi) <= 0; k, v = c.Next() {
		var rec sampleRecord
		if err := msgpack.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("unmarshal sample: %w", err)
		}
		at := time.Unix(0, int64(binary.BigEndian.Uint64(k[:8])))
		if err := fn(at, rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordSample appends one foreground sample.
func (s *BoltStore) RecordSample(ctx context.Context, pkg string, at time.Time, credited time.Duration) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		data, err := msgpack.Marshal(sampleRecord{PackageID: pkg, CreditedMs: credited.Milliseconds()})
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketSamples)).Put(sampleKey(at, pkg), data)
	})
	if err != nil {
		return fmt.Errorf("record sample %s: %w", pkg, err)
	}
	return nil
}

// PruneSamples deletes samples taken before the cutoff.
func (s *BoltStore) PruneSamples(ctx context.Context, before time.Time) (int, error) {
	var pruned int
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSamples))
		cutoff := timePrefix(before)
		var toDelete [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], cutoff) < 0; k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			toDelete = append(toDelete, key)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return pruned, nil
}

// QueryForegroundInterval returns each package sampled in [start, end] with
// its latest sample time.
func (s *BoltStore) QueryForegroundInterval(ctx context.Context, start, end time.Time) ([]domain.ForegroundRecord, error) {
	latest := make(map[string]time.Time)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return walkSamples(tx, start, end, func(at time.Time, rec sampleRecord) error {
			if at.After(latest[rec.PackageID]) {
				latest[rec.PackageID] = at
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query foreground interval: %w", err)
	}

	records := make([]domain.ForegroundRecord, 0, len(latest))
	for pkg, at := range latest {
		records = append(records, domain.ForegroundRecord{PackageID: pkg, LastUsedAt: at})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PackageID < records[j].PackageID })
	return records, nil
}

// QueryDailyUsage sums the time credited to pkg by samples in [start, end].
func (s *BoltStore) QueryDailyUsage(ctx context.Context, pkg string, start, end time.Time) (time.Duration, error) {
	var totalMs int64
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return walkSamples(tx, start, end, func(_ time.Time, rec sampleRecord) error {
			if rec.PackageID == pkg {
				totalMs += rec.CreditedMs
			}
			return ctx.Err()
		})
	})
	if err != nil {
		return 0, fmt.Errorf("query daily usage %s: %w", pkg, err)
	}
	return time.Duration(totalMs) * time.Millisecond, nil
}

// --- domain.DaemonRegistry ---

// Register saves the daemon's PID and process name.
func (s *BoltStore) Register(daemon domain.Daemon) error {
	now := time.Now().Unix()
	rec := daemonRecord{
		PID:           daemon.PID,
		Name:          daemon.Name,
		StartedAt:     now,
		LastHeartbeat: now,
		AppVersion:    daemon.AppVersion,
	}
	if !daemon.StartedAt.IsZero() {
		rec.StartedAt = daemon.StartedAt.Unix()
	}
	return s.update(context.Background(), func(tx *bolt.Tx) error {
		return putMsgpack(tx.Bucket([]byte(bucketDaemon)), string(daemon.Role), rec)
	})
}

// UpdateHeartbeat updates the liveness timestamp of a registered daemon.
func (s *BoltStore) UpdateHeartbeat(role domain.DaemonRole) error {
	return s.update(context.Background(), func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDaemon))
		raw := b.Get([]byte(role))
		if raw == nil {
			return fmt.Errorf("daemon %s not registered", role)
		}
		var rec daemonRecord
		if err := msgpack.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal daemon %s: %w", role, err)
		}
		rec.LastHeartbeat = time.Now().Unix()
		return putMsgpack(b, string(role), rec)
	})
}

// GetAll returns the registered watcher, or nil when none is registered.
func (s *BoltStore) GetAll() (*domain.RegistryEntry, error) {
	var entry *domain.RegistryEntry
	err := s.view(context.Background(), func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketDaemon)).Get([]byte(domain.RoleWatcher))
		if raw == nil {
			return nil
		}
		var rec daemonRecord
		if err := msgpack.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal watcher: %w", err)
		}
		entry = &domain.RegistryEntry{
			WatcherPID:    rec.PID,
			WatcherName:   rec.Name,
			StartedAt:     rec.StartedAt,
			LastHeartbeat: rec.LastHeartbeat,
			AppVersion:    rec.AppVersion,
		}
		return nil
	})
	return entry, err
}

// Clear removes daemon state. Limits, whitelist and samples are kept.
func (s *BoltStore) Clear() error {
	return s.update(context.Background(), func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketDaemon)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketDaemon))
		return err
	})
}

// GetRegistryPath returns the bolt file path.
func (s *BoltStore) GetRegistryPath() string {
	return s.path
}

// Close is a no-op; the file is only open for the duration of each operation.
func (s *BoltStore) Close() error {
	return nil
}

var _ domain.Store = (*BoltStore)(nil)
