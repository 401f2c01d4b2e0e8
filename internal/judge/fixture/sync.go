// Package fixture keeps the local fixture directories in step with packs in object storage.
package fixture

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codejudger/internal/common/cache"
	"codejudger/internal/common/storage"
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	// MarkerFile records the ETag of the pack a directory was extracted from.
	MarkerFile    = ".codejudger-pack"
	lockKeyPrefix = "judge:fixture:lock:"
	pollInterval  = 200 * time.Millisecond
)

// Config describes where packs live.
type Config struct {
	Bucket    string        `yaml:"bucket"`
	KeyPrefix string        `yaml:"keyPrefix"`
	LockTTL   time.Duration `yaml:"lockTTL"`
	LockWait  time.Duration `yaml:"lockWait"`
}

// Syncer downloads problems/<id>.tar.zst into <data dir>/<id>/ when the local
// copy is missing or stale. Workers on different hosts sharing a data dir
// coordinate through a Redis lock.
type Syncer struct {
	root    string
	cfg     Config
	storage storage.ObjectStorage
	lock    cache.LockOps
}

func NewSyncer(root string, cfg Config, store storage.ObjectStorage, lock cache.LockOps) *Syncer {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "problems/"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	return &Syncer{root: root, cfg: cfg, storage: store, lock: lock}
}

// ObjectKey returns the pack key for a problem.
func (s *Syncer) ObjectKey(problemID int64) string {
	return s.cfg.KeyPrefix + strconv.FormatInt(problemID, 10) + ".tar.zst"
}

// Ensure makes <root>/<problemID> current. Problems without a pack in storage
// keep whatever is on disk.
func (s *Syncer) Ensure(ctx context.Context, problemID int64) error {
	if problemID <= 0 {
		return errors.ValidationError("problem_id", "must be positive")
	}
	dir := filepath.Join(s.root, strconv.FormatInt(problemID, 10))
	key := s.ObjectKey(problemID)

	stat, err := s.storage.StatObject(ctx, s.cfg.Bucket, key)
	if err != nil {
		if errors.Is(err, errors.StorageObjectAbsent) {
			return nil
		}
		return errors.Wrapf(err, errors.FixtureSyncFailed, "stat fixture pack %s", key)
	}
	if currentETag(dir) == stat.ETag {
		return nil
	}

	lockKey := lockKeyPrefix + strconv.FormatInt(problemID, 10)
	token := uuid.NewString()
	locked, err := s.lock.TryLock(ctx, lockKey, token, s.cfg.LockTTL)
	if err != nil {
		return errors.Wrapf(err, errors.LockFailed, "acquire fixture lock for problem %d", problemID)
	}
	if !locked {
		return s.waitFor(ctx, dir, stat.ETag)
	}
	defer func() {
		if err := s.lock.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			logger.Warn(ctx, "release fixture lock failed", zap.Int64("problem_id", problemID), zap.Error(err))
		}
	}()

	if currentETag(dir) == stat.ETag {
		return nil
	}
	if err := s.fetch(ctx, key, dir, stat.ETag); err != nil {
		return err
	}
	logger.Info(ctx, "fixture pack synced",
		zap.Int64("problem_id", problemID),
		zap.String("etag", stat.ETag),
		zap.Int64("size", stat.SizeBytes),
	)
	return nil
}

func (s *Syncer) waitFor(ctx context.Context, dir, etag string) error {
	deadline := time.Now().Add(s.cfg.LockWait)
	for {
		if currentETag(dir) == etag {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New(errors.Timeout).WithMessage("timed out waiting for fixture pack sync")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// fetch extracts the pack into a staging directory and swaps it in, so a
// reader never sees a half-written fixture set.
func (s *Syncer) fetch(ctx context.Context, key, dir, etag string) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return errors.Wrapf(err, errors.FixtureSyncFailed, "create data dir")
	}
	staging, err := os.MkdirTemp(s.root, ".staging-")
	if err != nil {
		return errors.Wrapf(err, errors.FixtureSyncFailed, "create staging dir")
	}
	defer os.RemoveAll(staging)

	reader, err := s.storage.GetObject(ctx, s.cfg.Bucket, key)
	if err != nil {
		return errors.Wrapf(err, errors.FixtureSyncFailed, "download fixture pack %s", key)
	}
	defer reader.Close()

	if err := Extract(reader, staging); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(staging, MarkerFile), []byte(etag), 0o644); err != nil {
		return errors.Wrapf(err, errors.FixtureSyncFailed, "write pack marker")
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return errors.Wrapf(err, errors.FixtureSyncFailed, "chmod staging dir")
	}

	old := dir + ".old"
	_ = os.RemoveAll(old)
	if err := os.Rename(dir, old); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.FixtureSyncFailed, "move old fixtures aside")
	}
	if err := os.Rename(staging, dir); err != nil {
		return errors.Wrapf(err, errors.FixtureSyncFailed, "install fixtures")
	}
	_ = os.RemoveAll(old)
	return nil
}

func currentETag(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Extract unpacks a zstd-compressed tar stream into dst. Only directories and
// regular files are materialised; entries escaping dst are rejected.
func Extract(r io.Reader, dst string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return errors.Wrapf(err, errors.FixtureInvalid, "create zstd reader")
	}
	defer zr.Close()

	root := filepath.Clean(dst)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, errors.FixtureInvalid, "read tar entry")
		}
		name := filepath.Clean(hdr.Name)
		if name == "." || name == "" {
			continue
		}
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			return errors.Newf(errors.FixtureInvalid, "tar entry %q escapes the fixture dir", hdr.Name)
		}
		target := filepath.Join(root, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, errors.FixtureSyncFailed, "create dir %s", name)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, fs.FileMode(hdr.Mode).Perm()|0o444); err != nil {
				return err
			}
		}
	}
}

func writeEntry(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, errors.FixtureSyncFailed, "create parent of %s", target)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errors.Wrapf(err, errors.FixtureSyncFailed, "create %s", target)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, errors.FixtureSyncFailed, "write %s", target)
	}
	return f.Close()
}
