// Package serialnumber implements a standalone, file-backed sequence
// number adapter: a per-id counter persisted as a small JSON document,
// with optional batch caching to reduce file round-trips, matching the
// HiveNet-std caller formatter's need for globSeqNum/sysSeqNum/infSeqNum
// values.
package serialnumber

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"microcore/pkg/apperror"
)

// Info is one sequence's persisted configuration and current value.
type Info struct {
	ID               string `json:"id"`
	CurrentNum       int64  `json:"current_num"`
	StartNum         int64  `json:"start_num"`
	MaxNum           int64  `json:"max_num"`
	Repeat           bool   `json:"repeat"`
	DefaultBatchSize int64  `json:"default_batch_size"`
}

func (info Info) withDefaults() Info {
	if info.StartNum == 0 {
		info.StartNum = 1
	}
	if info.CurrentNum == 0 {
		info.CurrentNum = info.StartNum
	}
	if info.MaxNum == 0 {
		info.MaxNum = math.MaxInt64
	}
	if info.DefaultBatchSize == 0 {
		info.DefaultBatchSize = 10
	}
	return info
}

// FileAdapter is a standalone, single-host sequence adapter: each id's
// current value lives in its own JSON file under storePath, guarded by a
// create-exclusive lockfile so multiple processes on the same host don't
// race each other.
type FileAdapter struct {
	storePath string
	overtime  time.Duration
	waitDelay time.Duration

	mu     sync.Mutex
	caches map[string]*batchCache
}

type batchCache struct {
	next      int64
	remaining int64
}

// NewFileAdapter builds a FileAdapter rooted at storePath, creating the
// directory if needed. overtime bounds how long to wait for a lockfile
// before giving up; waitDelay is the retry interval while waiting.
func NewFileAdapter(storePath string, overtime, waitDelay time.Duration) (*FileAdapter, error) {
	if overtime <= 0 {
		overtime = 3 * time.Second
	}
	if waitDelay <= 0 {
		waitDelay = 100 * time.Millisecond
	}
	if err := os.MkdirAll(storePath, 0o755); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to create serial number store directory")
	}
	return &FileAdapter{
		storePath: storePath,
		overtime:  overtime,
		waitDelay: waitDelay,
		caches:    make(map[string]*batchCache),
	}, nil
}

// SetSerialInfo creates or resets a sequence's base configuration; it does
// not touch any in-memory cached batch, which is dropped so the next call
// reloads from the file.
func (a *FileAdapter) SetSerialInfo(ctx context.Context, info Info) error {
	info = info.withDefaults()
	if info.CurrentNum < info.StartNum || info.CurrentNum > info.MaxNum {
		return apperror.NewWithField(apperror.CodeInvalidArgument, "current_num is not in the area", "current_num")
	}

	if err := a.withLock(info.ID, func() error {
		return a.writeInfo(info)
	}); err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.caches, info.ID)
	a.mu.Unlock()
	return nil
}

// RemoveSerialInfo deletes a sequence's persisted state and any cached
// batch.
func (a *FileAdapter) RemoveSerialInfo(ctx context.Context, id string) error {
	err := a.withLock(id, func() error {
		path := a.infoPath(id)
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return nil
		}
		return os.Remove(path)
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.caches, id)
	a.mu.Unlock()
	return nil
}

// GetSerialInfo returns a sequence's persisted configuration, or nil if it
// has never been set.
func (a *FileAdapter) GetSerialInfo(ctx context.Context, id string) (*Info, error) {
	var info *Info
	err := a.withLock(id, func() error {
		loaded, err := a.readInfo(id)
		if err != nil {
			return err
		}
		info = loaded
		return nil
	})
	return info, err
}

// GetCurrentNum returns a sequence's current value without consuming one.
func (a *FileAdapter) GetCurrentNum(ctx context.Context, id string) (int64, error) {
	info, err := a.GetSerialInfo(ctx, id)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, apperror.NewWithField(apperror.CodeNotFound, "serial number info not exists", "id")
	}
	return info.CurrentNum, nil
}

// GetSerialNum consumes and returns exactly one value from the sequence,
// wrapping to StartNum when the sequence is configured to repeat past
// MaxNum.
func (a *FileAdapter) GetSerialNum(ctx context.Context, id string) (int64, error) {
	start, _, err := a.GetSerialBatch(ctx, id, 1)
	return start, err
}

// GetSerialBatch reserves a contiguous block of batchSize values (or the
// sequence's configured default batch size when batchSize <= 0) and
// returns the inclusive [start, end] range. Every call hits the backing
// file exactly once; NextSerial layers an in-memory cache on top of this
// for the common one-at-a-time case.
func (a *FileAdapter) GetSerialBatch(ctx context.Context, id string, batchSize int64) (start, end int64, err error) {
	err = a.withLock(id, func() error {
		info, loadErr := a.readInfo(id)
		if loadErr != nil {
			return loadErr
		}
		if info == nil {
			return apperror.NewWithField(apperror.CodeNotFound, "serial number info not exists", "id")
		}

		size := batchSize
		if size <= 0 {
			size = info.DefaultBatchSize
		}

		current := info.CurrentNum
		next := current + size
		if next > info.MaxNum {
			if !info.Repeat {
				return apperror.NewWithField(apperror.CodeInvalidArgument, "current_num is out of the area", "current_num")
			}
			next = info.StartNum
		}

		info.CurrentNum = next
		if writeErr := a.writeInfo(*info); writeErr != nil {
			return writeErr
		}

		start = current
		if next > current {
			end = next - 1
		} else {
			end = info.MaxNum
		}
		return nil
	})
	return start, end, err
}

// NextSerial returns the next value of id as a zero-padded decimal string
// at least width digits wide, satisfying formatter.SerialNumberProvider.
// Values are served from an in-memory batch cache (refilled one
// DefaultBatchSize block at a time) so repeated calls don't each pay a
// file round-trip.
func (a *FileAdapter) NextSerial(ctx context.Context, id string, width int) (string, error) {
	n, err := a.next(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", width, n), nil
}

func (a *FileAdapter) next(ctx context.Context, id string) (int64, error) {
	a.mu.Lock()
	cache, ok := a.caches[id]
	if ok && cache.remaining > 0 {
		n := cache.next
		cache.next++
		cache.remaining--
		a.mu.Unlock()
		return n, nil
	}
	a.mu.Unlock()

	start, end, err := a.GetSerialBatch(ctx, id, 0)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	size := end - start + 1
	a.caches[id] = &batchCache{next: start + 1, remaining: size - 1}
	return start, nil
}

// CacheSerialBatch eagerly reserves a batch of size batchSize into the
// in-memory cache, so the next batchSize calls to NextSerial need no file
// access at all.
func (a *FileAdapter) CacheSerialBatch(ctx context.Context, id string, batchSize int64) error {
	start, end, err := a.GetSerialBatch(ctx, id, batchSize)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.caches[id] = &batchCache{next: start, remaining: end - start + 1}
	a.mu.Unlock()
	return nil
}

func (a *FileAdapter) infoPath(id string) string {
	return filepath.Join(a.storePath, id+".json")
}

func (a *FileAdapter) lockPath(id string) string {
	return a.infoPath(id) + ".lock"
}

func (a *FileAdapter) readInfo(id string) (*Info, error) {
	data, err := os.ReadFile(a.infoPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to read serial number info file")
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to decode serial number info file")
	}
	return &info, nil
}

func (a *FileAdapter) writeInfo(info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to encode serial number info")
	}
	if err := os.WriteFile(a.infoPath(info.ID), data, 0o644); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to write serial number info file")
	}
	return nil
}

// withLock runs fn while holding id's create-exclusive lockfile, retrying
// at waitDelay intervals until overtime elapses.
func (a *FileAdapter) withLock(id string, fn func() error) error {
	path := a.lockPath(id)
	deadline := time.Now().Add(a.overtime)

	for {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			file.Close()
			break
		}
		if !os.IsExist(err) {
			return apperror.Wrap(err, apperror.CodeInternal, "failed to create serial number lockfile")
		}
		if time.Now().After(deadline) {
			return apperror.New(apperror.CodeTimeout, "timeout waiting for serial number lockfile").WithField(id)
		}
		time.Sleep(a.waitDelay)
	}

	defer os.Remove(path)
	return fn()
}
