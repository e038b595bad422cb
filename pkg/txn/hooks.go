package txn

import (
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"delta/pkg/snapshot"
)

// HookType enumerates the post-commit work a successful commit schedules.
type HookType int

const (
	HookCheckpoint HookType = iota
	HookChecksumSimple
	HookChecksumFull
	HookLogCompaction
	HookIcebergConvert
	HookHudiConvert
)

func (t HookType) String() string {
	switch t {
	case HookCheckpoint:
		return "checkpoint"
	case HookChecksumSimple:
		return "checksum-simple"
	case HookChecksumFull:
		return "checksum-full"
	case HookLogCompaction:
		return "log-compaction"
	case HookIcebergConvert:
		return "iceberg-convert"
	case HookHudiConvert:
		return "hudi-convert"
	default:
		return "unknown"
	}
}

// PostCommitHook describes one unit of post-commit work. Execution is the
// caller's concern, failures never affect the committed version.
type PostCommitHook struct {
	Type      HookType
	TablePath string
	LogPath   string
	Version   int64

	// CRC is set for checksum-simple hooks.
	CRC *snapshot.CRCInfo

	// StartVersion and MinFileRetentionTimestamp are set for log-compaction
	// hooks.
	StartVersion              int64
	MinFileRetentionTimestamp int64
}

// HookRunner drives hook executors on a bounded goroutine pool.
type HookRunner struct {
	pool *ants.Pool
}

func NewHookRunner(workers int) (*HookRunner, error) {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &HookRunner{pool: pool}, nil
}

func (r *HookRunner) Close() {
	r.pool.Release()
}

// Run executes every hook through exec, waiting for all to finish. The first
// error is returned, remaining hooks still run.
func (r *HookRunner) Run(hooks []PostCommitHook, exec func(hook PostCommitHook) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for i := range hooks {
		hook := hooks[i]
		wg.Add(1)
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			if err := exec(hook); err != nil {
				logrus.Warnf("[Hook] %s at version %d failed: %v", hook.Type, hook.Version, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = submitErr
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	return firstErr
}
