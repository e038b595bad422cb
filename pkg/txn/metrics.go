package txn

import (
	"time"

	"delta/pkg/common"
)

// Metrics accumulates per-transaction counters. Action counters are reset on
// every retry, attempt counters survive across attempts.
type Metrics struct {
	CommitAttempts       int64
	TotalActions         int64
	NumAddFiles          int64
	NumRemoveFiles       int64
	AddFilesSizeBytes    int64
	RemoveFilesSizeBytes int64

	// Histogram carries the table-wide file size distribution. Nil when the
	// read snapshot had no checksum histogram. Dropped on retry until the
	// full checksum hook rebuilds it.
	Histogram *common.FileSizeHistogram

	commitStart time.Time
	duration    time.Duration
}

// NewMetricsForNewTable starts from a fresh histogram, a new table always
// commits a complete checksum.
func NewMetricsForNewTable() *Metrics {
	return &Metrics{Histogram: common.DefaultFileSizeHistogram()}
}

// NewMetricsWithHistogram carries the read snapshot's histogram when known.
func NewMetricsWithHistogram(h *common.FileSizeHistogram) *Metrics {
	m := &Metrics{}
	if h != nil {
		m.Histogram = h.Clone()
	}
	return m
}

func (m *Metrics) beginCommit() {
	m.commitStart = time.Now()
}

func (m *Metrics) endCommit() {
	m.duration = time.Since(m.commitStart)
}

func (m *Metrics) recordAdd(size int64) {
	m.TotalActions++
	m.NumAddFiles++
	m.AddFilesSizeBytes += size
	if m.Histogram != nil {
		m.Histogram.Insert(size)
	}
}

func (m *Metrics) recordRemove(size int64) {
	m.TotalActions++
	m.NumRemoveFiles++
	m.RemoveFilesSizeBytes += size
	if m.Histogram != nil {
		m.Histogram.Remove(size)
	}
}

func (m *Metrics) recordOther() {
	m.TotalActions++
}

// resetActionsForRetry zeroes the per-attempt counters and drops the
// histogram. TODO: reconcile the histogram across retries instead of
// dropping it.
func (m *Metrics) resetActionsForRetry() {
	m.TotalActions = 0
	m.NumAddFiles = 0
	m.NumRemoveFiles = 0
	m.AddFilesSizeBytes = 0
	m.RemoveFilesSizeBytes = 0
	m.Histogram = nil
}

// Report is the transaction's observable outcome, emitted on success and on
// failure.
type Report struct {
	TablePath        string
	Operation        string
	EngineInfo       string
	CommittedVersion *int64
	ReadVersion      int64
	CommitAttempts   int64
	TotalActions     int64
	NumAddFiles      int64
	NumRemoveFiles   int64
	Duration         time.Duration
	IncrementalCRC   bool
	Err              error
}

// Reporter receives transaction reports.
type Reporter interface {
	Report(r *Report)
}
