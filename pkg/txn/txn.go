package txn

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delta/pkg/actions"
	"delta/pkg/common"
	"delta/pkg/iface"
	"delta/pkg/rowtracking"
	"delta/pkg/snapshot"
	"delta/pkg/tableconfig"
)

// Transaction accumulates proposed changes over a read snapshot and commits
// them as one new log version. It is single owner: one goroutine builds it,
// commits it once, and the first attempt (success or final failure) closes
// it.
type Transaction struct {
	txnID      string
	snap       *snapshot.Snapshot
	operation  Operation
	engineInfo string

	protocol             *actions.Protocol
	metadata             *actions.Metadata
	shouldUpdateProtocol bool
	shouldUpdateMetadata bool

	isCreateOrReplace bool

	setTxn *actions.Txn

	clusteringColumns            []string
	shouldUpdateClusteringDomain bool

	domainState *domainMetadataState

	maxRetries            int
	logCompactionInterval int
	clock                 common.Clock

	currentCRC                 *snapshot.CRCInfo
	providedRowIDHighWaterMark *int64

	operationParameters map[string]string

	reporter Reporter

	closed bool
}

// SetReporter registers a sink for the transaction report. Reports are
// emitted on success and on failure.
func (t *Transaction) SetReporter(r Reporter) { t.reporter = r }

// CommitResult is what a successful commit hands back.
type CommitResult struct {
	CommittedVersion int64
	PostCommitHooks  []PostCommitHook
	Report           *Report
}

func (t *Transaction) ReadVersion() int64              { return t.snap.Version() }
func (t *Transaction) Protocol() *actions.Protocol     { return t.protocol }
func (t *Transaction) Metadata() *actions.Metadata     { return t.metadata }
func (t *Transaction) Operation() Operation            { return t.operation }

func (t *Transaction) isReplaceTable() bool {
	return t.isCreateOrReplace && t.snap.Exists()
}

// SetAppTransaction attaches an idempotency marker. Replaying a version at
// or below the application's last committed one is rejected here, before
// anything is written.
func (t *Transaction) SetAppTransaction(appID string, version int64) error {
	if last, ok := t.snap.AppVersion(appID); ok && version <= last {
		return errors.Wrapf(ErrConcurrentTransaction,
			"app %q already committed version %d, attempted %d", appID, last, version)
	}
	now := t.clock.NowMillis()
	t.setTxn = &actions.Txn{AppID: appID, Version: version, LastUpdated: &now}
	return nil
}

// AppTransaction returns the idempotency marker, nil when unset.
func (t *Transaction) AppTransaction() *actions.Txn { return t.setTxn }

// AddDomainMetadata stages a domain write. User-controlled domains go into
// the buffer, the row-tracking system domain takes the dedicated path.
func (t *Transaction) AddDomainMetadata(domain, configuration string) error {
	if !actions.IsDomainMetadataSupported(t.protocol) {
		return ErrDomainMetadataUnsupported
	}
	if t.closed {
		return ErrTransactionAlreadyAttempted
	}
	if actions.IsUserControlledDomain(domain) {
		return t.domainState.add(domain, configuration)
	}
	if domain == rowtracking.DomainName {
		return t.setRowIDHighWaterMark(configuration)
	}
	return errors.Wrapf(ErrSystemDomain, "domain %q", domain)
}

// RemoveDomainMetadata stages a domain removal. System domains are not
// removable.
func (t *Transaction) RemoveDomainMetadata(domain string) error {
	if !actions.IsDomainMetadataSupported(t.protocol) {
		return ErrDomainMetadataUnsupported
	}
	if t.closed {
		return ErrTransactionAlreadyAttempted
	}
	if !actions.IsUserControlledDomain(domain) {
		return errors.Wrapf(ErrSystemDomain, "domain %q", domain)
	}
	return t.domainState.remove(domain)
}

// setRowIDHighWaterMark records a caller-provided watermark. Retries are
// pinned to zero: the watermark is only valid against the exact table state
// the caller observed, a contending writer must re-issue it.
func (t *Transaction) setRowIDHighWaterMark(configuration string) error {
	if !actions.IsRowTrackingSupported(t.protocol) {
		return errors.Wrapf(ErrSystemDomain, "row tracking feature is not enabled")
	}
	hwm, err := rowtracking.ParseConfig(configuration)
	if err != nil {
		return err
	}
	if hwm < 0 {
		return rowtracking.ErrNegativeWaterMark
	}
	t.providedRowIDHighWaterMark = &hwm
	t.maxRetries = 0
	return nil
}

// Commit attempts to write the transaction as the next log version, resolving
// conflicts and retrying on version collisions up to the retry budget.
func (t *Transaction) Commit(eng iface.Engine, data actions.Iterable) (*CommitResult, error) {
	if t.closed {
		return nil, ErrTransactionAlreadyAttempted
	}
	var metrics *Metrics
	if !t.snap.Exists() {
		metrics = NewMetricsForNewTable()
	} else if t.currentCRC != nil {
		metrics = NewMetricsWithHistogram(t.currentCRC.FileSizeHistogram)
	} else {
		metrics = NewMetricsWithHistogram(nil)
	}

	metrics.beginCommit()
	committedVersion, err := t.commitWithRetry(eng, data, metrics)
	metrics.endCommit()

	report := t.buildReport(committedVersion, metrics, err)
	if t.reporter != nil {
		t.reporter.Report(report)
	}
	if err != nil {
		return nil, err
	}
	hooks := t.generatePostCommitHooks(*committedVersion, metrics)
	report.IncrementalCRC = hasHook(hooks, HookChecksumSimple)
	return &CommitResult{
		CommittedVersion: *committedVersion,
		PostCommitHooks:  hooks,
		Report:           report,
	}, nil
}

func (t *Transaction) commitWithRetry(eng iface.Engine, data actions.Iterable, metrics *Metrics) (*int64, error) {
	defer func() { t.closed = true }()

	commitAsVersion := t.snap.Version() + 1
	attemptCommitInfo := t.generateCommitInfo()
	t.updateMetadataWithICTIfRequired(attemptCommitInfo.InCommitTimestamp, t.snap.Version())

	if err := t.generateClusteringDomainIfNeeded(); err != nil {
		return nil, err
	}
	resolved, err := t.domainState.resolve(t.snap, t.isReplaceTable())
	if err != nil {
		return nil, err
	}

	if actions.IsRowTrackingSupported(t.protocol) {
		updatedDomains, err := rowtracking.UpdateHighWaterMarkIfNeeded(
			t.snap, nil, t.providedRowIDHighWaterMark, data, resolved)
		if err != nil {
			return nil, err
		}
		t.domainState.setComputed(updatedDomains)
		if data, err = rowtracking.AssignBaseRowIDs(t.snap, nil, nil, commitAsVersion, data); err != nil {
			return nil, err
		}
	}

	for numTries := 0; numTries <= t.maxRetries; numTries++ {
		logrus.Infof("[Txn] committing %s as version %d (try %d/%d)",
			t.operation, commitAsVersion, numTries, t.maxRetries)
		metrics.CommitAttempts++
		version, err := t.doCommit(eng, commitAsVersion, attemptCommitInfo, data, metrics)
		if err == nil {
			return &version, nil
		}
		if !errors.Is(err, iface.ErrFileAlreadyExists) {
			return nil, err
		}
		logrus.Infof("[Txn] concurrent write detected at version %d", commitAsVersion)
		if numTries == t.maxRetries {
			break
		}

		resolved, err = t.domainState.resolve(t.snap, t.isReplaceTable())
		if err != nil {
			return nil, err
		}
		rebase, err := resolveConflicts(eng, t.snap, commitAsVersion, t.setTxn, resolved, data)
		if err != nil {
			return nil, err
		}
		if rebase.LatestWinningVersion+1 <= commitAsVersion {
			return nil, errors.Errorf(
				"delta: rebase version %d must exceed attempted version %d",
				rebase.LatestWinningVersion+1, commitAsVersion)
		}
		commitAsVersion = rebase.LatestWinningVersion + 1
		data = rebase.DataActions
		t.domainState.setComputed(rebase.DomainMetadatas)
		t.currentCRC = rebase.RefreshedCRC
		if attemptCommitInfo.InCommitTimestamp != nil {
			bumped := *attemptCommitInfo.InCommitTimestamp
			if rebase.LatestCommitTimestamp+1 > bumped {
				bumped = rebase.LatestCommitTimestamp + 1
			}
			attemptCommitInfo.InCommitTimestamp = &bumped
			t.updateMetadataWithICTIfRequired(&bumped, rebase.LatestWinningVersion)
		}
		// Attempt counters are partially advanced, start the next try clean.
		metrics.resetActionsForRetry()
	}

	logrus.Infof("[Txn] exhausted %d retries committing to %s", t.maxRetries, t.snap.TablePath())
	return nil, ErrConcurrentWrite
}

func (t *Transaction) doCommit(
	eng iface.Engine,
	commitAsVersion int64,
	commitInfo *actions.CommitInfo,
	data actions.Iterable,
	metrics *Metrics,
) (int64, error) {
	head := []*actions.SingleAction{actions.WrapCommitInfo(commitInfo)}
	if t.shouldUpdateMetadata {
		head = append(head, actions.WrapMetadata(t.metadata))
	}
	if t.shouldUpdateProtocol {
		head = append(head, actions.WrapProtocol(t.protocol))
	}
	if t.setTxn != nil {
		head = append(head, actions.WrapTxn(t.setTxn))
	}

	resolved, err := t.domainState.resolve(t.snap, t.isReplaceTable())
	if err != nil {
		return 0, err
	}
	if err := validateDomainMetadatas(resolved, t.protocol); err != nil {
		return 0, err
	}
	for _, d := range resolved {
		head = append(head, actions.WrapDomainMetadata(d))
	}

	if commitAsVersion == 0 {
		if ok, err := eng.Mkdirs(t.snap.LogPath()); err != nil || !ok {
			if err == nil {
				err = errors.Errorf("delta: failed to create log directory %s", t.snap.LogPath())
			}
			return 0, err
		}
	}

	// Iterators are acquired last so every earlier exit path leaves nothing
	// to release. The engine closes the stream on success and on failure.
	dataIter := data.Iter()
	fileActions := dataIter
	if t.isReplaceTable() {
		// Replace resets the table, every active file goes first.
		fileActions = actions.ConcatIterators(t.removeActionsForReplace(), dataIter)
	}
	stream := actions.ConcatIterators(actions.NewSliceIterable(head).Iter(), fileActions)

	appendOnly := tableconfig.AppendOnly.FromMetadata(t.metadata)
	guarded := actions.InspectIterator(stream, func(action *actions.SingleAction) error {
		switch {
		case action.Add != nil:
			metrics.recordAdd(action.Add.Size)
		case action.Remove != nil:
			if appendOnly && action.Remove.DataChange {
				return errors.Wrapf(ErrCannotModifyAppendOnlyTable, "table %s", t.snap.TablePath())
			}
			var size int64
			if action.Remove.Size != nil {
				size = *action.Remove.Size
			}
			metrics.recordRemove(size)
		default:
			metrics.recordOther()
		}
		return nil
	})

	target := common.DeltaFile(t.snap.LogPath(), commitAsVersion)
	if err := eng.WriteJSONAtomically(target, guarded, false); err != nil {
		return 0, err
	}
	return commitAsVersion, nil
}

// removeActionsForReplace tombstones every file active at the read snapshot.
func (t *Transaction) removeActionsForReplace() actions.Iterator {
	now := t.clock.NowMillis()
	active := t.snap.ActiveFiles()
	removes := make([]*actions.SingleAction, 0, len(active))
	for _, add := range active {
		removes = append(removes, actions.WrapRemove(add.ToRemove(now, true)))
	}
	return actions.NewSliceIterable(removes).Iter()
}

func (t *Transaction) generateCommitInfo() *actions.CommitInfo {
	now := t.clock.NowMillis()
	params := t.operationParameters
	if params == nil {
		params = map[string]string{}
	}
	if t.isCreateOrReplace {
		cols, _ := json.Marshal(t.metadata.PartitionColumns)
		params["partitionBy"] = string(cols)
	}
	return &actions.CommitInfo{
		InCommitTimestamp:   t.generateICTForFirstAttempt(now),
		Timestamp:           now,
		EngineInfo:          fmt.Sprintf("delta-go/%s", t.engineInfo),
		Operation:           t.operation.Description(),
		OperationParameters: params,
		// Pinned false until blind appends can be advertised safely to other
		// writers. The resolver's policy stays explicit either way.
		IsBlindAppend:    false,
		TxnID:            t.txnID,
		OperationMetrics: map[string]string{},
	}
}

// generateICTForFirstAttempt produces a timestamp strictly above the read
// snapshot's commit timestamp when in-commit timestamps are on.
func (t *Transaction) generateICTForFirstAttempt(now int64) *int64 {
	if !tableconfig.InCommitTimestampsEnabled.FromMetadata(t.metadata) {
		return nil
	}
	ict := now
	if last := t.snap.Timestamp(); last+1 > ict {
		ict = last + 1
	}
	return &ict
}

// updateMetadataWithICTIfRequired backfills the ICT enablement provenance
// when this commit turns the feature on for an existing table.
func (t *Transaction) updateMetadataWithICTIfRequired(ict *int64, lastCommitVersion int64) {
	if ict == nil {
		return
	}
	if !t.snap.Exists() {
		return
	}
	if tableconfig.InCommitTimestampsEnabled.FromMetadata(t.snap.Metadata()) {
		return
	}
	enablementVersion := lastCommitVersion + 1
	t.metadata = t.metadata.WithMergedConfiguration(map[string]string{
		tableconfig.ICTEnablementVersion.Key:   fmt.Sprintf("%d", enablementVersion),
		tableconfig.ICTEnablementTimestamp.Key: fmt.Sprintf("%d", *ict),
	})
	t.shouldUpdateMetadata = true
}

func (t *Transaction) generateClusteringDomainIfNeeded() error {
	if !actions.IsClusteringSupported(t.protocol) {
		return nil
	}
	if t.clusteringColumns != nil && t.shouldUpdateClusteringDomain {
		d := newClusteringDomain(t.clusteringColumns)
		return t.domainState.add(d.Domain, d.Configuration)
	}
	if t.isReplaceTable() && t.clusteringColumns == nil {
		// A clustered protocol always carries the domain, de-clustering
		// records the empty column list.
		d := newClusteringDomain(nil)
		return t.domainState.add(d.Domain, d.Configuration)
	}
	return nil
}

func (t *Transaction) generatePostCommitHooks(committedVersion int64, metrics *Metrics) []PostCommitHook {
	var hooks []PostCommitHook
	checkpointInterval := tableconfig.CheckpointInterval.FromMetadata(t.metadata)
	if committedVersion > 0 && checkpointInterval > 0 && committedVersion%checkpointInterval == 0 {
		hooks = append(hooks, PostCommitHook{
			Type:      HookCheckpoint,
			TablePath: t.snap.TablePath(),
			LogPath:   t.snap.LogPath(),
			Version:   committedVersion,
		})
	}

	if crc := t.buildPostCommitCRC(committedVersion, metrics); crc != nil {
		hooks = append(hooks, PostCommitHook{
			Type:      HookChecksumSimple,
			TablePath: t.snap.TablePath(),
			LogPath:   t.snap.LogPath(),
			Version:   committedVersion,
			CRC:       crc,
		})
	} else {
		hooks = append(hooks, PostCommitHook{
			Type:      HookChecksumFull,
			TablePath: t.snap.TablePath(),
			LogPath:   t.snap.LogPath(),
			Version:   committedVersion,
		})
	}

	interval := int64(t.logCompactionInterval)
	if interval > 0 && (committedVersion+1)%interval == 0 {
		retention := tableconfig.TombstoneRetention.FromMetadata(t.metadata)
		hooks = append(hooks, PostCommitHook{
			Type:                      HookLogCompaction,
			TablePath:                 t.snap.TablePath(),
			LogPath:                   t.snap.LogPath(),
			Version:                   committedVersion,
			StartVersion:              committedVersion + 1 - interval,
			MinFileRetentionTimestamp: t.clock.NowMillis() - retention.Milliseconds(),
		})
	}

	if tableconfig.IcebergWriterEnabled.FromMetadata(t.metadata) {
		hooks = append(hooks, PostCommitHook{
			Type:      HookIcebergConvert,
			TablePath: t.snap.TablePath(),
			LogPath:   t.snap.LogPath(),
			Version:   committedVersion,
		})
	}
	if tableconfig.HudiWriterEnabled.FromMetadata(t.metadata) {
		hooks = append(hooks, PostCommitHook{
			Type:      HookHudiConvert,
			TablePath: t.snap.TablePath(),
			LogPath:   t.snap.LogPath(),
			Version:   committedVersion,
		})
	}
	return hooks
}

// buildPostCommitCRC produces the incremental checksum when the table state
// at committedVersion is fully known: always for create/replace, otherwise
// only when the read CRC sits exactly one version behind.
func (t *Transaction) buildPostCommitCRC(committedVersion int64, metrics *Metrics) *snapshot.CRCInfo {
	resolved, err := t.domainState.resolve(t.snap, t.isReplaceTable())
	if err != nil {
		return nil
	}
	txnID := t.txnID
	if t.isCreateOrReplace {
		active := make([]*actions.DomainMetadata, 0, len(resolved))
		for _, d := range resolved {
			if !d.Removed {
				active = append(active, d)
			}
		}
		return &snapshot.CRCInfo{
			Version:           committedVersion,
			Metadata:          t.metadata,
			Protocol:          t.protocol,
			TableSizeBytes:    metrics.AddFilesSizeBytes,
			NumFiles:          metrics.NumAddFiles,
			TxnID:             &txnID,
			DomainMetadata:    active,
			FileSizeHistogram: metrics.Histogram,
		}
	}

	if t.currentCRC == nil || t.currentCRC.Version+1 != committedVersion {
		return nil
	}
	crc := &snapshot.CRCInfo{
		Version:           committedVersion,
		Metadata:          t.metadata,
		Protocol:          t.protocol,
		TableSizeBytes:    t.currentCRC.TableSizeBytes + metrics.AddFilesSizeBytes - metrics.RemoveFilesSizeBytes,
		NumFiles:          t.currentCRC.NumFiles + metrics.NumAddFiles - metrics.NumRemoveFiles,
		TxnID:             &txnID,
		FileSizeHistogram: metrics.Histogram,
	}
	if t.currentCRC.DomainMetadata != nil {
		crc.DomainMetadata = postCommitDomains(t.currentCRC.DomainMetadata, resolved)
	}
	return crc
}

func (t *Transaction) buildReport(committedVersion *int64, metrics *Metrics, err error) *Report {
	return &Report{
		TablePath:        t.snap.TablePath(),
		Operation:        t.operation.Description(),
		EngineInfo:       t.engineInfo,
		CommittedVersion: committedVersion,
		ReadVersion:      t.snap.Version(),
		CommitAttempts:   metrics.CommitAttempts,
		TotalActions:     metrics.TotalActions,
		NumAddFiles:      metrics.NumAddFiles,
		NumRemoveFiles:   metrics.NumRemoveFiles,
		Duration:         metrics.duration,
		Err:              err,
	}
}

func hasHook(hooks []PostCommitHook, typ HookType) bool {
	for _, h := range hooks {
		if h.Type == typ {
			return true
		}
	}
	return false
}

func newTxnID() string { return uuid.NewString() }
