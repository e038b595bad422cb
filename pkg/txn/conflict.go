package txn

import (
	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delta/pkg/actions"
	"delta/pkg/common"
	"delta/pkg/iface"
	"delta/pkg/rowtracking"
	"delta/pkg/snapshot"
	"delta/pkg/tableconfig"
)

// RebaseState is the resolver's verdict: where to retry and what rewritten
// state to carry into the next attempt.
type RebaseState struct {
	LatestWinningVersion  int64
	LatestCommitTimestamp int64
	DataActions           actions.Iterable
	DomainMetadatas       []*actions.DomainMetadata
	RefreshedCRC          *snapshot.CRCInfo
}

// conflictChecker resolves one losing transaction against the commits that
// won since its read snapshot. Current policy is blind-append semantics:
// winners' data actions are never inspected.
type conflictChecker struct {
	eng            iface.Engine
	snap           *snapshot.Snapshot
	attemptVersion int64
	losingTxn      *actions.Txn
	domains        []*actions.DomainMetadata
	data           actions.Iterable

	winnerHighWaterMark *int64
}

// resolveConflicts reads the winning commits above the losing snapshot and
// either returns a rebase state or the fatal conflict error.
func resolveConflicts(
	eng iface.Engine,
	snap *snapshot.Snapshot,
	attemptVersion int64,
	losingTxn *actions.Txn,
	domains []*actions.DomainMetadata,
	data actions.Iterable,
) (*RebaseState, error) {
	checker := &conflictChecker{
		eng:            eng,
		snap:           snap,
		attemptVersion: attemptVersion,
		losingTxn:      losingTxn,
		domains:        domains,
		data:           data,
	}
	return checker.resolve()
}

func (c *conflictChecker) resolve() (*RebaseState, error) {
	winning, err := c.winningCommitFiles()
	if err != nil {
		return nil, err
	}

	lastWinning := winning[len(winning)-1]
	lastWinningVersion := common.DeltaVersion(lastWinning.Path)
	logrus.Infof("[Txn] resolving conflicts against versions %d..%d",
		c.snap.Version()+1, lastWinningVersion)

	iter, err := c.eng.ReadJSON(winning, actions.ConflictProjection)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var lastWinningCommitInfo *actions.CommitInfo
	for ; iter.Valid(); iter.Next() {
		batch := iter.Batch()
		for _, action := range batch.Actions {
			switch {
			case action.Protocol != nil:
				return nil, errors.Wrapf(ErrProtocolChanged, "version %d", batch.Version)
			case action.Metadata != nil:
				return nil, errors.Wrapf(ErrMetadataChanged, "version %d", batch.Version)
			case action.Txn != nil:
				if err := c.checkTxn(action.Txn); err != nil {
					return nil, err
				}
			case action.DomainMetadata != nil:
				if err := c.checkDomain(action.DomainMetadata); err != nil {
					return nil, err
				}
			case action.CommitInfo != nil:
				if batch.Version == lastWinningVersion {
					lastWinningCommitInfo = action.CommitInfo
				}
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	updatedData := c.data
	updatedDomains := c.domains
	if actions.IsRowTrackingSupported(c.snap.Protocol()) {
		updatedDomains, err = rowtracking.UpdateHighWaterMarkIfNeeded(
			c.snap, c.winnerHighWaterMark, nil, c.data, c.domains)
		if err != nil {
			return nil, err
		}
		prev := c.attemptVersion
		updatedData, err = rowtracking.AssignBaseRowIDs(
			c.snap, c.winnerHighWaterMark, &prev, lastWinningVersion+1, c.data)
		if err != nil {
			return nil, err
		}
	}

	timestamp, err := c.lastCommitTimestamp(lastWinning, lastWinningVersion, lastWinningCommitInfo)
	if err != nil {
		return nil, err
	}

	state := &RebaseState{
		LatestWinningVersion:  lastWinningVersion,
		LatestCommitTimestamp: timestamp,
		DataActions:           updatedData,
		DomainMetadatas:       updatedDomains,
	}
	if crc, err := snapshot.ReadCRC(c.eng, c.snap.LogPath(), lastWinningVersion); err == nil {
		state.RefreshedCRC = crc
	}
	return state, nil
}

// winningCommitFiles lists the commits above the read snapshot and asserts
// they form a gap-free run.
func (c *conflictChecker) winningCommitFiles() ([]iface.FileStatus, error) {
	start := common.DeltaFile(c.snap.LogPath(), c.snap.Version()+1)
	files, err := c.eng.ListFrom(start)
	if err != nil {
		return nil, errors.Wrapf(err, "listing winning commits from %s", start)
	}
	var winning []iface.FileStatus
	versions := roaring64.NewBitmap()
	for _, f := range files {
		if common.IsCommitFile(f.Path) {
			winning = append(winning, f)
			versions.Add(uint64(common.DeltaVersion(f.Path)))
		}
	}
	if len(winning) == 0 {
		return nil, errors.New("delta: no winning commits found")
	}
	expectedFirst := uint64(c.snap.Version() + 1)
	if versions.Minimum() != expectedFirst ||
		versions.GetCardinality() != versions.Maximum()-expectedFirst+1 {
		return nil, errors.Wrapf(ErrLogGap, "expected contiguous run from version %d", expectedFirst)
	}
	return winning, nil
}

func (c *conflictChecker) checkTxn(winner *actions.Txn) error {
	if c.losingTxn == nil {
		return nil
	}
	if winner.AppID == c.losingTxn.AppID && winner.Version >= c.losingTxn.Version {
		return errors.Wrapf(ErrConcurrentTransaction,
			"app %q committed version %d, attempted %d",
			winner.AppID, winner.Version, c.losingTxn.Version)
	}
	return nil
}

// checkDomain applies the per-domain resolution policy. Row tracking merges
// by taking the maximum winner watermark, any other overlap is fatal.
func (c *conflictChecker) checkDomain(winner *actions.DomainMetadata) error {
	var losing *actions.DomainMetadata
	for _, d := range c.domains {
		if d.Domain == winner.Domain {
			losing = d
			break
		}
	}
	if losing == nil {
		return nil
	}
	switch winner.Domain {
	case rowtracking.DomainName:
		hwm, err := rowtracking.ParseConfig(winner.Configuration)
		if err != nil {
			return err
		}
		if c.winnerHighWaterMark != nil && *c.winnerHighWaterMark > hwm {
			return errors.Wrapf(ErrWatermarkNotMonotonic, "watermark regressed to %d", hwm)
		}
		c.winnerHighWaterMark = &hwm
		return nil
	default:
		return errors.Wrapf(ErrConcurrentDomainMetadata, "domain %q", winner.Domain)
	}
}

// lastCommitTimestamp is the winning run's logical commit time: the ICT when
// the losing snapshot has ICT enabled, the commit file's modification time
// otherwise.
func (c *conflictChecker) lastCommitTimestamp(
	lastWinning iface.FileStatus,
	lastWinningVersion int64,
	commitInfo *actions.CommitInfo,
) (int64, error) {
	if !c.snap.Exists() || !tableconfig.InCommitTimestampsEnabled.FromMetadata(c.snap.Metadata()) {
		return lastWinning.ModTime, nil
	}
	if commitInfo == nil || commitInfo.InCommitTimestamp == nil {
		return 0, errors.Wrapf(ErrMissingCommitTimestamp, "version %d", lastWinningVersion)
	}
	return *commitInfo.InCommitTimestamp, nil
}
