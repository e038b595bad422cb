package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta/pkg/actions"
	"delta/pkg/common"
	"delta/pkg/dataio"
	"delta/pkg/rowtracking"
	"delta/pkg/tableconfig"
)

func writeRawCommit(t *testing.T, eng *dataio.MemEngine, version int64, acts ...*actions.SingleAction) {
	all := append([]*actions.SingleAction{
		actions.WrapCommitInfo(&actions.CommitInfo{
			Timestamp:           version * 100,
			Operation:           "WRITE",
			OperationParameters: map[string]string{},
		}),
	}, acts...)
	err := eng.WriteJSONAtomically(
		common.DeltaFile(common.LogPath(testTablePath), version),
		actions.NewSliceIterable(all).Iter(), false)
	require.Nil(t, err)
}

// a pending append loses to a protocol upgrade
func TestConflictProtocolChanged(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, nil)

	loser, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)

	writeRawCommit(t, eng, 1, actions.WrapProtocol(
		actions.ProtocolWithFeatures(actions.FeatureDomainMetadata)))

	_, err = loser.Commit(eng, actions.NewSliceIterable([]*actions.SingleAction{addAction("l", 1, 1)}))
	assert.ErrorIs(t, err, ErrProtocolChanged)
	// fatal conflicts never write a file
	assert.False(t, eng.Exists(common.DeltaFile(common.LogPath(testTablePath), 2)))
}

func TestConflictMetadataChanged(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, nil)

	loser, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)

	snap := loadSnapshot(t, eng)
	writeRawCommit(t, eng, 1, actions.WrapMetadata(snap.Metadata()))

	_, err = loser.Commit(eng, actions.NewSliceIterable([]*actions.SingleAction{addAction("l", 1, 1)}))
	assert.ErrorIs(t, err, ErrMetadataChanged)
}

// disjoint user domains rebase cleanly
func TestConflictDomainMetadataRebase(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, map[string]string{"delta.feature.domainMetadata": "supported"})

	loser, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, loser.AddDomainMetadata("foo", `{"k":"1"}`))

	winner, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, winner.AddDomainMetadata("bar", `{"k":"2"}`))
	winnerResult, err := winner.Commit(eng, actions.EmptyIterable)
	require.Nil(t, err)
	assert.Equal(t, int64(1), winnerResult.CommittedVersion)

	loserResult, err := loser.Commit(eng, actions.EmptyIterable)
	require.Nil(t, err)
	assert.Equal(t, int64(2), loserResult.CommittedVersion)
	assert.Equal(t, int64(2), loserResult.Report.CommitAttempts)

	snap := loadSnapshot(t, eng)
	assert.NotNil(t, snap.ActiveDomain("foo"))
	assert.NotNil(t, snap.ActiveDomain("bar"))
}

// the same user domain on both sides is fatal
func TestConflictDomainMetadataCollision(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, map[string]string{"delta.feature.domainMetadata": "supported"})

	loser, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, loser.AddDomainMetadata("foo", `{"k":"1"}`))

	winner, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, winner.AddDomainMetadata("foo", `{"k":"2"}`))
	_, err = winner.Commit(eng, actions.EmptyIterable)
	require.Nil(t, err)

	_, err = loser.Commit(eng, actions.EmptyIterable)
	assert.ErrorIs(t, err, ErrConcurrentDomainMetadata)
}

// a committed idempotency marker at or above the loser's version is fatal
func TestConflictConcurrentTransaction(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, nil)

	loser, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, loser.SetAppTransaction("app-1", 5))

	writeRawCommit(t, eng, 1, actions.WrapTxn(&actions.Txn{AppID: "app-1", Version: 5}))

	_, err = loser.Commit(eng, actions.NewSliceIterable([]*actions.SingleAction{addAction("l", 1, 1)}))
	assert.ErrorIs(t, err, ErrConcurrentTransaction)
}

// an unrelated app id does not conflict
func TestConflictUnrelatedTransactionRebases(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, nil)

	loser, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, loser.SetAppTransaction("app-1", 5))

	writeRawCommit(t, eng, 1, actions.WrapTxn(&actions.Txn{AppID: "app-2", Version: 9}))

	result, err := loser.Commit(eng, actions.NewSliceIterable([]*actions.SingleAction{addAction("l", 1, 1)}))
	require.Nil(t, err)
	assert.Equal(t, int64(2), result.CommittedVersion)
}

// row-tracking watermark contention rebases with fresh base row ids
func TestConflictRowTrackingRebase(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, map[string]string{
		tableconfig.RowTrackingEnabled.Key: "true",
	})

	// seed the watermark at 100
	seed, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	_, err = seed.Commit(eng, actions.NewSliceIterable([]*actions.SingleAction{
		addAction("seed", 10, 101),
	}))
	require.Nil(t, err)
	snap := loadSnapshot(t, eng)
	require.Equal(t, int64(100), rowtracking.CurrentHighWaterMark(snap))

	loser, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	winner, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)

	// winner appends 5 rows, moving the watermark to 105
	_, err = winner.Commit(eng, actions.NewSliceIterable([]*actions.SingleAction{
		addAction("w", 10, 5),
	}))
	require.Nil(t, err)

	// loser stages 10 single-row files
	staged := make([]*actions.SingleAction, 0, 10)
	for i := 0; i < 10; i++ {
		staged = append(staged, addAction(string(rune('a'+i))+".parquet", 10, 1))
	}
	result, err := loser.Commit(eng, actions.NewSliceIterable(staged))
	require.Nil(t, err)
	assert.Equal(t, int64(3), result.CommittedVersion)

	decoded := readCommitFile(t, eng, 3)
	assertCanonicalOrder(t, decoded)
	base := int64(106)
	var domainHWM int64 = -1
	for _, action := range decoded {
		if action.Add != nil {
			require.NotNil(t, action.Add.BaseRowID)
			assert.Equal(t, base, *action.Add.BaseRowID)
			assert.Equal(t, int64(3), *action.Add.DefaultRowCommitVersion)
			base++
		}
		if action.DomainMetadata != nil && action.DomainMetadata.Domain == rowtracking.DomainName {
			domainHWM, err = rowtracking.ParseConfig(action.DomainMetadata.Configuration)
			require.Nil(t, err)
		}
	}
	assert.Equal(t, int64(116), base) // bases 106..115 all seen
	assert.Equal(t, int64(115), domainHWM)

	snap = loadSnapshot(t, eng)
	assert.Equal(t, int64(115), rowtracking.CurrentHighWaterMark(snap))
}

// the provided watermark path pins retries to zero
func TestProvidedWatermarkDisablesRetries(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, map[string]string{
		tableconfig.RowTrackingEnabled.Key: "true",
	})

	loser, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, loser.AddDomainMetadata(rowtracking.DomainName, `{"rowIdHighWaterMark":500}`))

	// negative watermarks are rejected outright
	bad, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	assert.ErrorIs(t,
		bad.AddDomainMetadata(rowtracking.DomainName, `{"rowIdHighWaterMark":-3}`),
		rowtracking.ErrNegativeWaterMark)

	winner, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	_, err = winner.Commit(eng, actions.EmptyIterable)
	require.Nil(t, err)

	_, err = loser.Commit(eng, actions.EmptyIterable)
	assert.ErrorIs(t, err, ErrConcurrentWrite)
}

// winning commits must form a gap-free run
func TestConflictLogGap(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, nil)

	loser, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)

	writeRawCommit(t, eng, 1)
	writeRawCommit(t, eng, 3) // version 2 missing

	_, err = loser.Commit(eng, actions.EmptyIterable)
	assert.ErrorIs(t, err, ErrLogGap)
}
