package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta/pkg/actions"
	"delta/pkg/common"
	"delta/pkg/dataio"
)

func TestDomainStateAddRemoveExclusion(t *testing.T) {
	s := newDomainMetadataState()
	require.Nil(t, s.add("foo", "a"))
	assert.ErrorIs(t, s.remove("foo"), ErrDomainAddAndRemove)

	require.Nil(t, s.remove("bar"))
	assert.ErrorIs(t, s.add("bar", "b"), ErrDomainAddAndRemove)
}

func TestDomainStateResolveTombstones(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, map[string]string{"delta.feature.domainMetadata": "supported"})

	tx, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, tx.AddDomainMetadata("d1", "a"))
	require.Nil(t, tx.AddDomainMetadata("d2", "b"))
	_, err = tx.Commit(eng, actions.EmptyIterable)
	require.Nil(t, err)

	tx, err = PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, tx.RemoveDomainMetadata("d1"))
	result, err := tx.Commit(eng, actions.EmptyIterable)
	require.Nil(t, err)

	decoded := readCommitFile(t, eng, result.CommittedVersion)
	var tombstone *actions.DomainMetadata
	for _, action := range decoded {
		if action.DomainMetadata != nil {
			tombstone = action.DomainMetadata
		}
	}
	require.NotNil(t, tombstone)
	assert.Equal(t, "d1", tombstone.Domain)
	assert.True(t, tombstone.Removed)
	// the tombstone carries the shadowed configuration
	assert.Equal(t, "a", tombstone.Configuration)

	snap := loadSnapshot(t, eng)
	assert.Nil(t, snap.ActiveDomain("d1"))
	assert.NotNil(t, snap.ActiveDomain("d2"))
}

func TestDomainStateRemoveMissingDomain(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, map[string]string{"delta.feature.domainMetadata": "supported"})

	tx, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	require.Nil(t, tx.RemoveDomainMetadata("ghost"))
	_, err = tx.Commit(eng, actions.EmptyIterable)
	assert.ErrorIs(t, err, ErrDomainDoesNotExist)
}

func TestDomainMetadataRequiresFeature(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, nil)

	tx, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	assert.ErrorIs(t, tx.AddDomainMetadata("foo", "a"), ErrDomainMetadataUnsupported)
	assert.ErrorIs(t, tx.RemoveDomainMetadata("foo"), ErrDomainMetadataUnsupported)
}

func TestSystemDomainRejected(t *testing.T) {
	eng := dataio.NewMemEngine()
	clock := common.NewManualClock(1000)
	createTable(t, eng, clock, map[string]string{"delta.feature.domainMetadata": "supported"})

	tx, err := PlanWrite(eng, testConfig(), clock, testTablePath)
	require.Nil(t, err)
	// arbitrary delta.-prefixed domains are off limits
	assert.ErrorIs(t, tx.AddDomainMetadata("delta.checkpoints", "x"), ErrSystemDomain)
	assert.ErrorIs(t, tx.RemoveDomainMetadata("delta.rowTracking"), ErrSystemDomain)
	// row tracking needs its feature even through the dedicated path
	assert.ErrorIs(t, tx.AddDomainMetadata("delta.rowTracking", `{"rowIdHighWaterMark":1}`), ErrSystemDomain)
}

func TestValidateDomainMetadatas(t *testing.T) {
	protocol := actions.ProtocolWithFeatures(actions.FeatureDomainMetadata)
	ok := []*actions.DomainMetadata{
		{Domain: "a", Configuration: "1"},
		{Domain: "b", Configuration: "2", Removed: true},
	}
	assert.Nil(t, validateDomainMetadatas(ok, protocol))

	dup := []*actions.DomainMetadata{
		{Domain: "a", Configuration: "1"},
		{Domain: "a", Configuration: "2", Removed: true},
	}
	assert.ErrorIs(t, validateDomainMetadatas(dup, protocol), ErrDuplicateDomainMetadata)

	assert.ErrorIs(t, validateDomainMetadatas(ok, actions.DefaultProtocol()), ErrDomainMetadataUnsupported)
	assert.Nil(t, validateDomainMetadatas(nil, actions.DefaultProtocol()))
}

func TestPostCommitDomains(t *testing.T) {
	previous := []*actions.DomainMetadata{
		{Domain: "a", Configuration: "1"},
		{Domain: "b", Configuration: "2"},
	}
	committed := []*actions.DomainMetadata{
		{Domain: "b", Configuration: "2", Removed: true},
		{Domain: "c", Configuration: "3"},
	}
	result := postCommitDomains(previous, committed)
	byName := map[string]string{}
	for _, d := range result {
		byName[d.Domain] = d.Configuration
	}
	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, byName)
}
