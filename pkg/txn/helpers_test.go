package txn

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta/pkg/actions"
	"delta/pkg/common"
	"delta/pkg/config"
	"delta/pkg/dataio"
	"delta/pkg/schema"
	"delta/pkg/snapshot"
)

const testTablePath = "/tables/t1"

func testConfig() *config.WriteConfig {
	cfg := config.Default()
	cfg.EngineInfo = "test"
	return cfg
}

func testSchema() *schema.StructType {
	return schema.NewStruct(
		schema.NewField("a", schema.Integer, true),
		schema.NewField("b", schema.String, true),
	)
}

func addAction(path string, size int64, numRecords int64) *actions.SingleAction {
	return actions.WrapAdd(&actions.Add{
		Path:       path,
		Size:       size,
		DataChange: true,
		Stats:      fmt.Sprintf(`{"numRecords":%d}`, numRecords),
	})
}

func createTable(t *testing.T, eng *dataio.MemEngine, clock common.Clock, properties map[string]string, data ...*actions.SingleAction) *CommitResult {
	tx, err := Plan(eng, testConfig(), clock, &TableDescriptor{
		Identifier:       "t1",
		Location:         testTablePath,
		Schema:           testSchema(),
		PartitionColumns: []string{"a"},
		Properties:       properties,
		Op:               KindCreate,
		Mode:             ModeErrorIfExists,
	}, nil)
	require.Nil(t, err)
	require.NotNil(t, tx)
	result, err := tx.Commit(eng, actions.NewSliceIterable(data))
	require.Nil(t, err)
	return result
}

func readCommitFile(t *testing.T, eng *dataio.MemEngine, version int64) []*actions.SingleAction {
	raw, err := eng.ReadFile(common.DeltaFile(common.LogPath(testTablePath), version))
	require.Nil(t, err)
	decoded, err := actions.DecodeLines(bytes.NewReader(raw))
	require.Nil(t, err)
	return decoded
}

func loadSnapshot(t *testing.T, eng *dataio.MemEngine) *snapshot.Snapshot {
	snap, err := snapshot.Load(eng, testTablePath)
	require.Nil(t, err)
	return snap
}

// assertCanonicalOrder checks the committed action sequence of one file:
// commitInfo, [metaData], [protocol], [txn], domainMetadata*, (remove|add)*.
func assertCanonicalOrder(t *testing.T, decoded []*actions.SingleAction) {
	rank := func(a *actions.SingleAction) int {
		switch {
		case a.CommitInfo != nil:
			return 0
		case a.Metadata != nil:
			return 1
		case a.Protocol != nil:
			return 2
		case a.Txn != nil:
			return 3
		case a.DomainMetadata != nil:
			return 4
		default:
			return 5
		}
	}
	require.NotEmpty(t, decoded)
	assert.NotNil(t, decoded[0].CommitInfo)
	commitInfos := 0
	last := 0
	for _, action := range decoded {
		r := rank(action)
		if r == 0 {
			commitInfos++
		}
		assert.GreaterOrEqual(t, r, last, "action class out of canonical order")
		last = r
	}
	assert.Equal(t, 1, commitInfos)
}

