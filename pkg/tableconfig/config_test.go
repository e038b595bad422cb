package tableconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"delta/pkg/actions"
)

func metadataWithConf(conf map[string]string) *actions.Metadata {
	return &actions.Metadata{Configuration: conf}
}

func TestBoolConfig(t *testing.T) {
	assert.False(t, AppendOnly.FromMetadata(metadataWithConf(nil)))
	assert.True(t, AppendOnly.FromMetadata(metadataWithConf(map[string]string{
		"delta.appendOnly": "true",
	})))
	// malformed values fall back to the default
	assert.False(t, AppendOnly.FromMetadata(metadataWithConf(map[string]string{
		"delta.appendOnly": "yes please",
	})))
}

func TestIntAndDurationConfig(t *testing.T) {
	m := metadataWithConf(map[string]string{
		"delta.checkpointInterval":            "25",
		"delta.deletedFileRetentionDuration":  "48h",
	})
	assert.Equal(t, int64(25), CheckpointInterval.FromMetadata(m))
	assert.Equal(t, 48*time.Hour, TombstoneRetention.FromMetadata(m))

	empty := metadataWithConf(nil)
	assert.Equal(t, int64(10), CheckpointInterval.FromMetadata(empty))
	assert.Equal(t, 7*24*time.Hour, TombstoneRetention.FromMetadata(empty))
	assert.Equal(t, int64(-1), ICTEnablementVersion.FromMetadata(empty))
}

func TestKeyClassifiers(t *testing.T) {
	assert.True(t, IsColumnMappingInternalKey("delta.columnMapping.maxColumnId"))
	assert.False(t, IsColumnMappingInternalKey("delta.columnMapping.mode"))
	assert.True(t, IsProtocolKey("delta.minReaderVersion"))
	assert.True(t, IsProtocolKey("delta.feature.rowTracking"))
	assert.False(t, IsProtocolKey("delta.appendOnly"))
}

func TestCoordinatedCommits(t *testing.T) {
	assert.False(t, HasExplicitCoordinatedCommits(map[string]string{}))
	assert.True(t, HasExplicitCoordinatedCommits(map[string]string{
		CoordinatedCommitsCoordinatorName.Key: "cc",
	}))
	assert.Equal(t, 3, len(CoordinatedCommitsKeys()))
	assert.Contains(t, ICTDependencyKeys(), InCommitTimestampsEnabled.Key)
}

func TestColumnMappingMode(t *testing.T) {
	assert.Equal(t, ColumnMappingNone, ColumnMappingMode.FromMetadata(metadataWithConf(nil)))
	assert.Equal(t, ColumnMappingName, ColumnMappingMode.FromMetadata(metadataWithConf(map[string]string{
		"delta.columnMapping.mode": "name",
	})))
}
