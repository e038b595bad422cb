package tableconfig

import (
	"strconv"
	"strings"
	"time"

	"delta/pkg/actions"
)

// BoolConfig is a reserved boolean table property.
type BoolConfig struct {
	Key     string
	Default bool
}

func (c BoolConfig) FromConfiguration(conf map[string]string) bool {
	raw, ok := conf[c.Key]
	if !ok {
		return c.Default
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return c.Default
	}
	return v
}

func (c BoolConfig) FromMetadata(m *actions.Metadata) bool {
	return c.FromConfiguration(m.Configuration)
}

type IntConfig struct {
	Key     string
	Default int64
}

func (c IntConfig) FromMetadata(m *actions.Metadata) int64 {
	raw, ok := m.Configuration[c.Key]
	if !ok {
		return c.Default
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return c.Default
	}
	return v
}

type StringConfig struct {
	Key     string
	Default string
}

func (c StringConfig) FromMetadata(m *actions.Metadata) string {
	if raw, ok := m.Configuration[c.Key]; ok {
		return raw
	}
	return c.Default
}

type DurationConfig struct {
	Key     string
	Default time.Duration
}

func (c DurationConfig) FromMetadata(m *actions.Metadata) time.Duration {
	raw, ok := m.Configuration[c.Key]
	if !ok {
		return c.Default
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return c.Default
	}
	return d
}

// Column mapping modes.
const (
	ColumnMappingNone = "none"
	ColumnMappingName = "name"
	ColumnMappingID   = "id"
)

var (
	AppendOnly       = BoolConfig{Key: "delta.appendOnly"}
	InCommitTimestampsEnabled = BoolConfig{Key: "delta.enableInCommitTimestamps"}
	RowTrackingEnabled        = BoolConfig{Key: "delta.enableRowTracking"}
	IcebergCompatV2Enabled    = BoolConfig{Key: "delta.enableIcebergCompatV2"}
	IcebergCompatV3Enabled    = BoolConfig{Key: "delta.enableIcebergCompatV3"}
	IcebergWriterEnabled      = BoolConfig{Key: "delta.universalFormat.enabledFormats.iceberg"}
	HudiWriterEnabled         = BoolConfig{Key: "delta.universalFormat.enabledFormats.hudi"}

	ColumnMappingMode = StringConfig{Key: "delta.columnMapping.mode", Default: ColumnMappingNone}
	ColumnMappingMaxID = IntConfig{Key: "delta.columnMapping.maxColumnId"}

	CheckpointInterval = IntConfig{Key: "delta.checkpointInterval", Default: 10}
	TombstoneRetention = DurationConfig{Key: "delta.deletedFileRetentionDuration", Default: 7 * 24 * time.Hour}

	ICTEnablementVersion   = IntConfig{Key: "delta.inCommitTimestampEnablementVersion", Default: -1}
	ICTEnablementTimestamp = IntConfig{Key: "delta.inCommitTimestampEnablementTimestamp", Default: -1}

	CoordinatedCommitsCoordinatorName = StringConfig{Key: "delta.coordinatedCommits.commitCoordinator-preview"}
	CoordinatedCommitsCoordinatorConf = StringConfig{Key: "delta.coordinatedCommits.commitCoordinatorConf-preview"}
	CoordinatedCommitsTableConf       = StringConfig{Key: "delta.coordinatedCommits.tableConf-preview"}
)

// ClusteringColumnsKey is the canonical property used when comparing the
// clustering spec of two table definitions.
const ClusteringColumnsKey = "delta.clusteringColumns"

// internal key namespaces stripped before property comparison
var columnMappingInternalPrefixes = []string{
	"delta.columnMapping.maxColumnId",
}

var protocolKeyPrefixes = []string{
	"delta.minReaderVersion",
	"delta.minWriterVersion",
	"delta.feature.",
}

var clusteringInternalKeys = map[string]bool{
	"clusteringColumns": true,
}

// ICT provenance keys are dropped alongside coordinated-commits config when
// only the existing side carries coordinated commits.
var ictDependencyKeys = []string{
	InCommitTimestampsEnabled.Key,
	ICTEnablementVersion.Key,
	ICTEnablementTimestamp.Key,
}

func IsColumnMappingInternalKey(key string) bool {
	for _, prefix := range columnMappingInternalPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func IsProtocolKey(key string) bool {
	for _, prefix := range protocolKeyPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func IsClusteringInternalKey(key string) bool {
	return clusteringInternalKeys[key]
}

func HasExplicitCoordinatedCommits(conf map[string]string) bool {
	_, ok := conf[CoordinatedCommitsCoordinatorName.Key]
	return ok
}

func CoordinatedCommitsKeys() []string {
	return []string{
		CoordinatedCommitsCoordinatorName.Key,
		CoordinatedCommitsCoordinatorConf.Key,
		CoordinatedCommitsTableConf.Key,
	}
}

func ICTDependencyKeys() []string {
	return append([]string(nil), ictDependencyKeys...)
}
