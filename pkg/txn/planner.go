package txn

import (
	"encoding/json"
	"reflect"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delta/pkg/actions"
	"delta/pkg/catalog"
	"delta/pkg/common"
	"delta/pkg/compat"
	"delta/pkg/config"
	"delta/pkg/iface"
	"delta/pkg/schema"
	"delta/pkg/snapshot"
	"delta/pkg/tableconfig"
)

// SaveMode mirrors the writer's save semantics.
type SaveMode int

const (
	ModeAppend SaveMode = iota
	ModeOverwrite
	ModeErrorIfExists
	ModeIgnore
)

// OpKind is the definition operation requested by the caller.
type OpKind int

const (
	KindCreate OpKind = iota
	KindReplace
	KindCreateOrReplace
)

// TableDescriptor is the planner input.
type TableDescriptor struct {
	Identifier        string
	Location          string
	External          bool
	Schema            *schema.StructType
	PartitionColumns  []string
	ClusteringColumns []string
	Properties        map[string]string
	Mode              SaveMode
	Op                OpKind

	// HasQuery marks CTAS: a query plan supplies rows after the definition.
	HasQuery bool
	// ViaOptionsAPI marks the dataframe/options code path, which degrades
	// CTAS over an existing table into a plain write.
	ViaOptionsAPI bool
	// ReplaceWherePredicate is the partial-overwrite predicate, empty for a
	// full definition.
	ReplaceWherePredicate string
}

// Plan validates a create/replace request against the table on disk and
// returns the transaction carrying the initial actions. existing is the
// catalog's record for the identifier, nil when uncataloged. A nil
// transaction with nil error is the Ignore-mode no-op.
func Plan(
	eng iface.Engine,
	cfg *config.WriteConfig,
	clock common.Clock,
	desc *TableDescriptor,
	existing *catalog.Entry,
) (*Transaction, error) {
	if existing != nil {
		switch {
		case desc.Mode == ModeIgnore:
			logrus.Debugf("[Plan] table %s exists, ignore mode is a no-op", desc.Identifier)
			return nil, nil
		case desc.Mode == ModeErrorIfExists:
			return nil, errors.Wrapf(ErrTableAlreadyExists, "table %s", desc.Identifier)
		case desc.Op == KindCreate:
			return nil, errors.Wrapf(ErrTableAlreadyExists, "table %s", desc.Identifier)
		}
	}

	snap, err := snapshot.Load(eng, desc.Location)
	if err != nil {
		return nil, err
	}

	if desc.Op == KindReplace && !snap.Exists() {
		return nil, errors.Wrapf(ErrReplaceMissingTable, "table %s", desc.Identifier)
	}
	if desc.External && desc.Schema == nil && !snap.Exists() {
		return nil, errors.Wrapf(ErrCreateExternalWithoutLog, "location %s", desc.Location)
	}
	if !snap.Exists() && desc.Schema.IsEmpty() && !desc.HasQuery && !cfg.AllowEmptySchemaTable {
		return nil, errors.Wrapf(ErrSchemaNotProvided, "table %s", desc.Identifier)
	}
	if !desc.External && !snap.Exists() {
		if err := requireEmptyLocation(eng, desc.Location); err != nil {
			return nil, err
		}
	}
	if !desc.External && desc.Op == KindCreate && snap.Exists() {
		return nil, errors.Wrapf(ErrTableAlreadyExists, "location %s", desc.Location)
	}

	// Registering a definition over a table that already has a log: the
	// supplied definition must agree with what is on disk.
	if snap.Exists() && desc.Schema != nil &&
		(desc.Op == KindCreate || (desc.ViaOptionsAPI && desc.HasQuery)) {
		if err := validateAgainstExisting(desc, snap); err != nil {
			return nil, err
		}
	}

	metadata, protocol, err := buildMetadataAndProtocol(desc, snap, clock)
	if err != nil {
		return nil, err
	}
	// A clustered table keeps the clustering domain through a replace, an
	// unclustered replacement reseeds it with the empty column list.
	if snap.Exists() && actions.IsClusteringSupported(snap.Protocol()) {
		protocol = protocol.WithFeature(actions.FeatureDomainMetadata).
			WithFeature(actions.FeatureClustering)
	}

	t := &Transaction{
		txnID:                        newTxnID(),
		snap:                         snap,
		operation:                    chooseOperation(desc, snap.Exists()),
		engineInfo:                   cfg.EngineInfo,
		protocol:                     protocol,
		metadata:                     metadata,
		shouldUpdateProtocol:         true,
		shouldUpdateMetadata:         true,
		isCreateOrReplace:            true,
		clusteringColumns:            desc.ClusteringColumns,
		shouldUpdateClusteringDomain: desc.ClusteringColumns != nil,
		domainState:                  newDomainMetadataState(),
		maxRetries:                   cfg.MaxRetries,
		logCompactionInterval:        cfg.LogCompactionInterval,
		clock:                        clock,
		currentCRC:                   snap.CRC(),
	}
	if desc.ReplaceWherePredicate != "" {
		t.operationParameters = map[string]string{"replaceWhere": desc.ReplaceWherePredicate}
	}
	return t, nil
}

// PlanWrite starts a plain write transaction against an existing table.
func PlanWrite(eng iface.Engine, cfg *config.WriteConfig, clock common.Clock, tablePath string) (*Transaction, error) {
	snap, err := snapshot.Load(eng, tablePath)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, errors.Wrapf(ErrTableNotFound, "location %s", tablePath)
	}
	return &Transaction{
		txnID:                 newTxnID(),
		snap:                  snap,
		operation:             OpWrite,
		engineInfo:            cfg.EngineInfo,
		protocol:              snap.Protocol(),
		metadata:              snap.Metadata(),
		domainState:           newDomainMetadataState(),
		maxRetries:            cfg.MaxRetries,
		logCompactionInterval: cfg.LogCompactionInterval,
		clock:                 clock,
		currentCRC:            snap.CRC(),
	}, nil
}

func requireEmptyLocation(eng iface.Engine, location string) error {
	files, err := eng.ListFrom(location + "/")
	if err != nil {
		if errors.Is(err, iface.ErrFileNotFound) {
			return nil
		}
		return err
	}
	if len(files) > 0 {
		return errors.Wrapf(ErrCreateTableWithNonEmptyLocation, "location %s", location)
	}
	return nil
}

func validateAgainstExisting(desc *TableDescriptor, snap *snapshot.Snapshot) error {
	existingSchema, err := snap.Metadata().DataSchema()
	if err != nil {
		return err
	}
	if !schemasEquivalent(desc.Schema, existingSchema) {
		if desc.ViaOptionsAPI && desc.Mode == ModeOverwrite {
			return errors.Wrapf(ErrIllegalOverwriteSchema, "table %s", desc.Identifier)
		}
		return errors.Wrapf(ErrDifferentSchema, "table %s", desc.Identifier)
	}
	if !reflect.DeepEqual(normalizeColumns(desc.PartitionColumns), normalizeColumns(snap.Metadata().PartitionColumns)) {
		return errors.Wrapf(ErrDifferentPartitioning, "table %s", desc.Identifier)
	}

	existingClustering := existingClusteringColumns(snap)
	if err := compareClustering(desc, existingClustering); err != nil {
		return err
	}

	return compareProperties(desc, snap, existingClustering)
}

func existingClusteringColumns(snap *snapshot.Snapshot) []string {
	d := snap.ActiveDomain(ClusteringDomainName)
	if d == nil {
		return nil
	}
	cols, err := clusteringColumnsOf(d)
	if err != nil || len(cols) == 0 {
		return nil
	}
	return cols
}

func compareClustering(desc *TableDescriptor, existingClustering []string) error {
	requested := desc.ClusteringColumns
	if len(requested) == 0 {
		requested = nil
	}
	if len(existingClustering) > 0 && requested == nil && len(desc.PartitionColumns) > 0 {
		return errors.Wrapf(ErrReplacingClusteredWithPartitioned, "table %s", desc.Identifier)
	}
	if (requested == nil) != (existingClustering == nil) {
		return errors.Wrapf(ErrDifferentClustering, "table %s", desc.Identifier)
	}
	if requested != nil && !reflect.DeepEqual(requested, existingClustering) {
		return errors.Wrapf(ErrDifferentClustering, "table %s", desc.Identifier)
	}
	return nil
}

// compareProperties checks the two configurations over filtered maps: column
// mapping internals and protocol keys never count, clustering internals are
// folded into the canonical clustering property, and when only the existing
// side pins coordinated commits, its coordinator and ICT provenance keys are
// dropped before comparing.
func compareProperties(desc *TableDescriptor, snap *snapshot.Snapshot, existingClustering []string) error {
	existingConf := snap.Metadata().Configuration
	newConf := desc.Properties
	if newConf == nil {
		newConf = map[string]string{}
	}

	existingFiltered := filterProperties(existingConf)
	newFiltered := filterProperties(newConf)

	if actions.IsClusteringSupported(snap.Protocol()) {
		existingFiltered[tableconfig.ClusteringColumnsKey] = encodeColumns(existingClustering)
		newFiltered[tableconfig.ClusteringColumnsKey] = encodeColumns(desc.ClusteringColumns)
	}

	if tableconfig.HasExplicitCoordinatedCommits(existingConf) && !tableconfig.HasExplicitCoordinatedCommits(newConf) {
		for _, key := range tableconfig.CoordinatedCommitsKeys() {
			delete(existingFiltered, key)
		}
		for _, key := range tableconfig.ICTDependencyKeys() {
			delete(existingFiltered, key)
		}
	}

	if !reflect.DeepEqual(existingFiltered, newFiltered) {
		return errors.Wrapf(ErrDifferentProperties, "table %s", desc.Identifier)
	}
	return nil
}

func filterProperties(conf map[string]string) map[string]string {
	filtered := make(map[string]string, len(conf))
	for k, v := range conf {
		if tableconfig.IsColumnMappingInternalKey(k) || tableconfig.IsProtocolKey(k) ||
			tableconfig.IsClusteringInternalKey(k) {
			continue
		}
		filtered[k] = v
	}
	return filtered
}

func encodeColumns(cols []string) string {
	if cols == nil {
		cols = []string{}
	}
	raw, _ := json.Marshal(cols)
	return string(raw)
}

func normalizeColumns(cols []string) []string {
	if cols == nil {
		return []string{}
	}
	return cols
}

func buildMetadataAndProtocol(desc *TableDescriptor, snap *snapshot.Snapshot, clock common.Clock) (*actions.Metadata, *actions.Protocol, error) {
	tableSchema := desc.Schema
	partitionCols := desc.PartitionColumns
	if tableSchema == nil && snap.Exists() {
		// Registration without a schema inherits the definition on disk.
		parsed, err := snap.Metadata().DataSchema()
		if err != nil {
			return nil, nil, err
		}
		tableSchema = parsed
		if partitionCols == nil {
			partitionCols = snap.Metadata().PartitionColumns
		}
	}
	if tableSchema == nil {
		tableSchema = &schema.StructType{}
	}
	for _, col := range partitionCols {
		if tableSchema.IndexOf(col) < 0 {
			return nil, nil, errors.Wrapf(ErrPartitionColumnMissing, "column %q", col)
		}
	}
	schemaJSON, err := tableSchema.ToJSON()
	if err != nil {
		return nil, nil, err
	}

	now := clock.NowMillis()
	// delta.feature.* properties request protocol features, they live in the
	// protocol rather than the stored configuration.
	properties := make(map[string]string, len(desc.Properties))
	var requestedFeatures []string
	for k, v := range desc.Properties {
		if feature, ok := featureProperty(k, v); ok {
			requestedFeatures = append(requestedFeatures, feature)
			continue
		}
		if tableconfig.IsProtocolKey(k) {
			continue
		}
		properties[k] = v
	}
	metadata := &actions.Metadata{
		ID:               uuid.NewString(),
		Name:             desc.Identifier,
		Format:           actions.Format{Provider: "parquet"},
		SchemaJSON:       schemaJSON,
		PartitionColumns: normalizeColumns(partitionCols),
		CreatedTime:      &now,
		Configuration:    properties,
	}

	protocol := protocolForMetadata(metadata, desc, requestedFeatures)

	isNewTable := !snap.Exists()
	for _, validator := range compat.Validators {
		oldConf := map[string]string{}
		if snap.Exists() {
			oldConf = snap.Metadata().Configuration
		}
		if err := validator.BlockConfigChange(oldConf, metadata.Configuration, isNewTable); err != nil {
			return nil, nil, err
		}
		updated, err := validator.ValidateAndUpdate(&compat.InputContext{
			FeatureName:        validator.FeatureName,
			IsCreatingNewTable: true,
			Metadata:           metadata,
			Protocol:           protocol,
		})
		if err != nil {
			return nil, nil, err
		}
		if updated != nil {
			metadata = updated
		}
	}

	// Column mapping without iceberg compat still allocates physical names.
	if !compat.IsEnabled(metadata) &&
		tableconfig.ColumnMappingMode.FromMetadata(metadata) != tableconfig.ColumnMappingNone {
		updated, err := compat.AssignColumnMappingMetadata(metadata)
		if err != nil {
			return nil, nil, err
		}
		if updated != nil {
			metadata = updated
		}
	}

	return metadata, protocol, nil
}

func featureProperty(key, value string) (string, bool) {
	const prefix = "delta.feature."
	if len(key) > len(prefix) && key[:len(prefix)] == prefix && value == "supported" {
		return key[len(prefix):], true
	}
	return "", false
}

// protocolForMetadata derives the protocol from the requested configuration.
// The feature sets must stay a superset of what the metadata requires.
func protocolForMetadata(metadata *actions.Metadata, desc *TableDescriptor, requested []string) *actions.Protocol {
	features := append([]string(nil), requested...)
	if tableconfig.ColumnMappingMode.FromMetadata(metadata) != tableconfig.ColumnMappingNone ||
		compat.IsEnabled(metadata) {
		features = append(features, actions.FeatureColumnMapping)
	}
	if desc.ClusteringColumns != nil {
		features = append(features, actions.FeatureDomainMetadata, actions.FeatureClustering)
	}
	if tableconfig.RowTrackingEnabled.FromMetadata(metadata) ||
		tableconfig.IcebergCompatV3Enabled.FromMetadata(metadata) {
		features = append(features, actions.FeatureDomainMetadata, actions.FeatureRowTracking)
	}
	if tableconfig.InCommitTimestampsEnabled.FromMetadata(metadata) {
		features = append(features, actions.FeatureInCommitTimestamp)
	}
	if tableconfig.IcebergCompatV2Enabled.FromMetadata(metadata) {
		features = append(features, actions.FeatureIcebergCompatV2)
	}
	if tableconfig.IcebergCompatV3Enabled.FromMetadata(metadata) {
		features = append(features, actions.FeatureIcebergCompatV3)
	}
	if len(features) == 0 {
		return actions.DefaultProtocol()
	}
	// Any feature needs the table-features protocol, domain metadata rides
	// along so domain writes stay possible.
	features = append(features, actions.FeatureDomainMetadata)
	return actions.ProtocolWithFeatures(features...)
}

func chooseOperation(desc *TableDescriptor, tableExists bool) Operation {
	if desc.ViaOptionsAPI && desc.HasQuery && tableExists {
		return OpWrite
	}
	if desc.Op == KindCreateOrReplace && desc.ReplaceWherePredicate != "" {
		return OpWrite
	}
	switch desc.Op {
	case KindCreate:
		if desc.HasQuery {
			return OpCreateTableAsSelect
		}
		return OpCreateTable
	case KindReplace:
		return OpReplaceTable
	default:
		if desc.HasQuery {
			return OpCreateOrReplaceTableAsSelect
		}
		return OpCreateOrReplaceTable
	}
}

// schemasEquivalent compares two schemas ignoring the field metadata of both
// sides (column mapping ids and physical names included). Metadata of struct
// fields nested inside arrays or maps is not stripped and still counts.
func schemasEquivalent(requested, existing *schema.StructType) bool {
	return canonicalSchema(requested) == canonicalSchema(existing)
}

func canonicalSchema(t *schema.StructType) string {
	stripped := stripMappingMetadata(t)
	raw, err := stripped.ToJSON()
	if err != nil {
		return ""
	}
	return raw
}

func stripMappingMetadata(t *schema.StructType) *schema.StructType {
	clone := &schema.StructType{Fields: make([]schema.Field, len(t.Fields))}
	for i, f := range t.Fields {
		nf := f
		nf.Metadata = nil
		if nested, ok := f.Type.(*schema.StructType); ok {
			nf.Type = stripMappingMetadata(nested)
		}
		clone.Fields[i] = nf
	}
	return clone
}
