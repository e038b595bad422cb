package compat

import (
	"delta/pkg/actions"
	"delta/pkg/schema"
	"delta/pkg/tableconfig"
)

func supportedLeafTypeV2(t schema.DataType) bool {
	switch t.(type) {
	case *schema.DecimalType, *schema.StructType, *schema.ArrayType, *schema.MapType:
		return true
	}
	switch t.String() {
	case string(schema.Boolean), string(schema.Byte), string(schema.Short),
		string(schema.Integer), string(schema.Long), string(schema.Float),
		string(schema.Double), string(schema.String), string(schema.Binary),
		string(schema.Date), string(schema.Timestamp), string(schema.TimestampNTZ):
		return true
	}
	return false
}

var columnMappingEnforcer = &PropertyEnforcer{
	Key: tableconfig.ColumnMappingMode.Key,
	Validate: func(m *actions.Metadata) bool {
		mode := tableconfig.ColumnMappingMode.FromMetadata(m)
		return mode == tableconfig.ColumnMappingName || mode == tableconfig.ColumnMappingID
	},
	AutoSet:     tableconfig.ColumnMappingName,
	PostProcess: assignColumnMappingInfo,
}

var rowTrackingEnforcer = &PropertyEnforcer{
	Key: tableconfig.RowTrackingEnabled.Key,
	Validate: func(m *actions.Metadata) bool {
		return tableconfig.RowTrackingEnabled.FromMetadata(m)
	},
	AutoSet: "true",
}

// V2 is the icebergCompatV2 rule set.
var V2 = &Validator{
	FeatureName: "icebergCompatV2",
	EnabledProp: tableconfig.IcebergCompatV2Enabled,
	Enforcers:   []*PropertyEnforcer{columnMappingEnforcer},
	RequiredFeatures: []string{
		actions.FeatureColumnMapping,
	},
	Checks: []Check{
		disallowOtherCompatVersions("delta.enableIcebergCompatV1", tableconfig.IcebergCompatV3Enabled.Key),
		hasOnlySupportedTypes(supportedLeafTypeV2),
		checkAllowedPartitionTypes,
		checkNoDeletionVectors,
		checkSupportedTypeWidening,
	},
}

// V3 is the icebergCompatV3 rule set. The type whitelist matches V2 until
// variant support lands.
var V3 = &Validator{
	FeatureName: "icebergCompatV3",
	EnabledProp: tableconfig.IcebergCompatV3Enabled,
	Enforcers:   []*PropertyEnforcer{columnMappingEnforcer, rowTrackingEnforcer},
	RequiredFeatures: []string{
		actions.FeatureColumnMapping,
		actions.FeatureRowTracking,
	},
	Checks: []Check{
		disallowOtherCompatVersions("delta.enableIcebergCompatV1", tableconfig.IcebergCompatV2Enabled.Key),
		hasOnlySupportedTypes(supportedLeafTypeV2),
		checkAllowedPartitionTypes,
		checkNoDeletionVectors,
		checkSupportedTypeWidening,
	},
}

// Validators lists the known compat versions in order.
var Validators = []*Validator{V2, V3}
