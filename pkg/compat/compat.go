// Package compat validates and updates table metadata for Iceberg surface
// compatibility. Each compat version is a Validator: property enforcers that
// may auto-set required keys on create, the table features the protocol must
// carry, and checks over the final metadata.
package compat

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delta/pkg/actions"
	"delta/pkg/schema"
	"delta/pkg/tableconfig"
)

// InputContext feeds one validation run.
type InputContext struct {
	FeatureName        string
	IsCreatingNewTable bool
	Metadata           *actions.Metadata
	Protocol           *actions.Protocol
}

func (c *InputContext) withMetadata(m *actions.Metadata) *InputContext {
	clone := *c
	clone.Metadata = m
	return &clone
}

// PostProcessor mutates metadata after all enforcers ran, e.g. physical name
// allocation for column mapping. Returns nil when nothing changed.
type PostProcessor func(ctx *InputContext) (*actions.Metadata, error)

// PropertyEnforcer requires a table property to hold an acceptable value,
// auto-setting it on newly created tables.
type PropertyEnforcer struct {
	Key         string
	Validate    func(m *actions.Metadata) bool
	AutoSet     string
	PostProcess PostProcessor
}

func (e *PropertyEnforcer) validateAndUpdate(ctx *InputContext, featureName string) (*actions.Metadata, error) {
	if e.Validate(ctx.Metadata) {
		return nil, nil
	}
	_, explicitlySet := ctx.Metadata.Configuration[e.Key]
	if !explicitlySet && ctx.IsCreatingNewTable {
		return ctx.Metadata.WithMergedConfiguration(map[string]string{e.Key: e.AutoSet}), nil
	}
	return nil, errors.Wrapf(ErrIncompatibleProperty,
		"value %q for property %q does not satisfy %s",
		ctx.Metadata.Configuration[e.Key], e.Key, featureName)
}

// Check validates the final metadata and protocol.
type Check func(ctx *InputContext) error

// Validator is one compat version's rule set.
type Validator struct {
	FeatureName      string
	EnabledProp      tableconfig.BoolConfig
	Enforcers        []*PropertyEnforcer
	RequiredFeatures []string
	Checks           []Check
}

// ValidateAndUpdate runs the rule set when the enable flag is on. It returns
// the updated metadata iff any enforcer or post-processor mutated it, nil
// otherwise.
func (v *Validator) ValidateAndUpdate(ctx *InputContext) (*actions.Metadata, error) {
	if !v.EnabledProp.FromMetadata(ctx.Metadata) {
		return nil, nil
	}
	logrus.Debugf("[Compat] validating metadata against %s", v.FeatureName)

	updated := false
	for _, enforcer := range v.Enforcers {
		next, err := enforcer.validateAndUpdate(ctx, v.FeatureName)
		if err != nil {
			return nil, err
		}
		if next != nil {
			ctx = ctx.withMetadata(next)
			updated = true
		}
	}
	for _, enforcer := range v.Enforcers {
		if enforcer.PostProcess == nil {
			continue
		}
		next, err := enforcer.PostProcess(ctx)
		if err != nil {
			return nil, err
		}
		if next != nil {
			ctx = ctx.withMetadata(next)
			updated = true
		}
	}

	for _, feature := range v.RequiredFeatures {
		if !ctx.Protocol.SupportsWriterFeature(feature) {
			return nil, errors.Wrapf(ErrRequiredFeatureMissing,
				"%s requires table feature %q", v.FeatureName, feature)
		}
	}

	for _, check := range v.Checks {
		if err := check(ctx); err != nil {
			return nil, err
		}
	}

	if !updated {
		return nil, nil
	}
	return ctx.Metadata, nil
}

// BlockConfigChange rejects toggling the compat flag on an existing table in
// either direction.
func (v *Validator) BlockConfigChange(oldConf, newConf map[string]string, isNewTable bool) error {
	if isNewTable {
		return nil
	}
	wasEnabled := v.EnabledProp.FromConfiguration(oldConf)
	isEnabled := v.EnabledProp.FromConfiguration(newConf)
	if !wasEnabled && isEnabled {
		return errors.Wrapf(ErrEnablingCompatOnExistingTable, "%s", v.EnabledProp.Key)
	}
	if wasEnabled && !isEnabled {
		return errors.Wrapf(ErrDisablingCompatOnExistingTable, "%s", v.EnabledProp.Key)
	}
	return nil
}

// IsEnabled reports whether any Iceberg compat version is on.
func IsEnabled(m *actions.Metadata) bool {
	return tableconfig.IcebergCompatV2Enabled.FromMetadata(m) ||
		tableconfig.IcebergCompatV3Enabled.FromMetadata(m)
}

// ValidateAddStats rejects add files whose statistics carry no record count.
func ValidateAddStats(add *actions.Add, featureName string) error {
	if _, ok := add.NumRecords(); !ok {
		return errors.Wrapf(ErrMissingNumRecordsStats, "%s requires numRecords for %s", featureName, add.Path)
	}
	return nil
}

func disallowOtherCompatVersions(incompatibleKeys ...string) Check {
	return func(ctx *InputContext) error {
		for _, key := range incompatibleKeys {
			flag := tableconfig.BoolConfig{Key: key}
			if flag.FromMetadata(ctx.Metadata) {
				return errors.Wrapf(ErrIncompatibleVersion,
					"%s cannot be enabled together with %s", ctx.FeatureName, key)
			}
		}
		return nil
	}
}

func hasOnlySupportedTypes(supported func(t schema.DataType) bool) Check {
	return func(ctx *InputContext) error {
		dataSchema, err := ctx.Metadata.DataSchema()
		if err != nil {
			return err
		}
		unsupported := map[string]bool{}
		dataSchema.WalkTypes(func(t schema.DataType) {
			if !supported(t) {
				unsupported[t.String()] = true
			}
		})
		if len(unsupported) == 0 {
			return nil
		}
		names := make([]string, 0, len(unsupported))
		for name := range unsupported {
			names = append(names, name)
		}
		sort.Strings(names)
		return errors.Wrapf(ErrUnsupportedType, "%s does not support types %v", ctx.FeatureName, names)
	}
}

func checkAllowedPartitionTypes(ctx *InputContext) error {
	dataSchema, err := ctx.Metadata.DataSchema()
	if err != nil {
		return err
	}
	for _, col := range ctx.Metadata.PartitionColumns {
		idx := dataSchema.IndexOf(col)
		if idx < 0 {
			return errors.Wrapf(ErrUnsupportedPartitionType, "partition column %q not in schema", col)
		}
		typ := dataSchema.Fields[idx].Type
		if !isScalarType(typ) {
			return errors.Wrapf(ErrUnsupportedPartitionType,
				"%s does not support partitioning on %s column %q", ctx.FeatureName, typ.String(), col)
		}
	}
	return nil
}

func checkNoDeletionVectors(ctx *InputContext) error {
	if ctx.Protocol.SupportsWriterFeature(actions.FeatureDeletionVectors) {
		return errors.Wrapf(ErrIncompatibleVersion,
			"%s is incompatible with table feature %q", ctx.FeatureName, actions.FeatureDeletionVectors)
	}
	return nil
}

func checkSupportedTypeWidening(ctx *InputContext) error {
	p := ctx.Protocol
	if !p.SupportsWriterFeature(actions.FeatureTypeWidening) &&
		!p.SupportsWriterFeature(actions.FeatureTypeWideningPreview) {
		return nil
	}
	dataSchema, err := ctx.Metadata.DataSchema()
	if err != nil {
		return err
	}
	var violation error
	dataSchema.WalkFields(func(f *schema.Field) {
		if violation != nil {
			return
		}
		for _, change := range f.TypeChanges {
			if !schema.IsIcebergCompatibleWidening(change.From, change.To) {
				violation = errors.Wrapf(ErrUnsupportedTypeWidening,
					"%s does not support widening %s to %s on column %q",
					ctx.FeatureName, change.From.String(), change.To.String(), f.Name)
			}
		}
	})
	return violation
}

func isScalarType(t schema.DataType) bool {
	switch t.(type) {
	case *schema.StructType, *schema.ArrayType, *schema.MapType:
		return false
	}
	return t.String() != string(schema.Variant)
}
