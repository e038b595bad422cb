package compat

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"delta/pkg/actions"
	"delta/pkg/schema"
	"delta/pkg/tableconfig"
)

const (
	columnMappingIDKey           = "delta.columnMapping.id"
	columnMappingPhysicalNameKey = "delta.columnMapping.physicalName"
)

// assignColumnMappingInfo allocates column-mapping ids and physical names for
// fields that lack them, and bumps the max-column-id property. Nil when
// column mapping is off or every field is already assigned.
func assignColumnMappingInfo(ctx *InputContext) (*actions.Metadata, error) {
	return AssignColumnMappingMetadata(ctx.Metadata)
}

// AssignColumnMappingMetadata is the shared physical-name allocator, also
// used by the planner when column mapping is enabled without iceberg compat.
func AssignColumnMappingMetadata(m *actions.Metadata) (*actions.Metadata, error) {
	mode := tableconfig.ColumnMappingMode.FromMetadata(m)
	if mode == tableconfig.ColumnMappingNone {
		return nil, nil
	}
	dataSchema, err := m.DataSchema()
	if err != nil {
		return nil, err
	}

	maxID := tableconfig.ColumnMappingMaxID.FromMetadata(m)
	assigned := false
	updated := cloneStruct(dataSchema)
	updated.WalkFields(func(f *schema.Field) {
		if f.Metadata == nil {
			f.Metadata = map[string]interface{}{}
		}
		if _, ok := f.Metadata[columnMappingIDKey]; !ok {
			maxID++
			f.Metadata[columnMappingIDKey] = maxID
			assigned = true
		}
		if _, ok := f.Metadata[columnMappingPhysicalNameKey]; !ok {
			f.Metadata[columnMappingPhysicalNameKey] = fmt.Sprintf("col-%s", uuid.NewString())
			assigned = true
		}
	})
	if !assigned {
		return nil, nil
	}

	result, err := m.WithSchema(updated)
	if err != nil {
		return nil, err
	}
	return result.WithMergedConfiguration(map[string]string{
		tableconfig.ColumnMappingMaxID.Key: strconv.FormatInt(maxID, 10),
	}), nil
}

func cloneStruct(t *schema.StructType) *schema.StructType {
	clone := &schema.StructType{Fields: make([]schema.Field, len(t.Fields))}
	for i, f := range t.Fields {
		clone.Fields[i] = cloneField(f)
	}
	return clone
}

func cloneField(f schema.Field) schema.Field {
	out := f
	if f.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(f.Metadata))
		for k, v := range f.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Type = cloneType(f.Type)
	out.TypeChanges = append([]schema.TypeChange(nil), f.TypeChanges...)
	return out
}

func cloneType(t schema.DataType) schema.DataType {
	switch tt := t.(type) {
	case *schema.StructType:
		return cloneStruct(tt)
	case *schema.ArrayType:
		return &schema.ArrayType{ElementType: cloneType(tt.ElementType), ContainsNull: tt.ContainsNull}
	case *schema.MapType:
		return &schema.MapType{
			KeyType:           cloneType(tt.KeyType),
			ValueType:         cloneType(tt.ValueType),
			ValueContainsNull: tt.ValueContainsNull,
		}
	default:
		return t
	}
}
