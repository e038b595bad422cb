package schema

import (
	"encoding/json"
	"fmt"
)

// DataType is a node in a table schema type tree.
type DataType interface {
	String() string
}

type basicType string

func (t basicType) String() string { return string(t) }

const (
	Boolean      basicType = "boolean"
	Byte         basicType = "byte"
	Short        basicType = "short"
	Integer      basicType = "integer"
	Long         basicType = "long"
	Float        basicType = "float"
	Double       basicType = "double"
	String       basicType = "string"
	Binary       basicType = "binary"
	Date         basicType = "date"
	Timestamp    basicType = "timestamp"
	TimestampNTZ basicType = "timestamp_ntz"
	Variant      basicType = "variant"
)

var basicTypes = map[string]basicType{
	string(Boolean): Boolean,
	string(Byte):    Byte,
	string(Short):   Short,
	string(Integer): Integer,
	string(Long):    Long,
	string(Float):   Float,
	string(Double):  Double,
	string(String):  String,
	string(Binary):  Binary,
	string(Date):    Date,
	string(Timestamp):    Timestamp,
	string(TimestampNTZ): TimestampNTZ,
	string(Variant):      Variant,
}

type DecimalType struct {
	Precision int
	Scale     int
}

func (t *DecimalType) String() string {
	return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
}

type ArrayType struct {
	ElementType  DataType
	ContainsNull bool
}

func (t *ArrayType) String() string {
	return fmt.Sprintf("array<%s>", t.ElementType.String())
}

type MapType struct {
	KeyType           DataType
	ValueType         DataType
	ValueContainsNull bool
}

func (t *MapType) String() string {
	return fmt.Sprintf("map<%s,%s>", t.KeyType.String(), t.ValueType.String())
}

// TypeChange records a widening applied to a field at some point in the
// table's history.
type TypeChange struct {
	From DataType
	To   DataType
}

type Field struct {
	Name        string
	Type        DataType
	Nullable    bool
	Metadata    map[string]interface{}
	TypeChanges []TypeChange
}

type StructType struct {
	Fields []Field
}

func (t *StructType) String() string {
	return fmt.Sprintf("struct<%d fields>", len(t.Fields))
}

func NewStruct(fields ...Field) *StructType {
	return &StructType{Fields: fields}
}

func NewField(name string, typ DataType, nullable bool) Field {
	return Field{Name: name, Type: typ, Nullable: nullable}
}

// IndexOf returns the position of a top level field, -1 when absent.
func (t *StructType) IndexOf(name string) int {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

func (t *StructType) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i := range t.Fields {
		names[i] = t.Fields[i].Name
	}
	return names
}

func (t *StructType) IsEmpty() bool {
	return t == nil || len(t.Fields) == 0
}

// WalkFields visits every field in the tree, depth first, parents before
// children.
func (t *StructType) WalkFields(visit func(f *Field)) {
	for i := range t.Fields {
		walkField(&t.Fields[i], visit)
	}
}

func walkField(f *Field, visit func(f *Field)) {
	visit(f)
	switch typ := f.Type.(type) {
	case *StructType:
		typ.WalkFields(visit)
	case *ArrayType:
		if nested, ok := typ.ElementType.(*StructType); ok {
			nested.WalkFields(visit)
		}
	case *MapType:
		if nested, ok := typ.KeyType.(*StructType); ok {
			nested.WalkFields(visit)
		}
		if nested, ok := typ.ValueType.(*StructType); ok {
			nested.WalkFields(visit)
		}
	}
}

// WalkTypes visits every type node in the tree, including nested element and
// value types.
func (t *StructType) WalkTypes(visit func(typ DataType)) {
	visit(t)
	for i := range t.Fields {
		walkType(t.Fields[i].Type, visit)
	}
}

func walkType(typ DataType, visit func(typ DataType)) {
	switch tt := typ.(type) {
	case *StructType:
		tt.WalkTypes(visit)
	case *ArrayType:
		visit(tt)
		walkType(tt.ElementType, visit)
	case *MapType:
		visit(tt)
		walkType(tt.KeyType, visit)
		walkType(tt.ValueType, visit)
	default:
		visit(typ)
	}
}

// ToJSON serialises the schema in the delta log wire shape.
func (t *StructType) ToJSON() (string, error) {
	raw, err := json.Marshal(structToWire(t))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FromJSON parses a schema from the delta log wire shape. An empty string
// yields an empty struct.
func FromJSON(s string) (*StructType, error) {
	if s == "" {
		return &StructType{}, nil
	}
	var wire wireStruct
	if err := json.Unmarshal([]byte(s), &wire); err != nil {
		return nil, err
	}
	return structFromWire(&wire)
}
