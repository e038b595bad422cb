package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaJSONRoundTrip(t *testing.T) {
	s := NewStruct(
		NewField("a", Integer, true),
		NewField("b", String, false),
		NewField("d", &DecimalType{Precision: 10, Scale: 2}, true),
		NewField("arr", &ArrayType{ElementType: Long, ContainsNull: true}, true),
		NewField("m", &MapType{KeyType: String, ValueType: Double, ValueContainsNull: true}, true),
		NewField("nested", NewStruct(
			NewField("x", Timestamp, true),
			NewField("y", Binary, true),
		), true),
	)
	raw, err := s.ToJSON()
	assert.Nil(t, err)
	parsed, err := FromJSON(raw)
	assert.Nil(t, err)
	raw2, err := parsed.ToJSON()
	assert.Nil(t, err)
	assert.Equal(t, raw, raw2)

	assert.Equal(t, 6, len(parsed.Fields))
	assert.Equal(t, "decimal(10,2)", parsed.Fields[2].Type.String())
	arr, ok := parsed.Fields[3].Type.(*ArrayType)
	assert.True(t, ok)
	assert.Equal(t, Long, arr.ElementType)
	nested, ok := parsed.Fields[5].Type.(*StructType)
	assert.True(t, ok)
	assert.Equal(t, 2, len(nested.Fields))
}

func TestFromJSONEmpty(t *testing.T) {
	s, err := FromJSON("")
	assert.Nil(t, err)
	assert.True(t, s.IsEmpty())
}

func TestIndexOf(t *testing.T) {
	s := NewStruct(NewField("a", Integer, true), NewField("b", String, true))
	assert.Equal(t, 0, s.IndexOf("a"))
	assert.Equal(t, 1, s.IndexOf("b"))
	assert.Equal(t, -1, s.IndexOf("c"))
}

func TestWalkTypes(t *testing.T) {
	s := NewStruct(
		NewField("a", Integer, true),
		NewField("m", &MapType{KeyType: String, ValueType: &ArrayType{ElementType: Float}}, true),
	)
	var seen []string
	s.WalkTypes(func(typ DataType) {
		seen = append(seen, typ.String())
	})
	assert.Contains(t, seen, "integer")
	assert.Contains(t, seen, "float")
	assert.Contains(t, seen, "string")
}

func TestIcebergCompatibleWidening(t *testing.T) {
	legal := []TypeChange{
		{From: Byte, To: Short},
		{From: Byte, To: Integer},
		{From: Byte, To: Long},
		{From: Short, To: Integer},
		{From: Integer, To: Long},
		{From: Float, To: Double},
		{From: Date, To: TimestampNTZ},
		{From: &DecimalType{Precision: 10, Scale: 2}, To: &DecimalType{Precision: 12, Scale: 2}},
	}
	for _, change := range legal {
		assert.True(t, IsIcebergCompatibleWidening(change.From, change.To),
			"%s -> %s", change.From, change.To)
	}

	illegal := []TypeChange{
		{From: Long, To: Integer},
		{From: Integer, To: Double},
		{From: Double, To: Float},
		{From: String, To: Binary},
		{From: &DecimalType{Precision: 10, Scale: 2}, To: &DecimalType{Precision: 12, Scale: 4}},
		{From: &DecimalType{Precision: 10, Scale: 2}, To: &DecimalType{Precision: 8, Scale: 2}},
	}
	for _, change := range illegal {
		assert.False(t, IsIcebergCompatibleWidening(change.From, change.To),
			"%s -> %s", change.From, change.To)
	}
}
