package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Wire shapes for the schemaString representation in the log. A field's type
// is either a type-name string or a nested object, so decoding goes through
// json.RawMessage.

type wireStruct struct {
	Type   string      `json:"type"`
	Fields []wireField `json:"fields"`
}

type wireField struct {
	Name     string                 `json:"name"`
	Type     json.RawMessage        `json:"type"`
	Nullable bool                   `json:"nullable"`
	Metadata map[string]interface{} `json:"metadata"`
}

type wireArray struct {
	Type         string          `json:"type"`
	ElementType  json.RawMessage `json:"elementType"`
	ContainsNull bool            `json:"containsNull"`
}

type wireMap struct {
	Type              string          `json:"type"`
	KeyType           json.RawMessage `json:"keyType"`
	ValueType         json.RawMessage `json:"valueType"`
	ValueContainsNull bool            `json:"valueContainsNull"`
}

func structToWire(t *StructType) map[string]interface{} {
	fields := make([]interface{}, 0, len(t.Fields))
	for i := range t.Fields {
		fields = append(fields, fieldToWire(&t.Fields[i]))
	}
	return map[string]interface{}{
		"type":   "struct",
		"fields": fields,
	}
}

func fieldToWire(f *Field) map[string]interface{} {
	metadata := f.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return map[string]interface{}{
		"name":     f.Name,
		"type":     typeToWire(f.Type),
		"nullable": f.Nullable,
		"metadata": metadata,
	}
}

func typeToWire(t DataType) interface{} {
	switch tt := t.(type) {
	case basicType:
		return string(tt)
	case *DecimalType:
		return tt.String()
	case *StructType:
		return structToWire(tt)
	case *ArrayType:
		return map[string]interface{}{
			"type":         "array",
			"elementType":  typeToWire(tt.ElementType),
			"containsNull": tt.ContainsNull,
		}
	case *MapType:
		return map[string]interface{}{
			"type":              "map",
			"keyType":           typeToWire(tt.KeyType),
			"valueType":         typeToWire(tt.ValueType),
			"valueContainsNull": tt.ValueContainsNull,
		}
	default:
		panic(fmt.Sprintf("unknown data type: %v", t))
	}
}

var decimalPattern = regexp.MustCompile(`^decimal\((\d+),(\d+)\)$`)

func typeFromWire(raw json.RawMessage) (DataType, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if bt, ok := basicTypes[name]; ok {
			return bt, nil
		}
		if m := decimalPattern.FindStringSubmatch(name); m != nil {
			precision, _ := strconv.Atoi(m[1])
			scale, _ := strconv.Atoi(m[2])
			return &DecimalType{Precision: precision, Scale: scale}, nil
		}
		if name == "decimal" {
			return &DecimalType{Precision: 10, Scale: 0}, nil
		}
		return nil, fmt.Errorf("delta: unknown type name %q", name)
	}

	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &kind); err != nil {
		return nil, err
	}
	switch kind.Type {
	case "struct":
		var wire wireStruct
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, err
		}
		return structFromWire(&wire)
	case "array":
		var wire wireArray
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, err
		}
		element, err := typeFromWire(wire.ElementType)
		if err != nil {
			return nil, err
		}
		return &ArrayType{ElementType: element, ContainsNull: wire.ContainsNull}, nil
	case "map":
		var wire wireMap
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, err
		}
		key, err := typeFromWire(wire.KeyType)
		if err != nil {
			return nil, err
		}
		value, err := typeFromWire(wire.ValueType)
		if err != nil {
			return nil, err
		}
		return &MapType{KeyType: key, ValueType: value, ValueContainsNull: wire.ValueContainsNull}, nil
	default:
		return nil, fmt.Errorf("delta: unknown type kind %q", kind.Type)
	}
}

func structFromWire(wire *wireStruct) (*StructType, error) {
	if wire.Type != "struct" {
		return nil, fmt.Errorf("delta: expected struct type, got %q", wire.Type)
	}
	result := &StructType{Fields: make([]Field, 0, len(wire.Fields))}
	for _, wf := range wire.Fields {
		typ, err := typeFromWire(wf.Type)
		if err != nil {
			return nil, err
		}
		result.Fields = append(result.Fields, Field{
			Name:     wf.Name,
			Type:     typ,
			Nullable: wf.Nullable,
			Metadata: wf.Metadata,
		})
	}
	return result, nil
}
