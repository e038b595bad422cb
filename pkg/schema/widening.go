package schema

// IsIcebergCompatibleWidening reports whether a recorded type change is legal
// under the Iceberg spec: integer chain widenings, float to double, date to
// timestamp_ntz, and decimal precision growth at the same scale.
func IsIcebergCompatibleWidening(from, to DataType) bool {
	if fromBasic, ok := from.(basicType); ok {
		if toBasic, ok := to.(basicType); ok {
			return widerBasic(fromBasic, toBasic)
		}
		return false
	}
	fromDec, fromOk := from.(*DecimalType)
	toDec, toOk := to.(*DecimalType)
	if fromOk && toOk {
		return toDec.Scale == fromDec.Scale && toDec.Precision >= fromDec.Precision
	}
	return false
}

func widerBasic(from, to basicType) bool {
	switch from {
	case Byte:
		return to == Short || to == Integer || to == Long
	case Short:
		return to == Integer || to == Long
	case Integer:
		return to == Long
	case Float:
		return to == Double
	case Date:
		return to == TimestampNTZ
	}
	return false
}
