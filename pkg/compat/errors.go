package compat

import "errors"

var (
	ErrIncompatibleProperty           = errors.New("delta: table property incompatible with iceberg compat")
	ErrIncompatibleVersion            = errors.New("delta: incompatible iceberg compat version enabled")
	ErrUnsupportedType                = errors.New("delta: schema type not supported by iceberg compat")
	ErrUnsupportedPartitionType       = errors.New("delta: partition type not supported by iceberg compat")
	ErrUnsupportedTypeWidening        = errors.New("delta: type widening not supported by iceberg compat")
	ErrRequiredFeatureMissing         = errors.New("delta: required table feature missing from protocol")
	ErrEnablingCompatOnExistingTable  = errors.New("delta: cannot enable iceberg compat on an existing table")
	ErrDisablingCompatOnExistingTable = errors.New("delta: cannot disable iceberg compat on an existing table")
	ErrMissingNumRecordsStats         = errors.New("delta: missing numRecords statistics")
)
