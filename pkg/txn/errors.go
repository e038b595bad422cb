package txn

import (
	"errors"
	"fmt"
)

// Usage errors.
var (
	ErrTableAlreadyExists              = errors.New("delta: table already exists")
	ErrSchemaNotProvided               = errors.New("delta: schema must be provided")
	ErrCreateTableWithNonEmptyLocation = errors.New("delta: location for a managed table must be empty")
	ErrCreateExternalWithoutLog        = errors.New("delta: external table location has no delta log")
	ErrDifferentSchema                 = errors.New("delta: schema differs from the existing table")
	ErrDifferentPartitioning           = errors.New("delta: partition columns differ from the existing table")
	ErrDifferentClustering             = errors.New("delta: clustering columns differ from the existing table")
	ErrDifferentProperties             = errors.New("delta: table properties differ from the existing table")
	ErrDomainDoesNotExist              = errors.New("delta: domain metadata does not exist")
	ErrDomainMetadataUnsupported       = errors.New("delta: domain metadata table feature is not enabled")
	ErrSystemDomain                    = errors.New("delta: system-controlled domain is not writable")
	ErrPartitionColumnMissing          = errors.New("delta: partition column not present in schema")
	ErrReplaceMissingTable             = errors.New("delta: cannot replace a table that does not exist")
	ErrTableNotFound                   = errors.New("delta: table does not exist")
	ErrIllegalOverwriteSchema          = errors.New("delta: overwrite cannot change the table schema")
	ErrReplacingClusteredWithPartitioned = errors.New("delta: cannot replace a clustered table with a partitioned one")
)

// Integrity errors.
var (
	ErrLogGap                  = errors.New("delta: gap in winning commit files")
	ErrDuplicateDomainMetadata = errors.New("delta: duplicate domain metadata in one commit")
	ErrDomainAddAndRemove      = errors.New("delta: domain added and removed in the same transaction")
	ErrWatermarkNotMonotonic   = errors.New("delta: row id high watermark must not decrease")
)

// Concurrency errors. All of them match ErrConcurrentWrite, callers that
// need the specific conflict test the narrower sentinel. Only the file
// collision retries, the rest fail the transaction on first sight.
var (
	ErrConcurrentWrite          = errors.New("delta: conflicting concurrent write")
	ErrProtocolChanged          = fmt.Errorf("%w: protocol changed", ErrConcurrentWrite)
	ErrMetadataChanged          = fmt.Errorf("%w: metadata changed", ErrConcurrentWrite)
	ErrConcurrentTransaction    = fmt.Errorf("%w: application transaction already committed", ErrConcurrentWrite)
	ErrConcurrentDomainMetadata = fmt.Errorf("%w: domain metadata changed", ErrConcurrentWrite)
)

// Lifecycle errors.
var (
	ErrTransactionAlreadyAttempted = errors.New("delta: transaction already attempted to commit")
	ErrCannotModifyAppendOnlyTable = errors.New("delta: cannot remove data from an append-only table")
	ErrMissingCommitTimestamp      = errors.New("delta: winning commit is missing its in-commit timestamp")
)
