package actions

import (
	"encoding/json"
	"strings"

	"delta/pkg/schema"
)

// Protocol pins the reader/writer feature sets required to interpret the
// table.
type Protocol struct {
	MinReaderVersion int32    `json:"minReaderVersion"`
	MinWriterVersion int32    `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

func (p *Protocol) SupportsWriterFeature(feature string) bool {
	for _, f := range p.WriterFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

func (p *Protocol) SupportsReaderFeature(feature string) bool {
	for _, f := range p.ReaderFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

func (p *Protocol) Clone() *Protocol {
	clone := *p
	clone.ReaderFeatures = append([]string(nil), p.ReaderFeatures...)
	clone.WriterFeatures = append([]string(nil), p.WriterFeatures...)
	return &clone
}

type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options,omitempty"`
}

// Metadata is the table's logical descriptor. SchemaJSON carries the schema
// in its wire shape, DataSchema parses it on demand.
type Metadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaJSON       string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	CreatedTime      *int64            `json:"createdTime,omitempty"`
	Configuration    map[string]string `json:"configuration"`

	parsedSchema *schema.StructType `json:"-"`
}

// DataSchema parses the schema string, caching the result. Mutating the
// returned struct is not allowed.
func (m *Metadata) DataSchema() (*schema.StructType, error) {
	if m.parsedSchema != nil {
		return m.parsedSchema, nil
	}
	parsed, err := schema.FromJSON(m.SchemaJSON)
	if err != nil {
		return nil, err
	}
	m.parsedSchema = parsed
	return parsed, nil
}

// WithSchema returns a copy carrying the given schema.
func (m *Metadata) WithSchema(s *schema.StructType) (*Metadata, error) {
	raw, err := s.ToJSON()
	if err != nil {
		return nil, err
	}
	clone := m.Clone()
	clone.SchemaJSON = raw
	clone.parsedSchema = s
	return clone, nil
}

// WithMergedConfiguration returns a copy with the given keys overlaid on the
// existing configuration.
func (m *Metadata) WithMergedConfiguration(overrides map[string]string) *Metadata {
	clone := m.Clone()
	for k, v := range overrides {
		clone.Configuration[k] = v
	}
	return clone
}

func (m *Metadata) Clone() *Metadata {
	clone := *m
	clone.PartitionColumns = append([]string(nil), m.PartitionColumns...)
	clone.Configuration = make(map[string]string, len(m.Configuration))
	for k, v := range m.Configuration {
		clone.Configuration[k] = v
	}
	return &clone
}

// Add introduces a data file into the table.
type Add struct {
	Path                    string            `json:"path"`
	PartitionValues         map[string]string `json:"partitionValues"`
	Size                    int64             `json:"size"`
	ModificationTime        int64             `json:"modificationTime"`
	DataChange              bool              `json:"dataChange"`
	Stats                   string            `json:"stats,omitempty"`
	Tags                    map[string]string `json:"tags,omitempty"`
	BaseRowID               *int64            `json:"baseRowId,omitempty"`
	DefaultRowCommitVersion *int64            `json:"defaultRowCommitVersion,omitempty"`
}

func (a *Add) Clone() *Add {
	clone := *a
	if a.BaseRowID != nil {
		v := *a.BaseRowID
		clone.BaseRowID = &v
	}
	if a.DefaultRowCommitVersion != nil {
		v := *a.DefaultRowCommitVersion
		clone.DefaultRowCommitVersion = &v
	}
	return &clone
}

// NumRecords extracts the record count from the file statistics. ok is false
// when stats are absent or carry no count.
func (a *Add) NumRecords() (int64, bool) {
	if a.Stats == "" {
		return 0, false
	}
	var stats struct {
		NumRecords *int64 `json:"numRecords"`
	}
	if err := json.Unmarshal([]byte(a.Stats), &stats); err != nil || stats.NumRecords == nil {
		return 0, false
	}
	return *stats.NumRecords, true
}

// ToRemove tombstones the file at the given timestamp.
func (a *Add) ToRemove(deletionTimestamp int64, dataChange bool) *Remove {
	size := a.Size
	return &Remove{
		Path:              a.Path,
		DeletionTimestamp: &deletionTimestamp,
		DataChange:        dataChange,
		PartitionValues:   a.PartitionValues,
		Size:              &size,
	}
}

// Remove tombstones a data file.
type Remove struct {
	Path              string            `json:"path"`
	DeletionTimestamp *int64            `json:"deletionTimestamp,omitempty"`
	DataChange        bool              `json:"dataChange"`
	PartitionValues   map[string]string `json:"partitionValues,omitempty"`
	Size              *int64            `json:"size,omitempty"`
}

// Txn is an application idempotency marker.
type Txn struct {
	AppID       string `json:"appId"`
	Version     int64  `json:"version"`
	LastUpdated *int64 `json:"lastUpdated,omitempty"`
}

// CommitInfo is the per-commit audit record, always the first action in a
// commit file.
type CommitInfo struct {
	InCommitTimestamp   *int64            `json:"inCommitTimestamp,omitempty"`
	Timestamp           int64             `json:"timestamp"`
	EngineInfo          string            `json:"engineInfo"`
	Operation           string            `json:"operation"`
	OperationParameters map[string]string `json:"operationParameters"`
	IsBlindAppend       bool              `json:"isBlindAppend"`
	TxnID               string            `json:"txnId"`
	OperationMetrics    map[string]string `json:"operationMetrics,omitempty"`
}

// SystemDomainPrefix marks domain names reserved for table features.
const SystemDomainPrefix = "delta."

// DomainMetadata is a named key/value slot in the log. A record with
// Removed=true is a tombstone shadowing earlier records for the same domain.
type DomainMetadata struct {
	Domain        string `json:"domain"`
	Configuration string `json:"configuration"`
	Removed       bool   `json:"removed"`
}

func (d *DomainMetadata) IsUserControlled() bool {
	return !strings.HasPrefix(d.Domain, SystemDomainPrefix)
}

func IsUserControlledDomain(domain string) bool {
	return !strings.HasPrefix(domain, SystemDomainPrefix)
}

// AsRemoved returns a tombstone for the domain.
func (d *DomainMetadata) AsRemoved() *DomainMetadata {
	return &DomainMetadata{Domain: d.Domain, Configuration: d.Configuration, Removed: true}
}
