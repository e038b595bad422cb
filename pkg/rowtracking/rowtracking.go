// Package rowtracking maintains the row-id high watermark domain and assigns
// fresh base row ids to staged add files.
package rowtracking

import (
	"encoding/json"
	"errors"

	"delta/pkg/actions"
	"delta/pkg/snapshot"
)

// DomainName is the system domain holding the row-id high watermark.
const DomainName = "delta.rowTracking"

// MissingHighWaterMark is the watermark of a table that never assigned a row
// id.
const MissingHighWaterMark int64 = -1

var (
	ErrMissingNumRecordsStats = errors.New("delta: add file is missing numRecords statistics")
	ErrNegativeWaterMark      = errors.New("delta: rowIdHighWatermark must be >= 0")
)

type domainConfig struct {
	RowIDHighWaterMark int64 `json:"rowIdHighWaterMark"`
}

// ParseConfig extracts the watermark from a domain configuration string.
func ParseConfig(config string) (int64, error) {
	var parsed domainConfig
	if err := json.Unmarshal([]byte(config), &parsed); err != nil {
		return 0, err
	}
	return parsed.RowIDHighWaterMark, nil
}

// NewDomainMetadata builds the watermark domain record.
func NewDomainMetadata(highWaterMark int64) *actions.DomainMetadata {
	raw, _ := json.Marshal(domainConfig{RowIDHighWaterMark: highWaterMark})
	return &actions.DomainMetadata{Domain: DomainName, Configuration: string(raw)}
}

// CurrentHighWaterMark reads the watermark of the snapshot's active
// row-tracking domain.
func CurrentHighWaterMark(snap *snapshot.Snapshot) int64 {
	d := snap.ActiveDomain(DomainName)
	if d == nil {
		return MissingHighWaterMark
	}
	hwm, err := ParseConfig(d.Configuration)
	if err != nil {
		return MissingHighWaterMark
	}
	return hwm
}

func baseWaterMark(snap *snapshot.Snapshot, winnerHighWaterMark *int64) int64 {
	hwm := CurrentHighWaterMark(snap)
	if winnerHighWaterMark != nil && *winnerHighWaterMark > hwm {
		hwm = *winnerHighWaterMark
	}
	return hwm
}

// AssignBaseRowIDs materialises the staged data actions and (re)assigns every
// add's base row id starting after the highest watermark observed, stamping
// defaultRowCommitVersion with the attempted commit version. Adds staged by a
// previous attempt (defaultRowCommitVersion == prevCommitVersion) are
// reassigned, adds that carried ids from elsewhere keep them.
func AssignBaseRowIDs(
	snap *snapshot.Snapshot,
	winnerHighWaterMark *int64,
	prevCommitVersion *int64,
	commitVersion int64,
	data actions.Iterable,
) (actions.Iterable, error) {
	staged, err := actions.Collect(data.Iter())
	if err != nil {
		return nil, err
	}
	next := baseWaterMark(snap, winnerHighWaterMark) + 1
	rewritten := make([]*actions.SingleAction, 0, len(staged))
	for _, action := range staged {
		add := action.Add
		if add == nil {
			rewritten = append(rewritten, action)
			continue
		}
		assignedByUs := add.DefaultRowCommitVersion != nil &&
			prevCommitVersion != nil &&
			*add.DefaultRowCommitVersion == *prevCommitVersion
		if add.BaseRowID != nil && !assignedByUs {
			rewritten = append(rewritten, action)
			continue
		}
		numRecords, ok := add.NumRecords()
		if !ok {
			return nil, ErrMissingNumRecordsStats
		}
		clone := add.Clone()
		base := next
		version := commitVersion
		clone.BaseRowID = &base
		clone.DefaultRowCommitVersion = &version
		next += numRecords
		rewritten = append(rewritten, actions.WrapAdd(clone))
	}
	return actions.NewSliceIterable(rewritten), nil
}

// UpdateHighWaterMarkIfNeeded recomputes the watermark the commit must record
// and upserts the row-tracking domain into the resolved domain list. A
// caller-provided watermark wins outright.
func UpdateHighWaterMarkIfNeeded(
	snap *snapshot.Snapshot,
	winnerHighWaterMark *int64,
	providedHighWaterMark *int64,
	data actions.Iterable,
	domains []*actions.DomainMetadata,
) ([]*actions.DomainMetadata, error) {
	current := CurrentHighWaterMark(snap)
	newHighWaterMark := baseWaterMark(snap, winnerHighWaterMark)

	if providedHighWaterMark != nil {
		if *providedHighWaterMark < 0 {
			return nil, ErrNegativeWaterMark
		}
		newHighWaterMark = *providedHighWaterMark
	} else {
		staged, err := actions.Collect(data.Iter())
		if err != nil {
			return nil, err
		}
		for _, action := range staged {
			if action.Add == nil {
				continue
			}
			numRecords, ok := action.Add.NumRecords()
			if !ok {
				return nil, ErrMissingNumRecordsStats
			}
			newHighWaterMark += numRecords
		}
	}

	if newHighWaterMark == current {
		return dropDomain(domains, DomainName), nil
	}
	return upsertDomain(domains, NewDomainMetadata(newHighWaterMark)), nil
}

func upsertDomain(domains []*actions.DomainMetadata, record *actions.DomainMetadata) []*actions.DomainMetadata {
	for i, d := range domains {
		if d.Domain == record.Domain {
			result := append([]*actions.DomainMetadata(nil), domains...)
			result[i] = record
			return result
		}
	}
	return append(append([]*actions.DomainMetadata(nil), domains...), record)
}

func dropDomain(domains []*actions.DomainMetadata, name string) []*actions.DomainMetadata {
	result := make([]*actions.DomainMetadata, 0, len(domains))
	for _, d := range domains {
		if d.Domain != name {
			result = append(result, d)
		}
	}
	return result
}
