package snapshot

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/google/btree"

	"delta/pkg/actions"
	"delta/pkg/common"
	"delta/pkg/iface"
	"delta/pkg/tableconfig"
)

var (
	ErrLogGap     = errors.New("delta: gap in delta log commit files")
	ErrNoMetadata = errors.New("delta: log has no metadata action")
	ErrNoProtocol = errors.New("delta: log has no protocol action")
)

type addItem struct {
	add *actions.Add
}

func (i addItem) Less(than btree.Item) bool {
	return i.add.Path < than.(addItem).add.Path
}

// Snapshot is an immutable view of the table at one version. Version -1 means
// the table does not exist yet.
type Snapshot struct {
	tablePath string
	logPath   string
	version   int64
	protocol  *actions.Protocol
	metadata  *actions.Metadata
	active    *btree.BTree
	domains   map[string]*actions.DomainMetadata
	txns      map[string]int64
	timestamp int64
	crc       *CRCInfo
}

// Empty returns the before-creation snapshot of a table.
func Empty(tablePath string) *Snapshot {
	return &Snapshot{
		tablePath: tablePath,
		logPath:   common.LogPath(tablePath),
		version:   -1,
		active:    btree.New(8),
		domains:   make(map[string]*actions.DomainMetadata),
		txns:      make(map[string]int64),
	}
}

func (s *Snapshot) TablePath() string             { return s.tablePath }
func (s *Snapshot) LogPath() string               { return s.logPath }
func (s *Snapshot) Version() int64                { return s.version }
func (s *Snapshot) Protocol() *actions.Protocol   { return s.protocol }
func (s *Snapshot) Metadata() *actions.Metadata   { return s.metadata }
func (s *Snapshot) CRC() *CRCInfo                 { return s.crc }
func (s *Snapshot) Exists() bool                  { return s.version >= 0 }
func (s *Snapshot) NumActiveFiles() int           { return s.active.Len() }

// Timestamp is the commit timestamp of the snapshot version: the ICT when
// in-commit timestamps are enabled, the commit file modification time
// otherwise. Zero for an empty snapshot.
func (s *Snapshot) Timestamp() int64 { return s.timestamp }

// ActiveFiles returns the active add actions ordered by path.
func (s *Snapshot) ActiveFiles() []*actions.Add {
	result := make([]*actions.Add, 0, s.active.Len())
	s.active.Ascend(func(item btree.Item) bool {
		result = append(result, item.(addItem).add)
		return true
	})
	return result
}

// ActiveDomain returns the active (non-tombstoned) record for a domain, nil
// when absent.
func (s *Snapshot) ActiveDomain(name string) *actions.DomainMetadata {
	d := s.domains[name]
	if d == nil || d.Removed {
		return nil
	}
	return d
}

// ActiveDomainMap returns all active domains keyed by name.
func (s *Snapshot) ActiveDomainMap() map[string]*actions.DomainMetadata {
	result := make(map[string]*actions.DomainMetadata)
	for name, d := range s.domains {
		if !d.Removed {
			result[name] = d
		}
	}
	return result
}

// AppVersion returns the last committed idempotency version for an
// application id, ok=false when the app never committed.
func (s *Snapshot) AppVersion(appID string) (int64, bool) {
	v, ok := s.txns[appID]
	return v, ok
}

// Load replays the commit log at tablePath. A missing log directory or an
// empty one yields the version -1 snapshot.
func Load(eng iface.Engine, tablePath string) (*Snapshot, error) {
	s := Empty(tablePath)
	files, err := eng.ListFrom(common.DeltaFile(s.logPath, 0))
	if err != nil {
		if errors.Is(err, iface.ErrFileNotFound) {
			return s, nil
		}
		return nil, err
	}

	var commits []iface.FileStatus
	versions := roaring64.NewBitmap()
	for _, f := range files {
		if common.IsCommitFile(f.Path) {
			commits = append(commits, f)
			versions.Add(uint64(common.DeltaVersion(f.Path)))
		}
	}
	if len(commits) == 0 {
		return s, nil
	}
	if versions.Minimum() != 0 || versions.GetCardinality() != versions.Maximum()+1 {
		return nil, fmt.Errorf("%w: have %d commits up to version %d",
			ErrLogGap, versions.GetCardinality(), versions.Maximum())
	}

	iter, err := eng.ReadJSON(commits, actions.ProjectAll)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var lastICT *int64
	for ; iter.Valid(); iter.Next() {
		batch := iter.Batch()
		lastICT = nil
		for _, action := range batch.Actions {
			switch {
			case action.Protocol != nil:
				s.protocol = action.Protocol
			case action.Metadata != nil:
				s.metadata = action.Metadata
			case action.Add != nil:
				s.active.ReplaceOrInsert(addItem{add: action.Add})
			case action.Remove != nil:
				s.active.Delete(addItem{add: &actions.Add{Path: action.Remove.Path}})
			case action.DomainMetadata != nil:
				s.domains[action.DomainMetadata.Domain] = action.DomainMetadata
			case action.Txn != nil:
				s.txns[action.Txn.AppID] = action.Txn.Version
			case action.CommitInfo != nil:
				lastICT = action.CommitInfo.InCommitTimestamp
			}
		}
		s.version = batch.Version
		s.timestamp = batch.File.ModTime
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if s.metadata == nil {
		return nil, ErrNoMetadata
	}
	if s.protocol == nil {
		return nil, ErrNoProtocol
	}
	if tableconfig.InCommitTimestampsEnabled.FromMetadata(s.metadata) && lastICT != nil {
		s.timestamp = *lastICT
	}

	if crc, err := ReadCRC(eng, s.logPath, s.version); err == nil {
		s.crc = crc
	}
	return s, nil
}
