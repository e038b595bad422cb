package actions

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func int64p(v int64) *int64 { return &v }

func TestSingleActionRoundTrip(t *testing.T) {
	samples := []*SingleAction{
		WrapProtocol(&Protocol{
			MinReaderVersion: 3,
			MinWriterVersion: 7,
			ReaderFeatures:   []string{FeatureColumnMapping},
			WriterFeatures:   []string{FeatureColumnMapping, FeatureDomainMetadata},
		}),
		WrapMetadata(&Metadata{
			ID:               "id-1",
			Format:           Format{Provider: "parquet"},
			SchemaJSON:       `{"type":"struct","fields":[{"name":"a","type":"integer","nullable":true,"metadata":{}}]}`,
			PartitionColumns: []string{"a"},
			CreatedTime:      int64p(1234),
			Configuration:    map[string]string{"delta.appendOnly": "true"},
		}),
		WrapAdd(&Add{
			Path:             "part-00000.parquet",
			PartitionValues:  map[string]string{"a": "1"},
			Size:             1024,
			ModificationTime: 5678,
			DataChange:       true,
			Stats:            `{"numRecords":10}`,
			BaseRowID:        int64p(101),
			DefaultRowCommitVersion: int64p(7),
		}),
		WrapRemove(&Remove{
			Path:              "part-00000.parquet",
			DeletionTimestamp: int64p(999),
			DataChange:        true,
			Size:              int64p(1024),
		}),
		WrapTxn(&Txn{AppID: "app-1", Version: 3, LastUpdated: int64p(42)}),
		WrapCommitInfo(&CommitInfo{
			InCommitTimestamp:   int64p(1000),
			Timestamp:           1000,
			EngineInfo:          "delta-go/test",
			Operation:           "WRITE",
			OperationParameters: map[string]string{},
			TxnID:               "txn-1",
		}),
		WrapDomainMetadata(&DomainMetadata{Domain: "foo", Configuration: `{"k":"1"}`, Removed: false}),
	}

	for _, action := range samples {
		line, err := action.EncodeLine()
		assert.Nil(t, err)
		decoded, err := DecodeLine(line)
		assert.Nil(t, err)
		assert.Equal(t, 1, decoded.Arms())
		reencoded, err := decoded.EncodeLine()
		assert.Nil(t, err)
		assert.Equal(t, string(line), string(reencoded))
	}
}

func TestSingleActionExactlyOneArm(t *testing.T) {
	empty := &SingleAction{}
	assert.ErrorIs(t, empty.Validate(), ErrMalformedAction)
	_, err := empty.EncodeLine()
	assert.NotNil(t, err)

	two := &SingleAction{
		Add:    &Add{Path: "a"},
		Remove: &Remove{Path: "a"},
	}
	assert.ErrorIs(t, two.Validate(), ErrMalformedAction)
}

func TestDecodeLines(t *testing.T) {
	var buf bytes.Buffer
	in := []*SingleAction{
		WrapCommitInfo(&CommitInfo{Timestamp: 1, Operation: "WRITE", OperationParameters: map[string]string{}}),
		WrapAdd(&Add{Path: "f1", DataChange: true}),
		WrapAdd(&Add{Path: "f2", DataChange: true}),
	}
	for _, action := range in {
		line, err := action.EncodeLine()
		assert.Nil(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	out, err := DecodeLines(&buf)
	assert.Nil(t, err)
	assert.Equal(t, 3, len(out))
	assert.NotNil(t, out[0].CommitInfo)
	assert.Equal(t, "f1", out[1].Add.Path)
	assert.Equal(t, "f2", out[2].Add.Path)
}

func TestProjection(t *testing.T) {
	add := WrapAdd(&Add{Path: "f1"})
	assert.Nil(t, add.Project(ConflictProjection))
	assert.NotNil(t, add.Project(ProjectAdd))

	ci := WrapCommitInfo(&CommitInfo{Timestamp: 1})
	projected := ci.Project(ConflictProjection)
	assert.NotNil(t, projected)
	assert.NotNil(t, projected.CommitInfo)
}

func TestAddNumRecords(t *testing.T) {
	add := &Add{Stats: `{"numRecords":12,"minValues":{}}`}
	n, ok := add.NumRecords()
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)

	_, ok = (&Add{}).NumRecords()
	assert.False(t, ok)
	_, ok = (&Add{Stats: `{"minValues":{}}`}).NumRecords()
	assert.False(t, ok)
}

func TestAddToRemove(t *testing.T) {
	add := &Add{Path: "f1", Size: 100, PartitionValues: map[string]string{"p": "1"}}
	remove := add.ToRemove(777, true)
	assert.Equal(t, "f1", remove.Path)
	assert.Equal(t, int64(777), *remove.DeletionTimestamp)
	assert.True(t, remove.DataChange)
	assert.Equal(t, int64(100), *remove.Size)
}

func TestInspectIteratorStopsOnError(t *testing.T) {
	items := []*SingleAction{
		WrapAdd(&Add{Path: "f1"}),
		WrapRemove(&Remove{Path: "f2", DataChange: true}),
		WrapAdd(&Add{Path: "f3"}),
	}
	seen := 0
	iter := InspectIterator(NewSliceIterable(items).Iter(), func(a *SingleAction) error {
		seen++
		if a.Remove != nil {
			return assert.AnError
		}
		return nil
	})
	var drained []*SingleAction
	for ; iter.Valid(); iter.Next() {
		drained = append(drained, iter.Action())
	}
	assert.ErrorIs(t, iter.Err(), assert.AnError)
	assert.Equal(t, 1, len(drained))
	assert.Equal(t, 2, seen)
}

func TestConcatAndMapIterators(t *testing.T) {
	a := NewSliceIterable([]*SingleAction{WrapAdd(&Add{Path: "a"})})
	b := NewSliceIterable([]*SingleAction{WrapAdd(&Add{Path: "b"}), WrapAdd(&Add{Path: "c"})})
	out, err := Collect(ConcatIterators(a.Iter(), b.Iter()))
	assert.Nil(t, err)
	assert.Equal(t, 3, len(out))
	assert.Equal(t, "a", out[0].Add.Path)
	assert.Equal(t, "c", out[2].Add.Path)

	mapped := MapIterable(b, func(action *SingleAction) *SingleAction {
		clone := action.Add.Clone()
		clone.DataChange = true
		return WrapAdd(clone)
	})
	// re-iteration yields the same result
	for i := 0; i < 2; i++ {
		out, err = Collect(mapped.Iter())
		assert.Nil(t, err)
		assert.Equal(t, 2, len(out))
		assert.True(t, out[0].Add.DataChange)
	}
}

func TestProtocolFeatures(t *testing.T) {
	p := DefaultProtocol()
	assert.False(t, IsDomainMetadataSupported(p))

	p = ProtocolWithFeatures(FeatureDomainMetadata, FeatureRowTracking)
	assert.True(t, IsDomainMetadataSupported(p))
	assert.True(t, IsRowTrackingSupported(p))
	assert.Equal(t, TableFeaturesMinWriterVersion, p.MinWriterVersion)

	// reader-writer features land in both lists
	p = p.WithFeature(FeatureColumnMapping)
	assert.True(t, p.SupportsWriterFeature(FeatureColumnMapping))
	assert.True(t, p.SupportsReaderFeature(FeatureColumnMapping))

	// adding twice keeps one entry
	before := len(p.WriterFeatures)
	p = p.WithFeature(FeatureColumnMapping)
	assert.Equal(t, before, len(p.WriterFeatures))
}
