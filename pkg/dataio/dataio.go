// Package dataio carries the built-in storage engines: a local filesystem
// engine with put-if-absent commit semantics and an in-memory engine for
// tests. Both satisfy iface.Engine.
package dataio

import (
	"bytes"

	"delta/pkg/actions"
	"delta/pkg/common"
	"delta/pkg/iface"
)

type batchIterator struct {
	batches []*iface.Batch
	pos     int
	err     error
}

func (it *batchIterator) Valid() bool         { return it.err == nil && it.pos < len(it.batches) }
func (it *batchIterator) Next()               { it.pos++ }
func (it *batchIterator) Batch() *iface.Batch { return it.batches[it.pos] }
func (it *batchIterator) Err() error          { return it.err }
func (it *batchIterator) Close() error        { return nil }

func decodeBatch(file iface.FileStatus, raw []byte, projection actions.Projection) (*iface.Batch, error) {
	decoded, err := actions.DecodeLines(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	batch := &iface.Batch{File: file, Version: common.DeltaVersion(file.Path)}
	for _, action := range decoded {
		if projected := action.Project(projection); projected != nil {
			batch.Actions = append(batch.Actions, projected)
		}
	}
	return batch, nil
}

func encodeAll(iter actions.Iterator) ([]byte, error) {
	defer iter.Close()
	var buf bytes.Buffer
	for ; iter.Valid(); iter.Next() {
		line, err := iter.Action().EncodeLine()
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
