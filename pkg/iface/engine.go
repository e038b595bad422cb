package iface

import (
	"errors"
	"io"

	"delta/pkg/actions"
)

var (
	ErrFileAlreadyExists = errors.New("delta: file already exists")
	ErrFileNotFound      = errors.New("delta: file not found")
)

// FileStatus describes one object in the store.
type FileStatus struct {
	Path    string
	Size    int64
	ModTime int64
}

// Batch holds the projected actions decoded from one commit file.
type Batch struct {
	File    FileStatus
	Version int64
	Actions []*actions.SingleAction
}

type BatchIterator interface {
	io.Closer
	Valid() bool
	Next()
	Batch() *Batch
	Err() error
}

// Engine is the storage collaborator. Implementations must make
// WriteJSONAtomically fail with ErrFileAlreadyExists when the target path
// exists and overwrite is false.
type Engine interface {
	// ListFrom returns all files in the parent directory of startPath whose
	// path is >= startPath, in lexical order.
	ListFrom(startPath string) ([]FileStatus, error)

	// ReadJSON decodes the given commit files keeping only the projected
	// action arms. Batches are yielded in the order of files.
	ReadJSON(files []FileStatus, projection actions.Projection) (BatchIterator, error)

	// WriteJSONAtomically writes one action per line. The file becomes
	// visible all-at-once or not at all.
	WriteJSONAtomically(path string, iter actions.Iterator, overwrite bool) error

	// Mkdirs creates the directory and any missing parents.
	Mkdirs(path string) (bool, error)
}
