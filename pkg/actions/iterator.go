package actions

import "io"

// Iterator walks a stream of actions. Callers own the iterator for the
// duration of one commit attempt and must Close it on every exit path.
type Iterator interface {
	io.Closer
	Valid() bool
	Next()
	Action() *SingleAction
	Err() error
}

// Iterable hands out fresh iterators over the same logical stream. Commit
// retries re-acquire the stream through this.
type Iterable interface {
	Iter() Iterator
}

type sliceIterator struct {
	items []*SingleAction
	pos   int
}

func (it *sliceIterator) Valid() bool           { return it.pos < len(it.items) }
func (it *sliceIterator) Next()                 { it.pos++ }
func (it *sliceIterator) Action() *SingleAction { return it.items[it.pos] }
func (it *sliceIterator) Err() error            { return nil }
func (it *sliceIterator) Close() error          { return nil }

type sliceIterable struct {
	items []*SingleAction
}

func (s *sliceIterable) Iter() Iterator {
	return &sliceIterator{items: s.items}
}

// NewSliceIterable wraps a materialised action list.
func NewSliceIterable(items []*SingleAction) Iterable {
	return &sliceIterable{items: items}
}

// EmptyIterable is an iterable over no actions.
var EmptyIterable Iterable = &sliceIterable{}

type mapIterable struct {
	inner Iterable
	fn    func(*SingleAction) *SingleAction
}

func (m *mapIterable) Iter() Iterator {
	return &mapIterator{inner: m.inner.Iter(), fn: m.fn}
}

type mapIterator struct {
	inner Iterator
	fn    func(*SingleAction) *SingleAction
}

func (it *mapIterator) Valid() bool           { return it.inner.Valid() }
func (it *mapIterator) Next()                 { it.inner.Next() }
func (it *mapIterator) Action() *SingleAction { return it.fn(it.inner.Action()) }
func (it *mapIterator) Err() error            { return it.inner.Err() }
func (it *mapIterator) Close() error          { return it.inner.Close() }

// MapIterable lazily applies fn to every action of inner. fn runs again on
// every re-iteration, it must be deterministic.
func MapIterable(inner Iterable, fn func(*SingleAction) *SingleAction) Iterable {
	return &mapIterable{inner: inner, fn: fn}
}

type concatIterator struct {
	iters []Iterator
	pos   int
}

func (it *concatIterator) Valid() bool {
	for it.pos < len(it.iters) && !it.iters[it.pos].Valid() {
		it.pos++
	}
	return it.pos < len(it.iters)
}

func (it *concatIterator) Next()                 { it.iters[it.pos].Next() }
func (it *concatIterator) Action() *SingleAction { return it.iters[it.pos].Action() }

func (it *concatIterator) Err() error {
	for _, inner := range it.iters {
		if err := inner.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (it *concatIterator) Close() error {
	var err error
	for _, inner := range it.iters {
		if cerr := inner.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ConcatIterators chains iterators in order.
func ConcatIterators(iters ...Iterator) Iterator {
	return &concatIterator{iters: iters}
}

type inspectIterator struct {
	inner     Iterator
	fn        func(*SingleAction) error
	err       error
	inspected bool
}

func (it *inspectIterator) Valid() bool {
	if it.err != nil {
		return false
	}
	if !it.inner.Valid() {
		return false
	}
	if !it.inspected {
		it.inspected = true
		if err := it.fn(it.inner.Action()); err != nil {
			it.err = err
			return false
		}
	}
	return true
}

func (it *inspectIterator) Next() {
	it.inspected = false
	it.inner.Next()
}
func (it *inspectIterator) Action() *SingleAction { return it.inner.Action() }

func (it *inspectIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Err()
}

func (it *inspectIterator) Close() error { return it.inner.Close() }

// InspectIterator runs fn on every action as it streams by. A non-nil error
// stops the stream and surfaces through Err. fn sees each action exactly once
// per pass.
func InspectIterator(inner Iterator, fn func(*SingleAction) error) Iterator {
	return &inspectIterator{inner: inner, fn: fn}
}

// Collect drains an iterator into a slice and closes it.
func Collect(it Iterator) ([]*SingleAction, error) {
	defer it.Close()
	var result []*SingleAction
	for ; it.Valid(); it.Next() {
		result = append(result, it.Action())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
