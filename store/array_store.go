package store

import (
	"context"
	"fmt"
	"path"

	"github.com/valyala/bytebufferpool"

	"github.com/airindex-go/airindex/aerrors"
	"github.com/airindex-go/airindex/blob"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/pagecache"
)

// ArrayStoreState is the serializable state of an ArrayStore: its name
// relative to a store prefix, record size, and current extent.
type ArrayStoreState struct {
	Name     string
	DataSize int
	Offset   int // byte offset of the first record (room for a header)
	Length   int // number of records currently written
}

// ArrayStore lays out fixed-size records back to back in a single file,
// addressed by binary search over the array.
type ArrayStore struct {
	storage    *pagecache.Storage
	scheme     string
	prefixPath string
	state      ArrayStoreState
}

// NewArrayStoreSized returns an ArrayStore of dataSize-byte fixed records
// rooted at prefixPath/name.
func NewArrayStoreSized(storage *pagecache.Storage, scheme, prefixPath, name string, dataSize int) *ArrayStore {
	return &ArrayStore{
		storage:    storage,
		scheme:     scheme,
		prefixPath: prefixPath,
		state:      ArrayStoreState{Name: name, DataSize: dataSize},
	}
}

// FromExact returns an ArrayStore over an array that has already been
// written, so reads can start immediately without a BeginWrite/Commit round.
func FromExact(storage *pagecache.Storage, scheme, prefixPath, name string, dataSize, offset, length int) *ArrayStore {
	as := NewArrayStoreSized(storage, scheme, prefixPath, name, dataSize)
	as.state.Offset = offset
	as.state.Length = length
	return as
}

// FromArrayState resumes an ArrayStore from previously persisted state.
func FromArrayState(storage *pagecache.Storage, scheme, prefixPath string, state ArrayStoreState) *ArrayStore {
	return &ArrayStore{storage: storage, scheme: scheme, prefixPath: prefixPath, state: state}
}

// State returns the store's current persistable state.
func (as *ArrayStore) State() ArrayStoreState { return as.state }

func (as *ArrayStore) fullPath() string { return path.Join(as.prefixPath, as.state.Name) }

// DataSize returns the fixed per-record size.
func (as *ArrayStore) DataSize() int { return as.state.DataSize }

// ReadAllSize returns the total byte size of the whole array, the size a
// lookup would have to read with no index at all above it.
func (as *ArrayStore) ReadAllSize() int { return as.readAllSize() }

func (as *ArrayStore) readAllSize() int { return as.state.Length * as.state.DataSize }

func (as *ArrayStore) readPageRange(ctx context.Context, offset, length int) (*blob.Rope, int, error) {
	dataSize := as.state.DataSize
	endOffset := offset + length
	startRank := offset / dataSize
	if offset%dataSize != 0 {
		startRank++
	}
	if startRank > as.state.Length-1 {
		startRank = as.state.Length - 1
	}
	if startRank < 0 {
		startRank = 0
	}
	endRank := endOffset / dataSize
	if endOffset%dataSize != 0 {
		endRank++
	}
	if endRank > as.state.Length {
		endRank = as.state.Length
	}

	data, err := as.storage.ReadRange(ctx, as.scheme, as.fullPath(), blob.Range{
		Offset: int64(startRank*dataSize + as.state.Offset),
		Length: int64((endRank - startRank) * dataSize),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("store: array read range: %w", err)
	}
	var rope blob.Rope
	rope.Push(data)
	return &rope, startRank, nil
}

// ReadAll implements DataStore.
func (as *ArrayStore) ReadAll(ctx context.Context) (Reader, error) {
	return as.ReadWithin(ctx, 0, keyrank.Position(as.readAllSize()))
}

// ReadWithin implements DataStore.
func (as *ArrayStore) ReadWithin(ctx context.Context, offset, length keyrank.Position) (Reader, error) {
	rope, startRank, err := as.readPageRange(ctx, int(offset), int(length))
	if err != nil {
		return nil, err
	}
	return &ArrayStoreReader{view: rope, startRank: startRank, dataSize: as.state.DataSize}, nil
}

// RelevantPaths implements DataStore.
func (as *ArrayStore) RelevantPaths() []string { return []string{as.fullPath()} }

// BeginWrite implements DataStore.
func (as *ArrayStore) BeginWrite() Writer {
	as.state.Length = 0
	return &ArrayStoreWriter{owner: as, kps: keyrank.New()}
}

/* Writer */

// ArrayStoreWriter accumulates fixed-size records in memory and flushes
// them as a single file on Commit.
type ArrayStoreWriter struct {
	owner  *ArrayStore
	buffer []byte
	kps    *keyrank.Collection
}

// Write implements Writer.
func (w *ArrayStoreWriter) Write(kb model.KeyBuffer) error {
	record := SerializeKeyBuffer(kb)
	if len(record) != w.owner.state.DataSize {
		return fmt.Errorf("store: array record size %d does not match fixed size %d", len(record), w.owner.state.DataSize)
	}
	position := len(w.buffer)
	w.buffer = append(w.buffer, record...)
	w.kps.Push(kb.Key, keyrank.Position(position))
	return nil
}

// Commit implements Writer.
func (w *ArrayStoreWriter) Commit(ctx context.Context) (*keyrank.Collection, error) {
	length := w.kps.Len()
	if err := w.owner.storage.WriteAll(ctx, w.owner.scheme, w.owner.fullPath(), w.buffer); err != nil {
		return nil, fmt.Errorf("store: flush array: %w", err)
	}
	w.owner.state.Length += length
	w.kps.SetPositionRange(0, keyrank.Position(length*w.owner.state.DataSize))
	return w.kps, nil
}

/* Reader */

// ArrayStoreReader serves first-of and full-scan queries over one array
// read.
type ArrayStoreReader struct {
	view      *blob.Rope
	startRank int
	dataSize  int
}

func (r *ArrayStoreReader) numRecords() int { return r.view.Len() / r.dataSize }

func (r *ArrayStoreReader) kbAt(idx int) model.KeyBuffer {
	off := idx * r.dataSize
	return DeserializeKeyBuffer(r.view.CloneWithin(off, off+r.dataSize))
}

// staged materializes this reader's whole window into one pooled scratch
// buffer up front, so a binary search can slice key comparisons directly
// out of it instead of allocating a copy per comparison step. Only the
// single matched record is ever copied out for the caller to keep; the
// scratch buffer is returned to the pool once the search concludes.
type staged struct {
	bb       *bytebufferpool.ByteBuffer
	buf      []byte
	dataSize int
}

func (r *ArrayStoreReader) stage() *staged {
	bb := bytebufferpool.Get()
	bb.B = r.view.CloneAllInto(bb.B)
	return &staged{bb: bb, buf: bb.B, dataSize: r.dataSize}
}

func (s *staged) release() { bytebufferpool.Put(s.bb) }

func (s *staged) numRecords() int { return len(s.buf) / s.dataSize }

func (s *staged) keyAt(idx int) keyrank.Key {
	off := idx * s.dataSize
	return deserializeKeyOnly(s.buf[off : off+keyrank.KeyLength])
}

// kbAt copies idx's record out of the scratch buffer, since the returned
// KeyBuffer must outlive staged's pooled backing array.
func (s *staged) kbAt(idx int) model.KeyBuffer {
	off := idx * s.dataSize
	raw := make([]byte, s.dataSize)
	copy(raw, s.buf[off:off+s.dataSize])
	return DeserializeKeyBuffer(raw)
}

// FirstOfWithRank is like FirstOf but also returns the record's absolute
// rank in the array (offset by the rank of the first record in this read).
func (r *ArrayStoreReader) FirstOfWithRank(key keyrank.Key) (model.KeyBuffer, int, error) {
	s := r.stage()
	defer s.release()

	n := s.numRecords()
	l, rr := 0, n
	for l+1 < rr {
		mid := l + (rr-l)/2
		midKey := s.keyAt(mid)
		switch {
		case midKey < key:
			l = mid
		default: // midKey == key or midKey > key: smallest midKey <= key stays left of r
			rr = mid
		}
	}
	isNotTail := rr < n
	idx := l
	if isNotTail && s.keyAt(rr) == key && s.keyAt(l) != key {
		idx = rr
	}
	if idx >= n || s.keyAt(idx) > key {
		return model.KeyBuffer{}, 0, aerrors.ErrOutOfCoverage
	}
	return s.kbAt(idx), idx + r.startRank, nil
}

// FirstOf implements Reader.
func (r *ArrayStoreReader) FirstOf(key keyrank.Key) (model.KeyBuffer, error) {
	kb, _, err := r.FirstOfWithRank(key)
	return kb, err
}

// CeilingWithRank returns the record with the smallest key >= key (and its
// absolute rank), or aerrors.ErrOutOfCoverage if every record in this read
// has a smaller key.
func (r *ArrayStoreReader) CeilingWithRank(key keyrank.Key) (model.KeyBuffer, int, error) {
	s := r.stage()
	defer s.release()

	n := s.numRecords()
	l, rr := 0, n
	for l < rr {
		mid := l + (rr-l)/2
		if s.keyAt(mid) < key {
			l = mid + 1
		} else {
			rr = mid
		}
	}
	if l >= n {
		return model.KeyBuffer{}, 0, aerrors.ErrOutOfCoverage
	}
	return s.kbAt(l), l + r.startRank, nil
}

// Iter implements Reader.
func (r *ArrayStoreReader) Iter() ReaderIter {
	return &arrayStoreReaderIter{r: r, idx: 0}
}

type arrayStoreReaderIter struct {
	r   *ArrayStoreReader
	idx int
}

// Next implements ReaderIter.
func (it *arrayStoreReaderIter) Next() (model.KeyBuffer, bool) {
	if it.idx >= it.r.numRecords() {
		return model.KeyBuffer{}, false
	}
	kb := it.r.kbAt(it.idx)
	it.idx++
	return kb, true
}
