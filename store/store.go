// Package store implements the two on-disk layouts a base array or an
// index layer's artifacts can be written in: ArrayStore, fixed-size
// records addressed by binary search, and BlockStore, variable-size
// records paginated into fixed-size flag-prefixed pages.
package store

import (
	"context"
	"encoding/binary"

	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
)

// SerializeKeyBuffer prepends kb.Key (little-endian) to kb.Buffer, the
// on-disk record format both store layouts write.
func SerializeKeyBuffer(kb model.KeyBuffer) []byte {
	out := make([]byte, 0, keyrank.KeyLength+len(kb.Buffer))
	var kb8 [8]byte
	binary.LittleEndian.PutUint64(kb8[:], kb.Key)
	out = append(out, kb8[:]...)
	out = append(out, kb.Buffer...)
	return out
}

// DeserializeKeyBuffer splits a record back into its key and payload. The
// returned Buffer aliases raw; callers that retain it past raw's lifetime
// must copy it first.
func DeserializeKeyBuffer(raw []byte) model.KeyBuffer {
	key := binary.LittleEndian.Uint64(raw[:keyrank.KeyLength])
	return model.KeyBuffer{Key: key, Buffer: raw[keyrank.KeyLength:]}
}

func deserializeKeyOnly(raw []byte) keyrank.Key {
	return binary.LittleEndian.Uint64(raw[:keyrank.KeyLength])
}

// Writer appends key buffers to a fresh generation of a data store.
type Writer interface {
	Write(kb model.KeyBuffer) error
	// Commit flushes the written records and returns the key-position
	// collection a model builder can draft the layer above from.
	Commit(ctx context.Context) (*keyrank.Collection, error)
}

// ReaderIter walks every record of a Reader in key order.
type ReaderIter interface {
	Next() (model.KeyBuffer, bool)
}

// Reader serves point lookups and full scans over one generation of a
// data store.
type Reader interface {
	Iter() ReaderIter
	// FirstOf returns the record with the largest key <= key, or
	// aerrors.ErrOutOfCoverage if key falls below every record.
	FirstOf(key keyrank.Key) (model.KeyBuffer, error)
}

// RankReader is implemented by readers that can report a record's
// absolute rank in the base array alongside the record itself: the
// rank DB's final narrowing step needs this, not just the key match
// FirstOf already gives every Reader.
type RankReader interface {
	FirstOfWithRank(key keyrank.Key) (model.KeyBuffer, int, error)
	CeilingWithRank(key keyrank.Key) (model.KeyBuffer, int, error)
}

// DataStore is the read/write contract both ArrayStore and BlockStore
// implement.
type DataStore interface {
	BeginWrite() Writer
	ReadAll(ctx context.Context) (Reader, error)
	ReadWithin(ctx context.Context, offset, length keyrank.Position) (Reader, error)
	RelevantPaths() []string
}
