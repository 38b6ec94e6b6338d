package rankdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/airindex-go/airindex/index"
	"github.com/airindex-go/airindex/pagecache"
	"github.com/airindex-go/airindex/store"
)

// Meta is a serializable handle to a RankDB: the base array's state plus,
// if one was attached, the index tree above it.
type Meta struct {
	arrayState store.ArrayStoreState
	hasIndex   bool
	indexMeta  index.Meta
}

// ToMeta captures db's current state for serialization.
func (db *RankDB) ToMeta() (Meta, error) {
	m := Meta{arrayState: db.arrayStore.State()}
	if db.idx != nil {
		im, err := indexToMeta(db.idx)
		if err != nil {
			return Meta{}, fmt.Errorf("rankdb: index to meta: %w", err)
		}
		m.hasIndex = true
		m.indexMeta = im
	}
	return m, nil
}

// FromMeta reconstructs a RankDB from m against live storage handles.
// dataPrefix is the path prefix the base array was written under;
// indexPrefix is the prefix the index layers were written under (these
// may be the same path for a simple deployment, or differ when the index
// is relocated independently of the data it describes).
func FromMeta(ctx context.Context, m Meta, storage *pagecache.Storage, scheme, dataPrefix, indexPrefix string) (*RankDB, error) {
	arrayStore := store.FromArrayState(storage, scheme, dataPrefix, m.arrayState)
	db := New(arrayStore)
	if m.hasIndex {
		rctx := &index.Context{Storage: storage, Scheme: scheme, StorePrefix: indexPrefix}
		idx, err := m.indexMeta.Build(ctx, rctx)
		if err != nil {
			return nil, fmt.Errorf("rankdb: build index from meta: %w", err)
		}
		db.AttachIndex(idx)
	}
	return db, nil
}

// indexToMeta walks a live index tree and captures each node's
// reconstruction state, recursing through StackIndex's upper/lower halves.
func indexToMeta(idx index.Index) (index.Meta, error) {
	switch v := idx.(type) {
	case index.NaiveIndex:
		return index.MetaFromNaive(v), nil
	case *index.StashIndex:
		return index.MetaFromStash(v), nil
	case *index.PiecewiseIndex:
		return index.MetaFromPiecewise(v)
	case *index.StackIndex:
		upperMeta, err := indexToMeta(v.Upper)
		if err != nil {
			return index.Meta{}, err
		}
		lowerMeta, err := indexToMeta(v.Lower)
		if err != nil {
			return index.Meta{}, err
		}
		return index.MetaFromStack(upperMeta, lowerMeta), nil
	default:
		return index.Meta{}, fmt.Errorf("rankdb: cannot serialize index of type %T", idx)
	}
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("rankdb: string %q exceeds max length 255", s)
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(r io.Reader) (string, error) {
	var n [1]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", fmt.Errorf("rankdb: read string length: %w", err)
	}
	raw := make([]byte, n[0])
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", fmt.Errorf("rankdb: read string: %w", err)
	}
	return string(raw), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("rankdb: read uint64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m Meta) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, m.arrayState.Name); err != nil {
		return nil, err
	}
	writeUint64(&buf, uint64(m.arrayState.DataSize))
	writeUint64(&buf, uint64(m.arrayState.Offset))
	writeUint64(&buf, uint64(m.arrayState.Length))
	if !m.hasIndex {
		buf.WriteByte(0)
		return buf.Bytes(), nil
	}
	buf.WriteByte(1)
	ib, err := m.indexMeta.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("rankdb: marshal index meta: %w", err)
	}
	writeUint64(&buf, uint64(len(ib)))
	buf.Write(ib)
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *Meta) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	name, err := readString(r)
	if err != nil {
		return err
	}
	dataSize, err := readUint64(r)
	if err != nil {
		return err
	}
	offset, err := readUint64(r)
	if err != nil {
		return err
	}
	length, err := readUint64(r)
	if err != nil {
		return err
	}
	m.arrayState = store.ArrayStoreState{Name: name, DataSize: int(dataSize), Offset: int(offset), Length: int(length)}

	flag, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("rankdb: read index flag: %w", err)
	}
	if flag != 1 {
		m.hasIndex = false
		return nil
	}
	n, err := readUint64(r)
	if err != nil {
		return err
	}
	ib := make([]byte, n)
	if _, err := io.ReadFull(r, ib); err != nil {
		return fmt.Errorf("rankdb: read index meta blob: %w", err)
	}
	if err := m.indexMeta.UnmarshalBinary(ib); err != nil {
		return err
	}
	m.hasIndex = true
	return nil
}
