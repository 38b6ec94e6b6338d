package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	bin "github.com/gagliardetto/binary"

	"github.com/airindex-go/airindex/aerrors"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/model/band"
	"github.com/airindex-go/airindex/model/step"
	"github.com/airindex-go/airindex/pagecache"
	"github.com/airindex-go/airindex/store"
)

// Context carries the live handles a reloaded tree needs but a Meta
// envelope cannot itself carry: the page-cache facade and the scheme and
// path prefix its data stores resolve their files under.
type Context struct {
	Storage     *pagecache.Storage
	Scheme      string
	StorePrefix string
}

func (c *Context) requireStorage() error {
	if c == nil || c.Storage == nil || c.Scheme == "" {
		return aerrors.ErrMissingContext
	}
	return nil
}

// decoder is the read side every Meta envelope unmarshals through: a
// Borsh decoder over an in-memory buffer gives both byte-at-a-time and
// bulk reads.
type decoder interface {
	io.ByteReader
	io.Reader
}

func newDecoder(b []byte) decoder { return bin.NewBorshDecoder(b) }

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("index: string %q exceeds max length 255", s)
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readString(d decoder) (string, error) {
	n, err := d.ReadByte()
	if err != nil {
		return "", fmt.Errorf("index: read string length: %w", err)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(d, raw); err != nil {
		return "", fmt.Errorf("index: read string: %w", err)
	}
	return string(raw), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(d decoder) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d, b[:]); err != nil {
		return 0, fmt.Errorf("index: read uint64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	if len(b) > 1<<24 {
		return fmt.Errorf("index: byte blob of %d bytes exceeds max", len(b))
	}
	var lenb [4]byte
	binary.LittleEndian.PutUint32(lenb[:], uint32(len(b)))
	buf.Write(lenb[:])
	buf.Write(b)
	return nil
}

func readBytes(d decoder) ([]byte, error) {
	var lenb [4]byte
	if _, err := io.ReadFull(d, lenb[:]); err != nil {
		return nil, fmt.Errorf("index: read blob length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenb[:])
	raw := make([]byte, n)
	if _, err := io.ReadFull(d, raw); err != nil {
		return nil, fmt.Errorf("index: read blob: %w", err)
	}
	return raw, nil
}

/* data store meta: a tagged handle to either on-disk layout */

const (
	dataStoreKindArray byte = iota
	dataStoreKindBlock
)

// DataStoreMeta is a serializable handle to a store.DataStore: the layout
// kind plus enough state to reconstruct it against a reload Context,
// without needing the live *pagecache.Storage at encode time.
type DataStoreMeta struct {
	kind       byte
	arrayState store.ArrayStoreState
	blockState store.BlockStoreState
}

// DataStoreMetaFromArray captures an ArrayStore's reload state.
func DataStoreMetaFromArray(as *store.ArrayStore) DataStoreMeta {
	return DataStoreMeta{kind: dataStoreKindArray, arrayState: as.State()}
}

// DataStoreMetaFromBlock captures a BlockStore's reload state.
func DataStoreMetaFromBlock(bs *store.BlockStore) DataStoreMeta {
	return DataStoreMeta{kind: dataStoreKindBlock, blockState: bs.State()}
}

// Build reconstructs the live store.DataStore this meta describes.
func (m DataStoreMeta) Build(ctx *Context) (store.DataStore, error) {
	if err := ctx.requireStorage(); err != nil {
		return nil, err
	}
	switch m.kind {
	case dataStoreKindArray:
		return store.FromArrayState(ctx.Storage, ctx.Scheme, ctx.StorePrefix, m.arrayState), nil
	case dataStoreKindBlock:
		return store.FromBlockState(ctx.Storage, ctx.Scheme, ctx.StorePrefix, m.blockState), nil
	default:
		return nil, fmt.Errorf("index: unknown data store kind %d", m.kind)
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m DataStoreMeta) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(m.kind)
	switch m.kind {
	case dataStoreKindArray:
		if err := writeString(&buf, m.arrayState.Name); err != nil {
			return nil, err
		}
		writeUint64(&buf, uint64(m.arrayState.DataSize))
		writeUint64(&buf, uint64(m.arrayState.Offset))
		writeUint64(&buf, uint64(m.arrayState.Length))
	case dataStoreKindBlock:
		cfg := m.blockState.Cfg
		if err := writeString(&buf, cfg.BlockName); err != nil {
			return nil, err
		}
		writeUint64(&buf, uint64(cfg.BlockSize))
		writeUint64(&buf, uint64(cfg.PageSize))
		writeUint64(&buf, uint64(m.blockState.TotalPages))
	default:
		return nil, fmt.Errorf("index: unknown data store kind %d", m.kind)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *DataStoreMeta) UnmarshalBinary(b []byte) error {
	d := newDecoder(b)
	kind, err := d.ReadByte()
	if err != nil {
		return fmt.Errorf("index: read data store kind: %w", err)
	}
	m.kind = kind
	switch kind {
	case dataStoreKindArray:
		name, err := readString(d)
		if err != nil {
			return err
		}
		dataSize, err := readUint64(d)
		if err != nil {
			return err
		}
		offset, err := readUint64(d)
		if err != nil {
			return err
		}
		length, err := readUint64(d)
		if err != nil {
			return err
		}
		m.arrayState = store.ArrayStoreState{Name: name, DataSize: int(dataSize), Offset: int(offset), Length: int(length)}
	case dataStoreKindBlock:
		name, err := readString(d)
		if err != nil {
			return err
		}
		blockSize, err := readUint64(d)
		if err != nil {
			return err
		}
		pageSize, err := readUint64(d)
		if err != nil {
			return err
		}
		totalPages, err := readUint64(d)
		if err != nil {
			return err
		}
		cfg := store.NewBlockStoreConfig(name).WithBlockSize(int(blockSize)).WithPageSize(int(pageSize))
		m.blockState = store.BlockStoreState{Cfg: *cfg, TotalPages: int(totalPages)}
	default:
		return fmt.Errorf("index: unknown data store kind %d", kind)
	}
	return nil
}

/* model serde meta: which submodel family reconstructs a PiecewiseIndex's artifacts */

const (
	modelKindStep byte = iota
	modelKindBand
)

func reconKind(r model.Recon) (byte, error) {
	switch r.(type) {
	case *step.Recon:
		return modelKindStep, nil
	case *band.Recon:
		return modelKindBand, nil
	default:
		return 0, fmt.Errorf("index: unrecognized model recon type %T", r)
	}
}

func reconFromKind(kind byte) (model.Recon, error) {
	switch kind {
	case modelKindStep:
		return step.NewRecon(), nil
	case modelKindBand:
		return band.NewRecon(), nil
	default:
		return nil, fmt.Errorf("index: unknown model kind %d", kind)
	}
}

/* index meta: a tagged handle to a whole index layer */

const (
	indexKindNaive byte = iota
	indexKindStash
	indexKindPiecewise
	indexKindStack
)

// Meta is a serializable handle to an Index, reconstructible against a
// reload Context without needing the live storage handles at encode time.
type Meta struct {
	kind       byte
	naive      NaiveIndex
	stashPaths []string
	dataStore  DataStoreMeta
	modelKind  byte
	upper      *Meta
	lower      *Meta
}

// MetaFromNaive captures a NaiveIndex.
func MetaFromNaive(ni NaiveIndex) Meta {
	return Meta{kind: indexKindNaive, naive: ni}
}

// MetaFromStash captures a StashIndex. The stash contents themselves are
// not serialized; only the paths are recorded, and Build re-reads and
// re-warms them against the live Context.
func MetaFromStash(si *StashIndex) Meta {
	paths := make([]string, len(si.Stashes))
	for i, s := range si.Stashes {
		paths[i] = s.Path
	}
	return Meta{
		kind:       indexKindStash,
		naive:      si.NaiveIndex,
		stashPaths: paths,
	}
}

// MetaFromPiecewise captures a PiecewiseIndex.
func MetaFromPiecewise(pi *PiecewiseIndex) (Meta, error) {
	kind, err := reconKind(pi.modelSerde)
	if err != nil {
		return Meta{}, err
	}
	return Meta{
		kind:      indexKindPiecewise,
		dataStore: pi.dataStoreMeta,
		modelKind: kind,
	}, nil
}

// MetaFromStack captures a StackIndex, recursing into its upper and
// lower halves.
func MetaFromStack(upper, lower Meta) Meta {
	return Meta{kind: indexKindStack, upper: &upper, lower: &lower}
}

// Build reconstructs the live Index this meta describes. ctx is only used
// by the stash variant, which eagerly re-reads and re-warms its paths.
func (m Meta) Build(ctx context.Context, rctx *Context) (Index, error) {
	switch m.kind {
	case indexKindNaive:
		return m.naive, nil
	case indexKindStack:
		upperIdx, err := m.upper.Build(ctx, rctx)
		if err != nil {
			return nil, fmt.Errorf("index: stack upper build: %w", err)
		}
		lowerIdx, err := m.lower.Build(ctx, rctx)
		if err != nil {
			return nil, fmt.Errorf("index: stack lower build: %w", err)
		}
		lowerPartial, ok := lowerIdx.(PartialIndex)
		if !ok {
			return nil, fmt.Errorf("index: stack lower %T does not support PredictWithin", lowerIdx)
		}
		return NewStackIndex(upperIdx, lowerPartial), nil
	case indexKindStash:
		if err := rctx.requireStorage(); err != nil {
			return nil, err
		}
		si := &StashIndex{NaiveIndex: m.naive}
		for _, p := range m.stashPaths {
			si.Stashes = append(si.Stashes, stash{Path: p})
		}
		if err := si.apply(ctx, rctx); err != nil {
			return nil, err
		}
		return si, nil
	case indexKindPiecewise:
		ds, err := m.dataStore.Build(rctx)
		if err != nil {
			return nil, err
		}
		recon, err := reconFromKind(m.modelKind)
		if err != nil {
			return nil, err
		}
		return &PiecewiseIndex{dataStore: ds, dataStoreMeta: m.dataStore, modelSerde: recon}, nil
	default:
		return nil, fmt.Errorf("index: unknown index kind %d", m.kind)
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m Meta) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(m.kind)
	writeUint64(&buf, uint64(m.naive.StartPosition))
	writeUint64(&buf, uint64(m.naive.EndPosition))
	switch m.kind {
	case indexKindNaive:
	case indexKindStash:
		buf.WriteByte(byte(len(m.stashPaths)))
		for _, p := range m.stashPaths {
			if err := writeString(&buf, p); err != nil {
				return nil, err
			}
		}
	case indexKindPiecewise:
		dsb, err := m.dataStore.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := writeBytes(&buf, dsb); err != nil {
			return nil, err
		}
		buf.WriteByte(m.modelKind)
	case indexKindStack:
		upperb, err := m.upper.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := writeBytes(&buf, upperb); err != nil {
			return nil, err
		}
		lowerb, err := m.lower.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := writeBytes(&buf, lowerb); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("index: unknown index kind %d", m.kind)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *Meta) UnmarshalBinary(b []byte) error {
	d := newDecoder(b)
	kind, err := d.ReadByte()
	if err != nil {
		return fmt.Errorf("index: read index kind: %w", err)
	}
	m.kind = kind
	start, err := readUint64(d)
	if err != nil {
		return err
	}
	end, err := readUint64(d)
	if err != nil {
		return err
	}
	m.naive = NaiveIndex{StartPosition: start, EndPosition: end}
	switch kind {
	case indexKindNaive:
	case indexKindStash:
		n, err := d.ReadByte()
		if err != nil {
			return fmt.Errorf("index: read stash count: %w", err)
		}
		for i := 0; i < int(n); i++ {
			p, err := readString(d)
			if err != nil {
				return err
			}
			m.stashPaths = append(m.stashPaths, p)
		}
	case indexKindPiecewise:
		dsb, err := readBytes(d)
		if err != nil {
			return err
		}
		if err := m.dataStore.UnmarshalBinary(dsb); err != nil {
			return err
		}
		modelKind, err := d.ReadByte()
		if err != nil {
			return fmt.Errorf("index: read model kind: %w", err)
		}
		m.modelKind = modelKind
	case indexKindStack:
		upperb, err := readBytes(d)
		if err != nil {
			return err
		}
		var upper Meta
		if err := upper.UnmarshalBinary(upperb); err != nil {
			return err
		}
		lowerb, err := readBytes(d)
		if err != nil {
			return err
		}
		var lower Meta
		if err := lower.UnmarshalBinary(lowerb); err != nil {
			return err
		}
		m.upper = &upper
		m.lower = &lower
	default:
		return fmt.Errorf("index: unknown index kind %d", kind)
	}
	return nil
}
