package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"path"

	"github.com/airindex-go/airindex/aerrors"
	"github.com/airindex-go/airindex/blob"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/pagecache"
)

/* page format: a flagT length prefix followed by a chunk of record bytes */

type flagT = uint32

const (
	flagLength     = 4
	contFlag flagT = 0
)

func writePage(page []byte, flag flagT, chunk []byte) {
	binary.LittleEndian.PutUint32(page[:flagLength], flag)
	copy(page[flagLength:flagLength+len(chunk)], chunk)
}

func readPage(page []byte) (flagT, []byte) {
	return binary.LittleEndian.Uint32(page[:flagLength]), page[flagLength:]
}

// BlockStoreConfig configures a BlockStore's page and block sizing.
type BlockStoreConfig struct {
	BlockName string
	BlockSize int
	PageSize  int
}

// NewBlockStoreConfig returns a config with a 4GB block size and 32-byte
// pages, the defaults the original layout shipped with.
func NewBlockStoreConfig(blockName string) *BlockStoreConfig {
	return &BlockStoreConfig{BlockName: blockName, BlockSize: 1 << 32, PageSize: 32}
}

// WithBlockSize overrides the block size.
func (c *BlockStoreConfig) WithBlockSize(blockSize int) *BlockStoreConfig {
	c.BlockSize = blockSize
	return c
}

// WithPageSize overrides the page size.
func (c *BlockStoreConfig) WithPageSize(pageSize int) *BlockStoreConfig {
	c.PageSize = pageSize
	return c
}

// Build returns a BlockStore rooted at prefixPath under scheme.
func (c *BlockStoreConfig) Build(storage *pagecache.Storage, scheme, prefixPath string) *BlockStore {
	return &BlockStore{
		storage:    storage,
		scheme:     scheme,
		prefixPath: prefixPath,
		state:      BlockStoreState{Cfg: *c},
	}
}

// BlockStoreState is the serializable state of a BlockStore: its
// configuration plus the number of pages written so far.
type BlockStoreState struct {
	Cfg        BlockStoreConfig
	TotalPages int
}

// BlockStore lays out variable-size records paginated into fixed-size,
// flag-prefixed pages, themselves grouped into fixed-size blocks (one file
// per block).
type BlockStore struct {
	storage    *pagecache.Storage
	scheme     string
	prefixPath string
	state      BlockStoreState
}

// FromBlockState resumes a BlockStore from previously persisted state.
func FromBlockState(storage *pagecache.Storage, scheme, prefixPath string, state BlockStoreState) *BlockStore {
	return &BlockStore{storage: storage, scheme: scheme, prefixPath: prefixPath, state: state}
}

// State returns the store's current persistable state.
func (bs *BlockStore) State() BlockStoreState { return bs.state }

func (bs *BlockStore) chunkSize() int     { return bs.state.Cfg.PageSize - flagLength }
func (bs *BlockStore) pagesPerBlock() int { return bs.state.Cfg.BlockSize / bs.state.Cfg.PageSize }

func (bs *BlockStore) blockPath(blockIdx int) string {
	return fmt.Sprintf("%s_block_%d", bs.state.Cfg.BlockName, blockIdx)
}

func (bs *BlockStore) blockFullPath(blockIdx int) string {
	return path.Join(bs.prefixPath, bs.blockPath(blockIdx))
}

func (bs *BlockStore) writeBlock(ctx context.Context, blockIdx int, data []byte) error {
	return bs.storage.WriteAll(ctx, bs.scheme, bs.blockFullPath(blockIdx), data)
}

func (bs *BlockStore) readPageRangeSections(ctx context.Context, startPageIdx, endPageIdx int) ([][]byte, error) {
	pageSize := bs.state.Cfg.PageSize
	pagesPerBlock := bs.pagesPerBlock()
	startBlockIdx := startPageIdx / pagesPerBlock

	var sections [][]byte
	for startPageIdx < endPageIdx {
		startSectionOffset := (startPageIdx % pagesPerBlock) * pageSize
		var endSectionPageIdx int
		if endPageIdx/pagesPerBlock == startBlockIdx {
			endSectionPageIdx = endPageIdx
		} else {
			endSectionPageIdx = (startBlockIdx + 1) * pagesPerBlock
		}
		sectionLength := (endSectionPageIdx - startPageIdx) * pageSize

		data, err := bs.storage.ReadRange(ctx, bs.scheme, bs.blockFullPath(startBlockIdx), blob.Range{
			Offset: int64(startSectionOffset),
			Length: int64(sectionLength),
		})
		if err != nil {
			return nil, fmt.Errorf("store: block read range: %w", err)
		}
		sections = append(sections, data)

		startPageIdx = endSectionPageIdx
		startBlockIdx++
	}
	return sections, nil
}

func (bs *BlockStore) readPageRange(ctx context.Context, offset, length int) ([]flagT, []byte, error) {
	pageSize := bs.state.Cfg.PageSize
	endOffset := offset + length
	startPageIdx := offset / pageSize
	if offset%pageSize != 0 {
		startPageIdx++
	}
	endPageIdx := endOffset / pageSize
	if endPageIdx > bs.state.TotalPages {
		endPageIdx = bs.state.TotalPages
	}

	sections, err := bs.readPageRangeSections(ctx, startPageIdx, endPageIdx)
	if err != nil {
		return nil, nil, err
	}

	var flags []flagT
	var chunksBuffer []byte
	for _, section := range sections {
		for off := 0; off < len(section); off += pageSize {
			flag, chunk := readPage(section[off : off+pageSize])
			flags = append(flags, flag)
			chunksBuffer = append(chunksBuffer, chunk...)
		}
	}
	return flags, chunksBuffer, nil
}

// BeginWrite implements DataStore. The store is reset and rewritten from
// scratch; there is no append mode.
func (bs *BlockStore) BeginWrite() Writer {
	bs.state.TotalPages = 0
	return newBlockStoreWriter(bs)
}

// ReadAll implements DataStore.
func (bs *BlockStore) ReadAll(ctx context.Context) (Reader, error) {
	return bs.ReadWithin(ctx, 0, keyrank.Position(bs.state.TotalPages*bs.state.Cfg.PageSize))
}

// ReadWithin implements DataStore.
func (bs *BlockStore) ReadWithin(ctx context.Context, offset, length keyrank.Position) (Reader, error) {
	flags, chunksBuffer, err := bs.readPageRange(ctx, int(offset), int(length))
	if err != nil {
		return nil, err
	}
	return newBlockStoreReader(flags, chunksBuffer, bs.chunkSize()), nil
}

// RelevantPaths implements DataStore.
func (bs *BlockStore) RelevantPaths() []string {
	totalSize := bs.state.TotalPages * bs.state.Cfg.PageSize
	numBlocks := totalSize / bs.state.Cfg.BlockSize
	if totalSize%bs.state.Cfg.BlockSize != 0 {
		numBlocks++
	}
	paths := make([]string, numBlocks)
	for i := 0; i < numBlocks; i++ {
		paths[i] = bs.blockFullPath(i)
	}
	return paths
}

/* Writer */

// BlockStoreWriter accumulates records into page-sized chunks, rolling a
// fresh block to storage whenever the current one fills up.
type BlockStoreWriter struct {
	owner *BlockStore
	ctx   context.Context

	blockBuffer   []byte
	blockIdx      int
	pageIdx       int
	chunkSize     int
	pagesPerBlock int

	kps *keyrank.Collection
}

func newBlockStoreWriter(owner *BlockStore) *BlockStoreWriter {
	return &BlockStoreWriter{
		owner:         owner,
		ctx:           context.Background(),
		blockBuffer:   make([]byte, owner.state.Cfg.BlockSize),
		chunkSize:     owner.chunkSize(),
		pagesPerBlock: owner.pagesPerBlock(),
		kps:           keyrank.New(),
	}
}

func (w *BlockStoreWriter) pageToWrite() ([]byte, error) {
	pageSize := w.owner.state.Cfg.PageSize
	var pageBuf []byte
	if w.pageIdx < (w.blockIdx+1)*w.pagesPerBlock {
		pageOffset := (w.pageIdx % w.pagesPerBlock) * pageSize
		pageBuf = w.blockBuffer[pageOffset : pageOffset+pageSize]
	} else {
		if err := w.flushCurrentBlock(); err != nil {
			return nil, err
		}
		pageBuf = w.blockBuffer[0:pageSize]
	}
	w.pageIdx++
	return pageBuf, nil
}

func (w *BlockStoreWriter) flushCurrentBlock() error {
	pageSize := w.owner.state.Cfg.PageSize
	var written []byte
	if w.pageIdx < (w.blockIdx+1)*w.pagesPerBlock {
		writtenLength := (w.pageIdx % w.pagesPerBlock) * pageSize
		written = w.blockBuffer[0:writtenLength]
	} else {
		written = w.blockBuffer
	}
	if err := w.owner.writeBlock(w.ctx, w.blockIdx, written); err != nil {
		return err
	}
	w.blockIdx++
	return nil
}

func (w *BlockStoreWriter) writeDbuffer(dbuffer []byte) (int, error) {
	keyOffset := w.pageIdx * w.owner.state.Cfg.PageSize
	flag := flagT(len(dbuffer))
	for start := 0; start < len(dbuffer); start += w.chunkSize {
		end := start + w.chunkSize
		if end > len(dbuffer) {
			end = len(dbuffer)
		}
		pageBuf, err := w.pageToWrite()
		if err != nil {
			return 0, err
		}
		writePage(pageBuf, flag, dbuffer[start:end])
		flag = contFlag
	}
	return keyOffset, nil
}

// Write implements Writer.
func (w *BlockStoreWriter) Write(kb model.KeyBuffer) error {
	record := SerializeKeyBuffer(kb)
	keyOffset, err := w.writeDbuffer(record)
	if err != nil {
		return err
	}
	w.kps.Push(kb.Key, keyrank.Position(keyOffset))
	return nil
}

// Commit implements Writer.
func (w *BlockStoreWriter) Commit(ctx context.Context) (*keyrank.Collection, error) {
	w.ctx = ctx
	if err := w.flushCurrentBlock(); err != nil {
		return nil, fmt.Errorf("store: flush final block: %w", err)
	}
	w.owner.state.TotalPages += w.pageIdx
	w.kps.SetPositionRange(0, keyrank.Position(w.pageIdx*w.owner.state.Cfg.PageSize))
	return w.kps, nil
}

/* Reader */

// BlockStoreReader walks the flag-tagged chunk stream produced by a
// page-range read, reassembling multi-page records on the fly.
type BlockStoreReader struct {
	chunkFlags    []flagT
	chunksBuffer  []byte
	chunkIdxFirst int
	chunkSize     int
}

func newBlockStoreReader(chunkFlags []flagT, chunksBuffer []byte, chunkSize int) *BlockStoreReader {
	idx := 0
	for idx < len(chunkFlags) && chunkFlags[idx] == contFlag {
		idx++
	}
	return &BlockStoreReader{chunkFlags: chunkFlags, chunksBuffer: chunksBuffer, chunkIdxFirst: idx, chunkSize: chunkSize}
}

// Iter implements Reader.
func (r *BlockStoreReader) Iter() ReaderIter {
	return &blockStoreReaderIter{r: r, chunkIdx: r.chunkIdxFirst}
}

// FirstOf implements Reader.
func (r *BlockStoreReader) FirstOf(key keyrank.Key) (model.KeyBuffer, error) {
	it := r.Iter()
	var last model.KeyBuffer
	found := false
	for {
		kb, ok := it.Next()
		if !ok || kb.Key > key {
			break
		}
		last = kb
		found = true
	}
	if !found {
		return model.KeyBuffer{}, aerrors.ErrOutOfCoverage
	}
	return last, nil
}

type blockStoreReaderIter struct {
	r        *BlockStoreReader
	chunkIdx int
}

func (it *blockStoreReaderIter) nextBlock() ([]byte, bool) {
	if it.chunkIdx >= len(it.r.chunkFlags) {
		return nil, false
	}
	dbufferOffset := it.chunkIdx * it.r.chunkSize
	dbufferLength := int(it.r.chunkFlags[it.chunkIdx])
	if dbufferLength == 0 {
		panic("store: zero-length record flag mid-stream")
	}
	if dbufferOffset+dbufferLength > len(it.r.chunksBuffer) {
		return nil, false
	}
	numChunks := dbufferLength / it.r.chunkSize
	if dbufferLength%it.r.chunkSize != 0 {
		numChunks++
	}
	it.chunkIdx += numChunks
	return it.r.chunksBuffer[dbufferOffset : dbufferOffset+dbufferLength], true
}

// Next implements ReaderIter.
func (it *blockStoreReaderIter) Next() (model.KeyBuffer, bool) {
	block, ok := it.nextBlock()
	if !ok {
		return model.KeyBuffer{}, false
	}
	return DeserializeKeyBuffer(block), true
}
