package store

import (
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/pagecache"
)

// Layout identifies which on-disk layout ChooseLayout picked.
type Layout int

const (
	LayoutArray Layout = iota
	LayoutBlock
)

func (l Layout) String() string {
	switch l {
	case LayoutArray:
		return "array"
	case LayoutBlock:
		return "block"
	default:
		return "unknown"
	}
}

// defaultBlockPageSize is the page size a BlockStore gets when Designer
// falls through to variable-size records.
const defaultBlockPageSize = 36

// ChooseLayout decides between ArrayStore and BlockStore from the
// serialized record sizes a layer is about to write: if every record is
// exactly the same size, a fixed-size ArrayStore lets lookups binary-search
// without ever decoding a length prefix; otherwise records must be
// paginated into a BlockStore.
func ChooseLayout(artifactSizes []int) Layout {
	if dataSizeIfSized(artifactSizes) >= 0 {
		return LayoutArray
	}
	return LayoutBlock
}

func dataSizeIfSized(sizes []int) int {
	if len(sizes) == 0 {
		panic("store: expect non-empty artifact sizes")
	}
	dataSize := sizes[0]
	for _, s := range sizes {
		if s != dataSize {
			return -1
		}
	}
	return dataSize
}

// Designer picks and constructs the on-disk layout for a set of key
// buffers about to be written, kept distinct from the stores themselves so
// a hierarchical builder can consult it without knowing either layout.
type Designer struct {
	storage *pagecache.Storage
	scheme  string
}

// NewDesigner returns a Designer that builds stores against storage under
// scheme.
func NewDesigner(storage *pagecache.Storage, scheme string) *Designer {
	return &Designer{storage: storage, scheme: scheme}
}

// DesignForKBs returns the DataStore fit for keyBuffers: an ArrayStore if
// every serialized record is the same size, a BlockStore otherwise.
func (d *Designer) DesignForKBs(keyBuffers []model.KeyBuffer, prefixPath, storeName string) DataStore {
	sizes := make([]int, len(keyBuffers))
	for i, kb := range keyBuffers {
		sizes[i] = keyrank.KeyLength + len(kb.Buffer)
	}
	switch ChooseLayout(sizes) {
	case LayoutArray:
		return NewArrayStoreSized(d.storage, d.scheme, prefixPath, storeName, sizes[0])
	default:
		return NewBlockStoreConfig(storeName).WithPageSize(defaultBlockPageSize).Build(d.storage, d.scheme, prefixPath)
	}
}
