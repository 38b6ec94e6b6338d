package hierarchical

import (
	"context"

	"github.com/airindex-go/airindex/aerrors"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/store"
)

// dummyStore is the data store a dry-run candidate sweep writes through:
// it tracks the key-position collection a real commit would produce
// without touching a blob adaptor, so exploration can price a whole
// hypothetical continuation before anything is persisted.
type dummyStore struct {
	kbs []model.KeyBuffer
}

// newDummyStore returns an empty dummyStore.
func newDummyStore() *dummyStore { return &dummyStore{} }

type dummyWriter struct {
	ds *dummyStore
}

func (w *dummyWriter) Write(kb model.KeyBuffer) error {
	w.ds.kbs = append(w.ds.kbs, kb)
	return nil
}

func (w *dummyWriter) Commit(_ context.Context) (*keyrank.Collection, error) {
	kps := keyrank.New()
	var offset keyrank.Position
	for _, kb := range w.ds.kbs {
		kps.Push(kb.Key, offset)
		offset += keyrank.Position(keyrank.KeyLength + len(kb.Buffer))
	}
	kps.SetPositionRange(0, offset)
	return kps, nil
}

// BeginWrite implements store.DataStore.
func (d *dummyStore) BeginWrite() store.Writer { return &dummyWriter{ds: d} }

type dummyReaderIter struct {
	kbs []model.KeyBuffer
	i   int
}

func (it *dummyReaderIter) Next() (model.KeyBuffer, bool) {
	if it.i >= len(it.kbs) {
		return model.KeyBuffer{}, false
	}
	kb := it.kbs[it.i]
	it.i++
	return kb, true
}

type dummyReader struct {
	kbs []model.KeyBuffer
}

func (r *dummyReader) Iter() store.ReaderIter { return &dummyReaderIter{kbs: r.kbs} }

func (r *dummyReader) FirstOf(key keyrank.Key) (model.KeyBuffer, error) {
	var best *model.KeyBuffer
	for i := range r.kbs {
		if r.kbs[i].Key <= key {
			best = &r.kbs[i]
		} else {
			break
		}
	}
	if best == nil {
		return model.KeyBuffer{}, aerrors.ErrOutOfCoverage
	}
	return *best, nil
}

// ReadAll implements store.DataStore. Dry runs never actually query a
// dummyStore (only the winning candidate is rematerialized for real), but
// the implementation is kept honest so exploration code can exercise it
// uniformly with real stores if it ever needs to.
func (d *dummyStore) ReadAll(_ context.Context) (store.Reader, error) {
	return &dummyReader{kbs: d.kbs}, nil
}

// ReadWithin implements store.DataStore, ignoring the byte window and
// returning every record: a dummyStore is never large enough during
// exploration for this distinction to matter.
func (d *dummyStore) ReadWithin(_ context.Context, _, _ keyrank.Position) (store.Reader, error) {
	return &dummyReader{kbs: d.kbs}, nil
}

// RelevantPaths implements store.DataStore: a dummyStore owns no blob
// paths since it never writes anything to real storage.
func (d *dummyStore) RelevantPaths() []string { return nil }
