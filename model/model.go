// Package model defines the shared capability set every learned-model
// family (step, band) implements: a Model predicts a key-position range
// from a reconstructed artifact, a Recon sketches/reconstructs artifacts
// and reports a layer's load distribution, a Builder consumes kprs
// incrementally, and a Drafter returns a complete draft for a whole layer.
package model

import (
	"time"

	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/storageprofile"
)

// KeyBuffer pairs a left-anchor key with the serialized bytes of one
// submodel artifact. Data stores key their records by KeyBuffer.Key.
type KeyBuffer struct {
	Key    keyrank.Key
	Buffer []byte
}

// SerializedSize returns the on-disk size of the artifact.
func (kb KeyBuffer) SerializedSize() int { return len(kb.Buffer) }

// Model predicts a position range for a lookup key once a submodel
// artifact has been reconstructed. Predict returns aerrors.ErrOutOfCoverage
// when key falls outside the span the artifact covers.
type Model interface {
	Predict(key keyrank.Key) (keyrank.Range, error)
}

// Recon sketches and reconstructs submodel artifacts for one model family,
// and tracks the load distribution of the layer it describes.
type Recon interface {
	Reconstruct(buffer []byte) (Model, error)
	GetLoad() []LoadDistribution
	// CombineWith merges another Recon of the same family's load
	// statistics into this one, used when concatenating per-chunk drafts.
	CombineWith(other Recon)
}

// BuilderFinalReport is returned by Builder.Finalize: the last pending
// artifact (if any) plus the Recon needed to later reconstruct it.
type BuilderFinalReport struct {
	MaybeKeyBuffer *KeyBuffer
	Serde          Recon
}

// Builder consumes one key-position-range at a time, incrementally
// emitting submodel artifacts as its current window closes.
type Builder interface {
	Consume(kpr keyrank.Range) (*KeyBuffer, error)
	Finalize() (BuilderFinalReport, error)
}

// Draft is the complete output of drafting one layer: every artifact, the
// Recon to deserialize them, and the estimated total cost of reading
// through this layer plus an optimal index above it.
type Draft struct {
	KeyBuffers []KeyBuffer
	Serde      Recon
	Cost       time.Duration
}

// Drafter returns a complete Draft for a whole layer given a candidate
// key-position collection and a storage profile to price it under.
type Drafter interface {
	Draft(kps *keyrank.Collection, profile storageprofile.Profile) (Draft, error)
	DraftMany(kps *keyrank.Collection, profile storageprofile.Profile) []Draft
}
