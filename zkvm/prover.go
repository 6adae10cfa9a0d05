// Package zkvm models the proof backend: execution environments, receipts and the Prover
// interface implemented by the local, remote and external backends.
package zkvm

import (
	"context"
	"time"
)

// Image is a guest program: its content-derived identity and, for backends that need it, the
// binary itself.
type Image struct {
	ID  ImageID
	ELF []byte
}

// ProverOpts selects the receipt form a backend must return.
type ProverOpts struct {
	Kind ReceiptKind
}

// DefaultProverOpts requests the fast, non-succinct form.
func DefaultProverOpts() ProverOpts { return ProverOpts{Kind: KindComposite} }

// SuccinctOpts requests a single aggregated STARK.
func SuccinctOpts() ProverOpts { return ProverOpts{Kind: KindSuccinct} }

// Groth16Opts requests the compressed SNARK needed for on-chain verification.
func Groth16Opts() ProverOpts { return ProverOpts{Kind: KindGroth16} }

// SessionStats describes a proving run.
type SessionStats struct {
	Segments int
	Cycles   uint64
	Elapsed  time.Duration
}

// ProveInfo is what a backend returns on success.
type ProveInfo struct {
	Receipt *Receipt
	Stats   SessionStats
}

// Prover executes a guest on env and proves the execution. Implementations must return either a
// complete receipt of the requested kind or an error, and must stop work when ctx is done.
type Prover interface {
	Name() string
	ProveWithOpts(ctx context.Context, env *ExecutorEnv, image Image, opts ProverOpts) (*ProveInfo, error)
}
