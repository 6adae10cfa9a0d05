// Package pipeline turns one attestation into a Groth16 receipt of the guest program that verifies
// it.
package pipeline

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/proverr"
	"github.com/zkattest/nitro-prover/zkvm"
)

// Pipeline binds a backend to a guest image.
type Pipeline struct {
	prover   zkvm.Prover
	image    zkvm.Image
	maxInput int
	kind     zkvm.ReceiptKind
	verifier zkvm.Verifier
	logger   zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxInputSize caps the attestation size.
func WithMaxInputSize(n int) Option { return func(p *Pipeline) { p.maxInput = n } }

// WithReceiptKind overrides the requested receipt kind. Only Groth16 receipts can be encoded for
// on-chain verification.
func WithReceiptKind(k zkvm.ReceiptKind) Option { return func(p *Pipeline) { p.kind = k } }

// WithVerifier verifies every receipt locally before it is returned.
func WithVerifier(v zkvm.Verifier) Option { return func(p *Pipeline) { p.verifier = v } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// New returns a pipeline proving image on prover.
func New(prover zkvm.Prover, image zkvm.Image, opts ...Option) *Pipeline {
	p := &Pipeline{
		prover:   prover,
		image:    image,
		maxInput: zkvm.DefaultMaxInputSize,
		kind:     zkvm.KindGroth16,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Image is the guest image the pipeline proves.
func (p *Pipeline) Image() zkvm.Image { return p.image }

// MaxInputSize is the largest attestation accepted.
func (p *Pipeline) MaxInputSize() int { return p.maxInput }

// Prove runs the guest over attestation and blocks until the backend returns a complete receipt
// or fails. Every error carries a proverr category.
func (p *Pipeline) Prove(ctx context.Context, attestation []byte) (*zkvm.Receipt, error) {
	env, err := zkvm.NewExecutorEnvBuilder().
		MaxInputSize(p.maxInput).
		WriteSlice(attestation).
		Build()
	if err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &p.logger
	}
	logger.Debug().Str("backend", p.prover.Name()).Int("input_size", env.Len()).Msg("proving attestation")

	info, err := p.prover.ProveWithOpts(ctx, env, p.image, zkvm.ProverOpts{Kind: p.kind})
	if err != nil {
		return nil, classify(ctx, err)
	}
	if info == nil || info.Receipt == nil {
		return nil, proverr.ProvingFailed(nil, "backend returned no receipt")
	}
	receipt := info.Receipt
	if receipt.Kind() != p.kind {
		return nil, proverr.ProvingFailed(nil, fmt.Sprintf("backend returned a %s receipt, want %s", receipt.Kind(), p.kind))
	}
	if p.verifier != nil {
		if err := receipt.Verify(p.verifier, p.image.ID); err != nil {
			return nil, proverr.ProvingFailed(err, "verifying receipt")
		}
	}

	logger.Info().
		Str("backend", p.prover.Name()).
		Int("journal_size", len(receipt.Journal.Bytes)).
		Dur("elapsed", info.Stats.Elapsed).
		Msg("attestation proved")
	return receipt, nil
}

// classify maps backend errors onto the proverr categories. Context errors win when ctx is done,
// since backends often surface them wrapped in transport failures.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(err, proverr.ErrCancelled) {
			return err
		}
		return proverr.FromContext(ctxErr)
	}
	switch proverr.Of(err) {
	case proverr.CategoryCancelled:
		return proverr.FromContext(err)
	case proverr.CategoryProvingFailed:
		if proverr.IsMarked(err) {
			return err
		}
		return proverr.ProvingFailed(err, "")
	default:
		return err
	}
}
