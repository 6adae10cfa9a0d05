// Package local runs registered guest programs in process and compresses their claims with the
// snark package.
package local

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/guest"
	"github.com/zkattest/nitro-prover/proverr"
	"github.com/zkattest/nitro-prover/zkvm"
)

// DefaultSegmentSize is the number of input bytes committed per trace segment.
const DefaultSegmentSize = 1 << 16

// ErrNoCompressor is returned for Groth16 requests when no compressor is configured.
var ErrNoCompressor = errors.New("groth16 compression is not configured")

// Compressor turns a receipt claim into a Groth16 receipt. *snark.Prover implements it.
type Compressor interface {
	Compress(ctx context.Context, claim zkvm.ReceiptClaim) (*zkvm.Groth16Receipt, error)
}

// Prover is the in-process backend.
type Prover struct {
	programs    *guest.Registry
	compressor  Compressor
	logger      zerolog.Logger
	segmentSize int
}

// Option configures a Prover.
type Option func(*Prover)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Prover) { p.logger = logger }
}

// WithSegmentSize sets the number of input bytes per trace segment.
func WithSegmentSize(n int) Option {
	return func(p *Prover) {
		if n > 0 {
			p.segmentSize = n
		}
	}
}

// New returns a backend executing programs. compressor may be nil if Groth16 receipts are never
// requested.
func New(programs *guest.Registry, compressor Compressor, opts ...Option) *Prover {
	p := &Prover{
		programs:    programs,
		compressor:  compressor,
		logger:      zerolog.Nop(),
		segmentSize: DefaultSegmentSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Prover) Name() string { return "local" }

// ProveWithOpts executes the guest registered for image and returns a receipt of the requested
// kind. A negative guest verdict fails with proverr.ErrAttestationRejected.
func (p *Prover) ProveWithOpts(ctx context.Context, env *zkvm.ExecutorEnv, image zkvm.Image, opts zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
	if env == nil {
		return nil, proverr.InputRejected(nil, "nil executor environment")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	program, err := p.programs.Lookup(image.ID)
	if err != nil {
		return nil, proverr.ProvingFailed(err, "")
	}

	start := time.Now()
	input := env.Input()
	verdict, err := program.Run(input)
	if err != nil {
		return nil, proverr.ProvingFailed(err, "guest "+program.Name()+" trapped")
	}
	if !verdict.Valid {
		p.logger.Debug().Str("image", image.ID.String()).Str("reason", verdict.Reason).Msg("guest rejected input")
		return nil, proverr.AttestationRejected(verdict.Reason)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	journal := zkvm.Journal{Bytes: verdict.Journal}
	claim := zkvm.NewReceiptClaim(image.ID, journal.Bytes)
	segments := p.commitTrace(image.ID, input, journal)
	stats := zkvm.SessionStats{Segments: len(segments), Cycles: uint64(len(input))}

	var inner zkvm.InnerReceipt
	switch opts.Kind {
	case zkvm.KindComposite:
		inner = &zkvm.CompositeReceipt{Segments: segments, Claim: claim.Digest()}
	case zkvm.KindSuccinct:
		inner = &zkvm.SuccinctReceipt{Commitment: aggregate(segments), Claim: claim.Digest()}
	case zkvm.KindGroth16:
		if p.compressor == nil {
			return nil, proverr.ProvingFailed(ErrNoCompressor, "")
		}
		g, err := p.compressor.Compress(ctx, claim)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, proverr.ProvingFailed(err, "compressing claim")
		}
		inner = g
	default:
		return nil, proverr.ProvingFailed(nil, "unsupported receipt kind "+opts.Kind.String())
	}

	stats.Elapsed = time.Since(start)
	p.logger.Debug().
		Str("image", image.ID.String()).
		Str("kind", opts.Kind.String()).
		Int("segments", stats.Segments).
		Dur("elapsed", stats.Elapsed).
		Msg("session proved")
	return &zkvm.ProveInfo{Receipt: &zkvm.Receipt{Inner: inner, Journal: journal}, Stats: stats}, nil
}

// commitTrace splits the input into segments and commits each one together with the image and
// the journal.
func (p *Prover) commitTrace(image zkvm.ImageID, input []byte, journal zkvm.Journal) []zkvm.Digest {
	id := image.Bytes()
	jd := journal.Digest()
	var segments []zkvm.Digest
	for i := 0; i == 0 || i*p.segmentSize < len(input); i++ {
		lo := i * p.segmentSize
		hi := min(lo+p.segmentSize, len(input))
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		segments = append(segments, zkvm.Sha256([]byte("trace"), id[:], idx[:], input[lo:hi], jd[:]))
	}
	return segments
}

func aggregate(segments []zkvm.Digest) zkvm.Digest {
	parts := make([][]byte, 0, len(segments)+1)
	parts = append(parts, []byte("succinct"))
	for i := range segments {
		parts = append(parts, segments[i][:])
	}
	return zkvm.Sha256(parts...)
}
