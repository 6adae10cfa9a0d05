package pipeline

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkattest/nitro-prover/proverr"
	"github.com/zkattest/nitro-prover/zkvm"
)

var testImage = zkvm.Image{ID: zkvm.ImageID{1, 1, 2, 3, 5, 8, 13, 21}}

type fakeProver struct {
	prove func(ctx context.Context, env *zkvm.ExecutorEnv, opts zkvm.ProverOpts) (*zkvm.ProveInfo, error)
	calls int
}

func (f *fakeProver) Name() string { return "fake" }

func (f *fakeProver) ProveWithOpts(ctx context.Context, env *zkvm.ExecutorEnv, image zkvm.Image, opts zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
	f.calls++
	return f.prove(ctx, env, opts)
}

// groth16Backend commits the input as journal under a fixed seal.
func groth16Backend() *fakeProver {
	return &fakeProver{prove: func(_ context.Context, env *zkvm.ExecutorEnv, opts zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
		if opts.Kind != zkvm.KindGroth16 {
			return nil, errors.Errorf("unexpected kind %s", opts.Kind)
		}
		claim := zkvm.NewReceiptClaim(testImage.ID, env.Input())
		return &zkvm.ProveInfo{Receipt: &zkvm.Receipt{
			Inner:   &zkvm.Groth16Receipt{Seal: []byte("seal"), Claim: claim.Digest(), VerifierParameters: zkvm.Sha256([]byte("vk"))},
			Journal: zkvm.Journal{Bytes: env.Input()},
		}}, nil
	}}
}

type fakeVerifier struct{ err error }

func (fakeVerifier) Parameters() zkvm.Digest { return zkvm.Sha256([]byte("vk")) }

func (v fakeVerifier) VerifySeal([]byte, zkvm.ReceiptClaim) error { return v.err }

func TestProve(t *testing.T) {
	backend := groth16Backend()
	p := New(backend, testImage, WithVerifier(fakeVerifier{}), WithLogger(zerolog.Nop()))

	r, err := p.Prove(context.Background(), []byte("attestation"))
	require.NoError(t, err)
	require.Equal(t, zkvm.KindGroth16, r.Kind())
	require.Equal(t, []byte("attestation"), r.Journal.Bytes)
	require.Equal(t, 1, backend.calls)
	require.Equal(t, testImage, p.Image())
}

func TestProveRejectsInputBeforeProving(t *testing.T) {
	backend := groth16Backend()
	p := New(backend, testImage, WithMaxInputSize(4))

	_, err := p.Prove(context.Background(), nil)
	require.ErrorIs(t, err, proverr.ErrInputRejected)

	_, err = p.Prove(context.Background(), []byte("too large"))
	require.ErrorIs(t, err, proverr.ErrInputRejected)
	require.Equal(t, 0, backend.calls)
	require.Equal(t, 4, p.MaxInputSize())
}

func TestProveClassifiesBackendErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category proverr.Category
		is       error
	}{
		{"plain", errors.New("segment trap"), proverr.CategoryProvingFailed, proverr.ErrProvingFailed},
		{"rejected", proverr.AttestationRejected("expired"), proverr.CategoryProvingFailed, proverr.ErrAttestationRejected},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "waiting"), proverr.CategoryCancelled, context.DeadlineExceeded},
		{"cancelled", context.Canceled, proverr.CategoryCancelled, proverr.ErrCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeProver{prove: func(context.Context, *zkvm.ExecutorEnv, zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
				return nil, tt.err
			}}
			r, err := New(backend, testImage).Prove(context.Background(), []byte("a"))
			require.Nil(t, r)
			require.Equal(t, tt.category, proverr.Of(err))
			require.ErrorIs(t, err, tt.is)
		})
	}
}

func TestProveDoneContextWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeProver{prove: func(context.Context, *zkvm.ExecutorEnv, zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
		cancel()
		return nil, errors.New("connection reset")
	}}
	_, err := New(backend, testImage).Prove(ctx, []byte("a"))
	require.ErrorIs(t, err, proverr.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestProveRejectsBadReceipts(t *testing.T) {
	succinct := &fakeProver{prove: func(_ context.Context, env *zkvm.ExecutorEnv, _ zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
		return &zkvm.ProveInfo{Receipt: &zkvm.Receipt{Inner: &zkvm.SuccinctReceipt{}}}, nil
	}}
	_, err := New(succinct, testImage).Prove(context.Background(), []byte("a"))
	require.ErrorIs(t, err, proverr.ErrProvingFailed)

	empty := &fakeProver{prove: func(context.Context, *zkvm.ExecutorEnv, zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
		return &zkvm.ProveInfo{}, nil
	}}
	_, err = New(empty, testImage).Prove(context.Background(), []byte("a"))
	require.ErrorIs(t, err, proverr.ErrProvingFailed)

	_, err = New(groth16Backend(), testImage, WithVerifier(fakeVerifier{err: errors.New("pairing check failed")})).
		Prove(context.Background(), []byte("a"))
	require.ErrorIs(t, err, proverr.ErrProvingFailed)
	require.Contains(t, err.Error(), "pairing check failed")

	// A receipt bound to another image fails local verification.
	other := New(groth16Backend(), zkvm.Image{ID: zkvm.ImageID{7}}, WithVerifier(fakeVerifier{}))
	_, err = other.Prove(context.Background(), []byte("a"))
	require.ErrorIs(t, err, zkvm.ErrClaimMismatch)
}

func TestWithReceiptKind(t *testing.T) {
	backend := &fakeProver{prove: func(_ context.Context, env *zkvm.ExecutorEnv, opts zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
		require.Equal(t, zkvm.KindSuccinct, opts.Kind)
		return &zkvm.ProveInfo{Receipt: &zkvm.Receipt{Inner: &zkvm.SuccinctReceipt{}}}, nil
	}}
	r, err := New(backend, testImage, WithReceiptKind(zkvm.KindSuccinct)).Prove(context.Background(), []byte("a"))
	require.NoError(t, err)
	require.Equal(t, zkvm.KindSuccinct, r.Kind())
}
