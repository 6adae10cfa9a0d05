package snark

import (
	"bytes"
	"context"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/zkvm"
)

// Verifier checks seals against a verifying key. It implements zkvm.Verifier.
type Verifier struct {
	vk     groth16.VerifyingKey
	params zkvm.Digest
}

// NewVerifier derives the verifier parameters digest from vk.
func NewVerifier(vk groth16.VerifyingKey) (*Verifier, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "serializing verifying key")
	}
	return &Verifier{vk: vk, params: zkvm.Sha256(buf.Bytes())}, nil
}

// Parameters identifies the verifying key a seal must be checked with.
func (v *Verifier) Parameters() zkvm.Digest { return v.params }

// VerifySeal checks seal against the public commitment of claim.
func (v *Verifier) VerifySeal(seal []byte, claim zkvm.ReceiptClaim) error {
	proof, err := UnmarshalSeal(seal)
	if err != nil {
		return err
	}
	in, err := newClaimInputs(claim)
	if err != nil {
		return err
	}
	publicWitness, err := frontend.NewWitness(in.publicAssignment(), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrap(err, "building public witness")
	}
	return groth16.Verify(proof, v.vk, publicWitness)
}

// Prover turns receipt claims into Groth16 seals.
type Prover struct {
	*Verifier
	artifacts *Artifacts
	logger    zerolog.Logger
}

// NewProver wraps loaded artifacts.
func NewProver(a *Artifacts, logger zerolog.Logger) (*Prover, error) {
	v, err := NewVerifier(a.VK)
	if err != nil {
		return nil, err
	}
	return &Prover{Verifier: v, artifacts: a, logger: logger}, nil
}

// Compress proves claim and returns the resulting receipt. Groth16 proving cannot be interrupted,
// so ctx is only checked before and after the proof is generated.
func (p *Prover) Compress(ctx context.Context, claim zkvm.ReceiptClaim) (*zkvm.Groth16Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in, err := newClaimInputs(claim)
	if err != nil {
		return nil, err
	}

	// Generate the witness.
	witness, err := frontend.NewWitness(in.assignment(), ecc.BN254.ScalarField())
	if err != nil {
		return nil, errors.Wrap(err, "building witness")
	}
	publicWitness, err := witness.Public()
	if err != nil {
		return nil, errors.Wrap(err, "extracting public witness")
	}

	// Generate the proof.
	start := time.Now()
	proof, err := groth16.Prove(p.artifacts.CS, p.artifacts.PK, witness)
	if err != nil {
		return nil, errors.Wrap(err, "generating groth16 proof")
	}

	// Verify proof.
	if err := groth16.Verify(proof, p.artifacts.VK, publicWitness); err != nil {
		return nil, errors.Wrap(err, "verifying groth16 proof")
	}
	p.logger.Debug().Dur("elapsed", time.Since(start)).Str("claim", claim.Digest().Hex()).Msg("claim compressed")

	seal, err := MarshalSeal(proof)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &zkvm.Groth16Receipt{
		Seal:               seal,
		Claim:              claim.Digest(),
		VerifierParameters: p.Parameters(),
	}, nil
}
