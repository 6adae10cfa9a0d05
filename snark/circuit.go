// Package snark compresses receipt claims into BN254 Groth16 seals that a Solidity verifier can
// check, and verifies such seals.
package snark

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	nativemimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/pkg/errors"

	"github.com/zkattest/nitro-prover/zkvm"
)

// ClaimCircuit proves knowledge of the image id and journal digest committed to by the public
// ClaimDigest. Both 32-byte values enter the circuit as two 128-bit halves.
type ClaimCircuit struct {
	ClaimDigest frontend.Variable `gnark:",public"`
	ImageHi     frontend.Variable
	ImageLo     frontend.Variable
	JournalHi   frontend.Variable
	JournalLo   frontend.Variable
}

func (c *ClaimCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	api.ToBinary(c.ImageHi, 128)
	api.ToBinary(c.ImageLo, 128)
	api.ToBinary(c.JournalHi, 128)
	api.ToBinary(c.JournalLo, 128)
	h.Write(c.ImageHi, c.ImageLo, c.JournalHi, c.JournalLo)
	api.AssertIsEqual(h.Sum(), c.ClaimDigest)
	return nil
}

// claimInputs are the field elements a claim is committed to.
type claimInputs struct {
	digest    *big.Int
	imageHi   *big.Int
	imageLo   *big.Int
	journalHi *big.Int
	journalLo *big.Int
}

func halves(b [32]byte) (*big.Int, *big.Int) {
	return new(big.Int).SetBytes(b[:16]), new(big.Int).SetBytes(b[16:])
}

// newClaimInputs splits the claim and computes its MiMC commitment natively.
func newClaimInputs(claim zkvm.ReceiptClaim) (*claimInputs, error) {
	in := &claimInputs{}
	in.imageHi, in.imageLo = halves(claim.ImageID.Bytes())
	in.journalHi, in.journalLo = halves(claim.JournalDigest)

	h := nativemimc.NewMiMC()
	for _, v := range []*big.Int{in.imageHi, in.imageLo, in.journalHi, in.journalLo} {
		var block [fr.Bytes]byte
		v.FillBytes(block[:])
		if _, err := h.Write(block[:]); err != nil {
			return nil, errors.Wrap(err, "hashing claim")
		}
	}
	in.digest = new(big.Int).SetBytes(h.Sum(nil))
	return in, nil
}

// ClaimCommitment returns the public input a seal for claim is checked against.
func ClaimCommitment(claim zkvm.ReceiptClaim) (*big.Int, error) {
	in, err := newClaimInputs(claim)
	if err != nil {
		return nil, err
	}
	return in.digest, nil
}

func (in *claimInputs) assignment() *ClaimCircuit {
	return &ClaimCircuit{
		ClaimDigest: in.digest,
		ImageHi:     in.imageHi,
		ImageLo:     in.imageLo,
		JournalHi:   in.journalHi,
		JournalLo:   in.journalLo,
	}
}

func (in *claimInputs) publicAssignment() *ClaimCircuit {
	return &ClaimCircuit{ClaimDigest: in.digest}
}
