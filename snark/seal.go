package snark

import (
	"bytes"

	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/pkg/errors"
)

// SealSize is the length of a serialized Groth16 seal: A (G1), B (G2), C (G1), uncompressed.
const SealSize = 8 * fp.Bytes

// ErrMalformedSeal is returned for seals that do not decode to valid curve points.
var ErrMalformedSeal = errors.New("malformed groth16 seal")

// MarshalSeal lays out a BN254 Groth16 proof the way the Solidity verifier reads it:
// A.x A.y B.x.a1 B.x.a0 B.y.a1 B.y.a0 C.x C.y, each a 32-byte big-endian word.
func MarshalSeal(proof groth16.Proof) ([]byte, error) {
	p, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return nil, errors.Errorf("unsupported proof type %T", proof)
	}
	if len(p.Commitments) != 0 {
		return nil, errors.New("proofs with commitments cannot be sealed")
	}

	seal := make([]byte, 0, SealSize)
	for _, e := range []fp.Element{
		p.Ar.X, p.Ar.Y,
		p.Bs.X.A1, p.Bs.X.A0, p.Bs.Y.A1, p.Bs.Y.A0,
		p.Krs.X, p.Krs.Y,
	} {
		b := e.Bytes()
		seal = append(seal, b[:]...)
	}
	return seal, nil
}

// UnmarshalSeal is the inverse of MarshalSeal. Every coordinate must be canonical and every point
// must lie in the right subgroup.
func UnmarshalSeal(seal []byte) (groth16.Proof, error) {
	if len(seal) != SealSize {
		return nil, errors.Wrapf(ErrMalformedSeal, "length %d, want %d", len(seal), SealSize)
	}

	var p groth16_bn254.Proof
	targets := []*fp.Element{
		&p.Ar.X, &p.Ar.Y,
		&p.Bs.X.A1, &p.Bs.X.A0, &p.Bs.Y.A1, &p.Bs.Y.A0,
		&p.Krs.X, &p.Krs.Y,
	}
	for i, dst := range targets {
		word := seal[i*fp.Bytes : (i+1)*fp.Bytes]
		dst.SetBytes(word)
		if canonical := dst.Bytes(); !bytes.Equal(canonical[:], word) {
			return nil, errors.Wrapf(ErrMalformedSeal, "word %d is not a canonical field element", i)
		}
	}
	if !p.Ar.IsInSubGroup() || !p.Bs.IsInSubGroup() || !p.Krs.IsInSubGroup() {
		return nil, errors.Wrap(ErrMalformedSeal, "point not in subgroup")
	}
	return &p, nil
}
