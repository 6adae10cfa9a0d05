package snark

import (
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Artifact file names inside a data directory.
const (
	CircuitFile          = "circuit_groth16.bin"
	ProvingKeyFile       = "pk_groth16.bin"
	VerifyingKeyFile     = "vk_groth16.bin"
	VerifierContractFile = "Groth16Verifier.sol"
)

// Artifacts are the compiled claim circuit and its Groth16 keys.
type Artifacts struct {
	CS constraint.ConstraintSystem
	PK groth16.ProvingKey
	VK groth16.VerifyingKey
}

// Compile compiles the claim circuit to R1CS.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit ClaimCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, errors.Wrap(err, "compiling claim circuit")
	}
	return cs, nil
}

// Setup compiles the circuit and runs a fresh Groth16 setup. The result is only as trustworthy as
// the randomness of this process; production keys come from a ceremony and are loaded instead.
func Setup() (*Artifacts, error) {
	cs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, errors.Wrap(err, "groth16 setup")
	}
	return &Artifacts{CS: cs, PK: pk, VK: vk}, nil
}

// Build runs Setup and writes the R1CS, both keys and the Solidity verifier into dir.
func Build(dir string, logger zerolog.Logger) (*Artifacts, error) {
	a, err := Setup()
	if err != nil {
		return nil, err
	}
	logger.Info().Int("constraints", a.CS.GetNbConstraints()).Msg("claim circuit compiled")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}

	// Write the R1CS.
	if err := writeFile(filepath.Join(dir, CircuitFile), a.CS); err != nil {
		return nil, err
	}

	// Write the proving key.
	if err := writeFile(filepath.Join(dir, ProvingKeyFile), a.PK); err != nil {
		return nil, err
	}

	// Write the verifier key.
	if err := writeFile(filepath.Join(dir, VerifyingKeyFile), a.VK); err != nil {
		return nil, err
	}

	// Write the solidity verifier.
	err = createFile(filepath.Join(dir, VerifierContractFile), func(w io.Writer) error {
		return a.VK.ExportSolidity(w)
	})
	if err != nil {
		return nil, errors.Wrap(err, "exporting solidity verifier")
	}

	logger.Info().Str("dir", dir).Msg("circuit artifacts written")
	return a, nil
}

func writeFile(path string, wt io.WriterTo) error {
	return createFile(path, func(w io.Writer) error {
		_, err := wt.WriteTo(w)
		return err
	})
}

// createFile writes path through write. A failed Close fails the write.
func createFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Base(path))
	}
	err = write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "writing %s", filepath.Base(path))
}
