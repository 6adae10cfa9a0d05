package cmd

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zkattest/nitro-prover/abiproof"
	"github.com/zkattest/nitro-prover/guest"
	"github.com/zkattest/nitro-prover/snark"
	"github.com/zkattest/nitro-prover/zkvm"
)

var errDataDirRequired = errors.New("--data or circuit.dir is required")

var (
	verifyCmdDataDir  string
	verifyCmdInput    string
	verifyCmdEnvelope bool
)

func init() {
	verifyCmd.Flags().StringVar(&verifyCmdDataDir, "data", "", "directory holding vk_groth16.bin, overrides circuit.dir")
	verifyCmd.Flags().StringVar(&verifyCmdInput, "input", "", "file holding the encoded proof or envelope, raw or hex")
	verifyCmd.Flags().BoolVar(&verifyCmdEnvelope, "envelope", false, "input is an envelope; also re-run the guest on its attestation")
	_ = verifyCmd.MarkFlagRequired("input")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check an encoded proof against the local verifying key",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Circuit.Dir
		if verifyCmdDataDir != "" {
			dir = verifyCmdDataDir
		}
		if dir == "" {
			return errDataDirRequired
		}
		input, err := readInput(verifyCmdInput)
		if err != nil {
			return err
		}
		program, err := nitroProgram(cfg)
		if err != nil {
			return err
		}
		selector, err := abiproof.ParseSelector(cfg.Prover.Selector)
		if err != nil {
			return err
		}
		v, err := snark.LoadVerifier(dir)
		if err != nil {
			return err
		}

		var attestation []byte
		proof := abiproof.EncodedProof(input)
		if verifyCmdEnvelope {
			attestation, proof, err = abiproof.Unwrap(input)
			if err != nil {
				return err
			}
		}
		decoded, err := verifyProof(proof, attestation, program, selector, v)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK image_id=%x journal_size=%d\n", decoded.ImageID, len(decoded.Journal))
		return nil
	},
}

// verifyProof checks the selector, the image id and the seal of proof. When attestation is given
// the guest is run on it and must reproduce the committed journal.
func verifyProof(proof abiproof.EncodedProof, attestation []byte, program guest.Program, selector abiproof.Selector, v zkvm.Verifier) (*abiproof.Proof, error) {
	decoded, err := abiproof.DecodeProof(proof)
	if err != nil {
		return nil, err
	}
	sel, err := decoded.Selector()
	if err != nil {
		return nil, err
	}
	if sel != selector {
		return nil, errors.Errorf("selector %s, want %s", sel, selector)
	}
	image := zkvm.ImageIDFromDigest(zkvm.Digest(decoded.ImageID))
	if image != program.ImageID() {
		return nil, errors.Errorf("image id %s, want %s", image, program.ImageID())
	}
	claim := zkvm.NewReceiptClaim(image, decoded.Journal)
	if err := v.VerifySeal(decoded.Seal(), claim); err != nil {
		return nil, errors.Wrap(err, "verifying seal")
	}

	if attestation != nil {
		verdict, err := program.Run(attestation)
		if err != nil {
			return nil, errors.Wrap(err, "running guest")
		}
		if !verdict.Valid {
			return nil, errors.Errorf("guest rejects the attestation: %s", verdict.Reason)
		}
		if !bytes.Equal(verdict.Journal, decoded.Journal) {
			return nil, errors.New("journal does not match the attestation")
		}
	}
	return decoded, nil
}
