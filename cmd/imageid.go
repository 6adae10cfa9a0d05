package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zkattest/nitro-prover/abiproof"
	"github.com/zkattest/nitro-prover/guest"
	"github.com/zkattest/nitro-prover/zkvm"
)

var imageIDCmd = &cobra.Command{
	Use:   "image-id",
	Short: "Print the guest image id and verifier selector to configure on chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		program, err := nitroProgram(cfg)
		if err != nil {
			return err
		}
		selector, err := abiproof.ParseSelector(cfg.Prover.Selector)
		if err != nil {
			return err
		}
		return printImageID(cmd.OutOrStdout(), program, selector)
	},
}

func printImageID(w io.Writer, program *guest.NitroVerifier, selector abiproof.Selector) error {
	id := program.ImageID()
	flat := abiproof.FlattenImageID(id)
	_, err := fmt.Fprintf(w, "program: %s\nimage id words: %s\nimage id (bytes32): 0x%x\nroot fingerprint: %s\nselector: %s\n",
		program.Name(), formatWords(id), flat, program.RootFingerprint(), selector)
	return err
}

func formatWords(id zkvm.ImageID) string {
	s := "["
	for i, w := range id {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d", w)
	}
	return s + "]"
}
