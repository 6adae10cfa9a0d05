package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zkattest/nitro-prover/snark"
)

var buildCmdDataDir string

func init() {
	buildCmd.Flags().StringVar(&buildCmdDataDir, "data", "", "output directory, overrides circuit.dir")
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile the claim circuit and write its Groth16 keys and Solidity verifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Circuit.Dir
		if buildCmdDataDir != "" {
			dir = buildCmdDataDir
		}
		if dir == "" {
			return errDataDirRequired
		}
		_, err := snark.Build(dir, logger)
		return err
	},
}
