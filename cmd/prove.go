package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zkattest/nitro-prover/abiproof"
	"github.com/zkattest/nitro-prover/service"
)

var (
	proveCmdFile string
	proveCmdHex  string
	proveCmdURL  string
	proveCmdJSON bool
)

func init() {
	proveCmd.Flags().StringVar(&proveCmdFile, "file", "", "file holding the attestation, raw or hex")
	proveCmd.Flags().StringVar(&proveCmdHex, "hex", "", "hex encoded attestation")
	proveCmd.Flags().StringVar(&proveCmdURL, "url", "", "URL to fetch the attestation from")
	proveCmd.Flags().BoolVar(&proveCmdJSON, "json", false, "print the result as JSON")
	proveCmd.MarkFlagsMutuallyExclusive("file", "hex", "url")
	proveCmd.MarkFlagsOneRequired("file", "hex", "url")
}

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Prove a single attestation and print the seal, proof and envelope",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		req, err := proveRequest(proveCmdFile, proveCmdHex, proveCmdURL)
		if err != nil {
			return err
		}

		st, err := newStack(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		svc, sched := newService(st, cfg, logger, nil)
		defer sched.Close()

		resp, err := svc.Prove(cmd.Context(), req)
		if err != nil {
			return err
		}
		attestation, _, err := abiproof.Unwrap(resp.Envelope)
		if err != nil {
			return err
		}
		if proveCmdJSON {
			return printJSON(cmd.OutOrStdout(), attestation, resp)
		}
		return printResult(cmd.OutOrStdout(), attestation, resp)
	},
}

// proveRequest builds a request from exactly one of the three sources.
func proveRequest(file, hexInput, url string) (service.Request, error) {
	switch {
	case url != "":
		return service.Request{URL: url}, nil
	case hexInput != "":
		b, err := decodeHex(hexInput)
		if err != nil {
			return service.Request{}, errors.Wrap(err, "decoding --hex")
		}
		return service.Request{Attestation: b}, nil
	case file != "":
		b, err := readInput(file)
		if err != nil {
			return service.Request{}, err
		}
		return service.Request{Attestation: b}, nil
	}
	return service.Request{}, errors.New("one of --file, --hex or --url is required")
}

// readInput reads a file that holds either raw bytes or hex text, with or without 0x.
func readInput(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading input")
	}
	text := strings.TrimSpace(string(b))
	if decoded, err := decodeHex(text); err == nil && len(decoded) > 0 {
		return decoded, nil
	}
	return b, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

func printResult(w io.Writer, attestation []byte, resp *service.Response) error {
	decoded, err := abiproof.DecodeProof(resp.Proof)
	if err != nil {
		return err
	}
	lines := []struct{ label, value string }{
		{"Attestation size", fmt.Sprint(len(attestation))},
		{"Image ID", resp.ImageID.String()},
		{"Journal", hex.EncodeToString(resp.Journal)},
		{"Seal without prefix", hex.EncodeToString(resp.Seal)},
		{"Seal with prefix", hex.EncodeToString(decoded.SealWithSelector)},
		{"Proof", hex.EncodeToString(resp.Proof)},
		{"Inputs", hex.EncodeToString(attestation)},
		{"InputsAndProofEncoded", hexutil.Encode(resp.Envelope)},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s: %s\n", l.label, l.value); err != nil {
			return err
		}
	}
	return nil
}

type proveOutput struct {
	ImageID          string        `json:"image_id"`
	Journal          hexutil.Bytes `json:"journal"`
	Seal             hexutil.Bytes `json:"seal"`
	SealWithSelector hexutil.Bytes `json:"seal_with_selector"`
	Proof            hexutil.Bytes `json:"proof"`
	Envelope         hexutil.Bytes `json:"envelope"`
	ElapsedMS        int64         `json:"elapsed_ms"`
}

func printJSON(w io.Writer, attestation []byte, resp *service.Response) error {
	decoded, err := abiproof.DecodeProof(resp.Proof)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(proveOutput{
		ImageID:          "0x" + resp.ImageID.String(),
		Journal:          resp.Journal,
		Seal:             resp.Seal,
		SealWithSelector: decoded.SealWithSelector,
		Proof:            hexutil.Bytes(resp.Proof),
		Envelope:         hexutil.Bytes(resp.Envelope),
		ElapsedMS:        resp.Elapsed.Milliseconds(),
	})
}
