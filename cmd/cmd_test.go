package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zkattest/nitro-prover/abiproof"
	"github.com/zkattest/nitro-prover/config"
	"github.com/zkattest/nitro-prover/guest"
	"github.com/zkattest/nitro-prover/service"
	"github.com/zkattest/nitro-prover/snark"
	"github.com/zkattest/nitro-prover/zkvm"
	"github.com/zkattest/nitro-prover/zkvm/external"
	"github.com/zkattest/nitro-prover/zkvm/local"
	"github.com/zkattest/nitro-prover/zkvm/remote"
)

const samplePath = "../guest/testdata/nitro_attestation.hex"

func TestReadInput(t *testing.T) {
	sample, err := readInput(samplePath)
	require.NoError(t, err)
	require.Len(t, sample, 4536)
	require.Equal(t, []byte{0x84, 0x44, 0xa1, 0x01}, sample[:4])

	dir := t.TempDir()
	prefixed := filepath.Join(dir, "prefixed.hex")
	require.NoError(t, os.WriteFile(prefixed, []byte("0xdeadbeef\n"), 0o600))
	b, err := readInput(prefixed)
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	raw := filepath.Join(dir, "raw.bin")
	require.NoError(t, os.WriteFile(raw, []byte{0x84, 0x44, 0x00}, 0o600))
	b, err = readInput(raw)
	require.NoError(t, err)
	require.Equal(t, []byte{0x84, 0x44, 0x00}, b)

	_, err = readInput(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestProveRequest(t *testing.T) {
	req, err := proveRequest("", "", "https://example.com/doc")
	require.NoError(t, err)
	require.Equal(t, service.Request{URL: "https://example.com/doc"}, req)

	req, err = proveRequest("", "0x0102", "")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, req.Attestation)

	req, err = proveRequest(samplePath, "", "")
	require.NoError(t, err)
	require.Len(t, req.Attestation, 4536)

	_, err = proveRequest("", "0xzz", "")
	require.Error(t, err)
	_, err = proveRequest("", "", "")
	require.Error(t, err)
}

func testResponse(t *testing.T) ([]byte, *service.Response) {
	t.Helper()
	image := guest.NewNitroVerifier().ImageID()
	seal := []byte{1, 2, 3, 4}
	proof, err := abiproof.EncodeSeal(abiproof.SelectorGroth16V1_2, seal, image, []byte("journal"))
	require.NoError(t, err)
	attestation := []byte{0x84, 0x44}
	envelope, err := abiproof.Wrap(attestation, proof)
	require.NoError(t, err)
	return attestation, &service.Response{
		Envelope: envelope,
		Proof:    proof,
		Journal:  []byte("journal"),
		ImageID:  image,
		Seal:     seal,
	}
}

func TestPrintResult(t *testing.T) {
	attestation, resp := testResponse(t)
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, attestation, resp))

	out := buf.String()
	require.Contains(t, out, "Attestation size: 2\n")
	require.Contains(t, out, "Seal without prefix: 01020304\n")
	require.Contains(t, out, "Seal with prefix: c101b42b01020304\n")
	require.Contains(t, out, "Inputs: 8444\n")
	require.Contains(t, out, "Proof: "+hex.EncodeToString(resp.Proof)+"\n")
	require.Contains(t, out, "InputsAndProofEncoded: 0x"+hex.EncodeToString(resp.Envelope)+"\n")

	buf.Reset()
	require.NoError(t, printJSON(&buf, attestation, resp))
	require.Contains(t, buf.String(), `"seal_with_selector": "0xc101b42b01020304"`)
	require.Contains(t, buf.String(), `"image_id": "0x`+resp.ImageID.String()+`"`)
}

func TestPrintImageID(t *testing.T) {
	program := guest.NewNitroVerifier()
	var buf bytes.Buffer
	require.NoError(t, printImageID(&buf, program, abiproof.SelectorGroth16V1_2))

	flat := abiproof.FlattenImageID(program.ImageID())
	out := buf.String()
	require.Contains(t, out, "image id (bytes32): 0x"+hex.EncodeToString(flat[:]))
	require.Contains(t, out, "root fingerprint: "+guest.AWSNitroRootFingerprint.Hex())
	require.Contains(t, out, "selector: 0xc101b42b")
	require.Equal(t, "[1, 2, 4294967295, 0, 0, 0, 0, 0]", formatWords(zkvm.ImageID{1, 2, 0xffffffff}))
}

func TestImageIDCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"image-id", "--log-level", "error"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), "selector: 0xc101b42b")
	require.Equal(t, "error", cfg.Log.Level)
}

func TestNitroProgramFingerprint(t *testing.T) {
	c := config.Default()
	p, err := nitroProgram(c)
	require.NoError(t, err)
	require.Equal(t, guest.NewNitroVerifier().ImageID(), p.ImageID())

	c.Prover.RootFingerprint = zkvm.Sha256([]byte("root")).Hex()
	p, err = nitroProgram(c)
	require.NoError(t, err)
	require.NotEqual(t, guest.NewNitroVerifier().ImageID(), p.ImageID())

	c.Prover.RootFingerprint = "zz"
	_, err = nitroProgram(c)
	require.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	program := guest.NewNitroVerifier()

	c := config.Default()
	c.Prover.Backend = config.BackendRemote
	c.Remote.URL, c.Remote.APIKey = "https://api.example.com", "key"
	p, v, err := newBackend(context.Background(), c, program, zkvm.KindGroth16, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &remote.Client{}, p)
	require.Nil(t, v)

	c = config.Default()
	c.Prover.Backend = config.BackendExternal
	c.External.Path = "/usr/local/bin/host"
	c.External.Args = []string{"--dev"}
	p, _, err = newBackend(context.Background(), c, program, zkvm.KindGroth16, zerolog.Nop())
	require.NoError(t, err)
	ext, ok := p.(*external.Prover)
	require.True(t, ok)
	require.Equal(t, []string{"--dev"}, ext.Args)
	require.Equal(t, c.External.GracePeriod, ext.GracePeriod)

	// Non-Groth16 local proving needs no circuit artifacts.
	c = config.Default()
	c.Circuit.Dir = t.TempDir()
	p, v, err = newBackend(context.Background(), c, program, zkvm.KindSuccinct, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &local.Prover{}, p)
	require.Nil(t, v)

	_, _, err = newBackend(context.Background(), c, program, zkvm.KindGroth16, zerolog.Nop())
	require.ErrorContains(t, err, "circuit files not found")

	c.Prover.Backend = "cloud"
	_, _, err = newBackend(context.Background(), c, program, zkvm.KindGroth16, zerolog.Nop())
	require.Error(t, err)
}

func TestProveAndVerifySample(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a Groth16 setup and proof")
	}
	dir := t.TempDir()
	_, err := snark.Build(dir, zerolog.Nop())
	require.NoError(t, err)

	c := config.Default()
	c.Circuit.Dir = dir
	c.Prover.Verify = true
	require.NoError(t, c.Validate())

	st, err := newStack(context.Background(), c, zerolog.Nop())
	require.NoError(t, err)
	svc, sched := newService(st, c, zerolog.Nop(), nil)
	defer sched.Close()

	attestation, err := readInput(samplePath)
	require.NoError(t, err)
	resp, err := svc.Prove(context.Background(), service.Request{Attestation: attestation})
	require.NoError(t, err)

	v, err := snark.LoadVerifier(dir)
	require.NoError(t, err)
	decoded, err := verifyProof(resp.Proof, attestation, st.program, abiproof.SelectorGroth16V1_2, v)
	require.NoError(t, err)
	require.Equal(t, resp.Journal, decoded.Journal)

	_, err = verifyProof(resp.Proof, attestation, st.program, abiproof.SelectorGroth16V1_1, v)
	require.ErrorContains(t, err, "selector")

	other := guest.NewNitroVerifier(guest.WithRootFingerprint(zkvm.Sha256([]byte("root"))))
	_, err = verifyProof(resp.Proof, nil, other, abiproof.SelectorGroth16V1_2, v)
	require.ErrorContains(t, err, "image id")

	forged, err := abiproof.EncodeSeal(abiproof.SelectorGroth16V1_2, resp.Seal, st.program.ImageID(), []byte("forged journal"))
	require.NoError(t, err)
	_, err = verifyProof(forged, nil, st.program, abiproof.SelectorGroth16V1_2, v)
	require.ErrorContains(t, err, "verifying seal")

	// A valid proof paired with another attestation is caught by re-running the guest.
	tampered := bytes.Clone(attestation)
	tampered[len(tampered)-1] ^= 1
	_, err = verifyProof(resp.Proof, tampered, st.program, abiproof.SelectorGroth16V1_2, v)
	require.True(t, err != nil && strings.Contains(err.Error(), "guest rejects"))
}
