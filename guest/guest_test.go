package guest

import (
	"bytes"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zkattest/nitro-prover/zkvm"
)

func loadAttestation(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile("testdata/nitro_attestation.hex")
	require.NoError(t, err)
	b, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	require.NoError(t, err)
	return b
}

func TestNitroVerifierAcceptsSample(t *testing.T) {
	v := NewNitroVerifier()
	verdict, err := v.Run(loadAttestation(t))
	require.NoError(t, err)
	require.True(t, verdict.Valid, verdict.Reason)
	require.NotEmpty(t, verdict.Journal)

	j, err := DecodeNitroJournal(verdict.Journal)
	require.NoError(t, err)
	require.Equal(t, "i-037ad0bfbb0166cb2-enc01930dfb96efc16b", j.ModuleID)
	require.Equal(t, uint64(1731407791551), j.Timestamp)
	require.Equal(t, [32]byte(AWSNitroRootFingerprint), j.RootFingerprint)
	require.Len(t, j.PCRs, 16)
	for _, pcr := range j.PCRs {
		require.Len(t, pcr, 48)
	}
	require.Len(t, j.PublicKey, 64)
	require.Empty(t, j.UserData)
	require.Empty(t, j.Nonce)
}

func TestNitroVerifierIsDeterministic(t *testing.T) {
	v := NewNitroVerifier()
	a, err := v.Run(loadAttestation(t))
	require.NoError(t, err)
	b, err := v.Run(loadAttestation(t))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestNitroVerifierRejects(t *testing.T) {
	sample := loadAttestation(t)
	mutate := func(f func(b []byte)) []byte {
		b := bytes.Clone(sample)
		f(b)
		return b
	}

	tests := []struct {
		name   string
		input  []byte
		reason string
	}{
		{"empty", nil, "malformed COSE_Sign1"},
		{"not cbor", []byte("definitely not an attestation"), "malformed COSE_Sign1"},
		{"truncated", sample[:len(sample)/2], "malformed COSE_Sign1"},
		// a1 01 38 22 is {1: -35}; 0x21 turns it into -34.
		{"algorithm", mutate(func(b []byte) { b[5] = 0x21 }), "unsupported COSE algorithm -34"},
		{"signature", mutate(func(b []byte) { b[len(b)-1] ^= 0x01 }), "invalid signature"},
		// Byte 30 sits inside the module_id text.
		{"payload", mutate(func(b []byte) { b[30] ^= 0x01 }), "invalid signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := NewNitroVerifier().Run(tt.input)
			require.NoError(t, err)
			require.False(t, verdict.Valid)
			require.Nil(t, verdict.Journal)
			require.Contains(t, verdict.Reason, tt.reason)
		})
	}
}

func TestNitroVerifierPinsRoot(t *testing.T) {
	other := zkvm.Sha256([]byte("another root"))
	v := NewNitroVerifier(WithRootFingerprint(other))
	require.NotEqual(t, NewNitroVerifier().ImageID(), v.ImageID())
	require.Equal(t, other, v.RootFingerprint())
	require.Equal(t, AWSNitroRootFingerprint, NewNitroVerifier().RootFingerprint())

	verdict, err := v.Run(loadAttestation(t))
	require.NoError(t, err)
	require.False(t, verdict.Valid)
	require.Contains(t, verdict.Reason, "untrusted root certificate")
}

func TestParseNitroDocument(t *testing.T) {
	doc, err := ParseNitroDocument(loadAttestation(t))
	require.NoError(t, err)
	require.Equal(t, "SHA384", doc.Digest)
	require.Len(t, doc.Certificate, 641)
	require.Len(t, doc.CABundle, 4)
	require.Equal(t, time.Date(2024, 11, 12, 10, 36, 31, 551e6, time.UTC), doc.Time())
	require.Nil(t, doc.UserData)
	require.Nil(t, doc.Nonce)

	_, err = ParseNitroDocument([]byte{0x01})
	require.Error(t, err)
}

func TestCheckDocument(t *testing.T) {
	valid := func() *NitroDocument {
		return &NitroDocument{
			ModuleID:    "m",
			Timestamp:   1,
			Digest:      "SHA384",
			PCRs:        map[uint][]byte{0: make([]byte, 48), 1: make([]byte, 48)},
			Certificate: []byte{1},
			CABundle:    [][]byte{{1}},
		}
	}
	require.Empty(t, checkDocument(valid()))

	tests := []struct {
		name   string
		mutate func(d *NitroDocument)
		reason string
	}{
		{"module id", func(d *NitroDocument) { d.ModuleID = "" }, "missing module_id"},
		{"digest", func(d *NitroDocument) { d.Digest = "SHA256" }, "unsupported digest"},
		{"timestamp", func(d *NitroDocument) { d.Timestamp = 0 }, "missing timestamp"},
		{"no pcrs", func(d *NitroDocument) { d.PCRs = nil }, "invalid pcr count"},
		{"pcr gap", func(d *NitroDocument) { d.PCRs = map[uint][]byte{0: make([]byte, 48), 2: make([]byte, 48)} }, "pcr 1 missing"},
		{"pcr length", func(d *NitroDocument) { d.PCRs[1] = make([]byte, 47) }, "pcr 1 has invalid length 47"},
		{"certificate", func(d *NitroDocument) { d.Certificate = nil }, "missing certificate"},
		{"cabundle", func(d *NitroDocument) { d.CABundle = nil }, "missing cabundle"},
		{"user data", func(d *NitroDocument) { d.UserData = make([]byte, maxUserData+1) }, "user_data too large"},
		{"nonce", func(d *NitroDocument) { d.Nonce = make([]byte, maxNonce+1) }, "nonce too large"},
		{"public key", func(d *NitroDocument) { d.PublicKey = make([]byte, maxPublicKey+1) }, "public_key too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			require.Contains(t, checkDocument(d), tt.reason)
		})
	}
}

func TestNitroJournalRoundTrip(t *testing.T) {
	j := &NitroJournal{
		ModuleID:        "enclave",
		Timestamp:       42,
		RootFingerprint: [32]byte{1, 2, 3},
		PCRs:            [][]byte{{0xaa}, {0xbb, 0xcc}},
		PublicKey:       []byte{},
		UserData:        []byte("user"),
		Nonce:           []byte{},
	}
	b, err := j.Encode()
	require.NoError(t, err)
	require.Zero(t, len(b)%32)

	got, err := DecodeNitroJournal(b)
	require.NoError(t, err)
	require.Equal(t, j, got)

	_, err = DecodeNitroJournal(b[:40])
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	nitro := NewNitroVerifier()
	r := NewRegistry(nitro)

	p, err := r.Lookup(nitro.ImageID())
	require.NoError(t, err)
	require.Equal(t, "aws-nitro-attestation", p.Name())

	_, err = r.Lookup(zkvm.ImageID{1})
	require.ErrorIs(t, err, ErrUnknownImage)
}

func TestProgramImageIDIsStable(t *testing.T) {
	require.Equal(t, ProgramImageID("a", "1"), ProgramImageID("a", "1"))
	require.NotEqual(t, ProgramImageID("a", "1"), ProgramImageID("a", "2"))
	require.NotEqual(t, ProgramImageID("a", "1"), ProgramImageID("a1", ""))
	require.False(t, ProgramImageID("a", "1").IsZero())
}
