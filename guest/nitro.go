package guest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/zkattest/nitro-prover/zkvm"
)

// AWSNitroRootFingerprint is the SHA-256 of the DER encoding of the AWS Nitro Enclaves root
// certificate (CN=aws.nitro-enclaves, valid 2019-10-28 to 2049-10-28).
var AWSNitroRootFingerprint = zkvm.Digest{
	0x64, 0x1a, 0x03, 0x21, 0xa3, 0xe2, 0x44, 0xef, 0xe4, 0x56, 0x46, 0x31, 0x95, 0xd6, 0x06, 0x31,
	0x7e, 0xd7, 0xcd, 0xcc, 0x3c, 0x17, 0x56, 0xe0, 0x98, 0x93, 0xf3, 0xc6, 0x8f, 0x79, 0xbb, 0x5b,
}

const (
	nitroProgramName    = "aws-nitro-attestation"
	nitroProgramVersion = "1"

	coseAlgES384 = -35

	maxPCRs      = 32
	maxPublicKey = 1024
	maxUserData  = 512
	maxNonce     = 512
)

// coseSign1 is an untagged COSE_Sign1 structure.
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

type coseHeader struct {
	Alg int64 `cbor:"1,keyasint,omitempty"`
}

// NitroDocument is the payload of a Nitro attestation.
type NitroDocument struct {
	ModuleID    string          `cbor:"module_id"`
	Timestamp   uint64          `cbor:"timestamp"`
	Digest      string          `cbor:"digest"`
	PCRs        map[uint][]byte `cbor:"pcrs"`
	Certificate []byte          `cbor:"certificate"`
	CABundle    [][]byte        `cbor:"cabundle"`
	PublicKey   []byte          `cbor:"public_key"`
	UserData    []byte          `cbor:"user_data"`
	Nonce       []byte          `cbor:"nonce"`
}

// Time is the document timestamp.
func (d *NitroDocument) Time() time.Time { return time.UnixMilli(int64(d.Timestamp)).UTC() }

// NitroVerifier is the guest that validates AWS Nitro Enclave attestation documents. Certificates
// are checked at the document's own timestamp, so a run depends on nothing but its input.
type NitroVerifier struct {
	root zkvm.Digest
	id   zkvm.ImageID
}

// NitroOption configures a NitroVerifier.
type NitroOption func(*NitroVerifier)

// WithRootFingerprint pins another root certificate. The image id changes with it.
func WithRootFingerprint(fp zkvm.Digest) NitroOption {
	return func(v *NitroVerifier) { v.root = fp }
}

// NewNitroVerifier returns the Nitro guest pinned to the AWS root unless overridden.
func NewNitroVerifier(opts ...NitroOption) *NitroVerifier {
	v := &NitroVerifier{root: AWSNitroRootFingerprint}
	for _, opt := range opts {
		opt(v)
	}
	v.id = ProgramImageID(nitroProgramName, nitroProgramVersion+"/"+v.root.Hex())
	return v
}

func (v *NitroVerifier) Name() string { return nitroProgramName }

func (v *NitroVerifier) ImageID() zkvm.ImageID { return v.id }

// RootFingerprint is the pinned root certificate fingerprint.
func (v *NitroVerifier) RootFingerprint() zkvm.Digest { return v.root }

// Run verifies the attestation and commits a NitroJournal.
func (v *NitroVerifier) Run(input []byte) (Verdict, error) {
	doc, reason := v.verify(input)
	if reason != "" {
		return Reject(reason), nil
	}
	journal, err := newNitroJournal(doc, v.root).Encode()
	if err != nil {
		return Verdict{}, errors.Wrap(err, "encoding journal")
	}
	return Accept(journal), nil
}

// ParseNitroDocument decodes the COSE envelope and its payload without verifying anything.
func ParseNitroDocument(input []byte) (*NitroDocument, error) {
	var sign1 coseSign1
	if err := cbor.Unmarshal(input, &sign1); err != nil {
		return nil, errors.Wrap(err, "decoding COSE_Sign1")
	}
	var doc NitroDocument
	if err := cbor.Unmarshal(sign1.Payload, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding attestation payload")
	}
	return &doc, nil
}

// verify returns the document or a rejection reason.
func (v *NitroVerifier) verify(input []byte) (*NitroDocument, string) {
	var sign1 coseSign1
	if err := cbor.Unmarshal(input, &sign1); err != nil {
		return nil, "malformed COSE_Sign1: " + err.Error()
	}

	var header coseHeader
	if err := cbor.Unmarshal(sign1.Protected, &header); err != nil {
		return nil, "malformed protected header: " + err.Error()
	}
	if header.Alg != coseAlgES384 {
		return nil, fmt.Sprintf("unsupported COSE algorithm %d", header.Alg)
	}

	var doc NitroDocument
	if err := cbor.Unmarshal(sign1.Payload, &doc); err != nil {
		return nil, "malformed attestation payload: " + err.Error()
	}
	if reason := checkDocument(&doc); reason != "" {
		return nil, reason
	}

	leaf, reason := v.verifyChain(&doc)
	if reason != "" {
		return nil, reason
	}
	if reason := verifySignature(leaf, &sign1); reason != "" {
		return nil, reason
	}
	return &doc, ""
}

func checkDocument(doc *NitroDocument) string {
	switch {
	case doc.ModuleID == "":
		return "missing module_id"
	case doc.Digest != "SHA384":
		return fmt.Sprintf("unsupported digest %q", doc.Digest)
	case doc.Timestamp == 0:
		return "missing timestamp"
	case len(doc.PCRs) == 0 || len(doc.PCRs) > maxPCRs:
		return fmt.Sprintf("invalid pcr count %d", len(doc.PCRs))
	case len(doc.Certificate) == 0:
		return "missing certificate"
	case len(doc.CABundle) == 0:
		return "missing cabundle"
	case len(doc.PublicKey) > maxPublicKey:
		return "public_key too large"
	case len(doc.UserData) > maxUserData:
		return "user_data too large"
	case len(doc.Nonce) > maxNonce:
		return "nonce too large"
	}
	for i := uint(0); i < uint(len(doc.PCRs)); i++ {
		pcr, ok := doc.PCRs[i]
		if !ok {
			return fmt.Sprintf("pcr %d missing", i)
		}
		if n := len(pcr); n != 32 && n != 48 && n != 64 {
			return fmt.Sprintf("pcr %d has invalid length %d", i, n)
		}
	}
	return ""
}

// verifyChain checks that the leaf certificate chains to the pinned root at document time.
func (v *NitroVerifier) verifyChain(doc *NitroDocument) (*x509.Certificate, string) {
	if fp := zkvm.Digest(sha256.Sum256(doc.CABundle[0])); fp != v.root {
		return nil, "untrusted root certificate " + fp.Hex()
	}
	root, err := x509.ParseCertificate(doc.CABundle[0])
	if err != nil {
		return nil, "malformed root certificate: " + err.Error()
	}
	roots := x509.NewCertPool()
	roots.AddCert(root)

	intermediates := x509.NewCertPool()
	for i, der := range doc.CABundle[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Sprintf("malformed cabundle certificate %d: %v", i+1, err)
		}
		intermediates.AddCert(cert)
	}

	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, "malformed certificate: " + err.Error()
	}
	_, err = leaf.Verify(x509.VerifyOptions{
		Intermediates: intermediates,
		Roots:         roots,
		CurrentTime:   doc.Time(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, "certificate chain: " + err.Error()
	}
	return leaf, ""
}

func verifySignature(leaf *x509.Certificate, sign1 *coseSign1) string {
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P384() {
		return "certificate key is not ECDSA P-384"
	}
	if len(sign1.Signature) != 96 {
		return fmt.Sprintf("signature has invalid length %d", len(sign1.Signature))
	}

	sigStructure, err := cbor.Marshal([]interface{}{"Signature1", sign1.Protected, []byte{}, sign1.Payload})
	if err != nil {
		return "encoding Sig_structure: " + err.Error()
	}
	digest := sha512.Sum384(sigStructure)
	r := new(big.Int).SetBytes(sign1.Signature[:48])
	s := new(big.Int).SetBytes(sign1.Signature[48:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return "invalid signature"
	}
	return ""
}

// sortedPCRs returns the PCR values in index order.
func sortedPCRs(pcrs map[uint][]byte) [][]byte {
	idx := make([]int, 0, len(pcrs))
	for i := range pcrs {
		idx = append(idx, int(i))
	}
	sort.Ints(idx)
	out := make([][]byte, len(idx))
	for n, i := range idx {
		out[n] = bytes.Clone(pcrs[uint(i)])
	}
	return out
}
