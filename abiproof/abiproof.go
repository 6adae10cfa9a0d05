// Package abiproof encodes receipts in the layout expected by on-chain verifier contracts:
//
//	proof    = abi.encode(bytes selector‖seal, bytes32 imageId, bytes journal)
//	envelope = abi.encode(bytes attestation, bytes proof)
package abiproof

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"

	"github.com/zkattest/nitro-prover/proverr"
	"github.com/zkattest/nitro-prover/zkvm"
)

// SelectorSize is the length of a verifier selector.
const SelectorSize = 4

// Selector routes a seal to a verifier implementation.
type Selector [SelectorSize]byte

// Groth16 verifier selectors of successive verifier router deployments.
var (
	SelectorGroth16V1_0 = Selector{0x31, 0x0f, 0xe5, 0x98}
	SelectorGroth16V1_1 = Selector{0x50, 0xbd, 0x17, 0x69}
	SelectorGroth16V1_2 = Selector{0xc1, 0x01, 0xb4, 0x2b}
)

// DefaultSelector is used when no selector is configured.
var DefaultSelector = SelectorGroth16V1_2

func (s Selector) Hex() string { return hex.EncodeToString(s[:]) }

func (s Selector) String() string { return "0x" + s.Hex() }

// ParseSelector parses a 4-byte hex selector with optional 0x prefix.
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return sel, errors.Wrapf(err, "parsing selector %q", s)
	}
	if len(b) != SelectorSize {
		return sel, errors.Errorf("selector %q has %d bytes, want %d", s, len(b), SelectorSize)
	}
	copy(sel[:], b)
	return sel, nil
}

// EncodedProof is the ABI encoding of (bytes, bytes32, bytes) consumed by the verifier contract.
type EncodedProof []byte

// Envelope is the ABI encoding of (bytes attestation, bytes proof).
type Envelope []byte

// Proof is the decoded view of an EncodedProof.
type Proof struct {
	SealWithSelector []byte
	ImageID          [32]byte
	Journal          []byte
}

// Selector returns the routing prefix of the seal.
func (p *Proof) Selector() (Selector, error) {
	var sel Selector
	if len(p.SealWithSelector) < SelectorSize {
		return sel, errors.New("seal is shorter than a selector")
	}
	copy(sel[:], p.SealWithSelector)
	return sel, nil
}

// Seal returns the seal without its selector.
func (p *Proof) Seal() []byte {
	if len(p.SealWithSelector) < SelectorSize {
		return nil
	}
	return p.SealWithSelector[SelectorSize:]
}

var (
	bytesType, _   = abi.NewType("bytes", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)

	proofArgs    = abi.Arguments{{Type: bytesType}, {Type: bytes32Type}, {Type: bytesType}}
	envelopeArgs = abi.Arguments{{Type: bytesType}, {Type: bytesType}}
)

// FlattenImageID serializes each image id word as little-endian bytes, words in index order.
func FlattenImageID(id zkvm.ImageID) [32]byte { return id.Bytes() }

// Encoder encodes receipts of one guest image for one verifier selector.
type Encoder struct {
	selector Selector
	image    zkvm.ImageID
}

// NewEncoder returns an encoder. selector and image are deployment constants that must match the
// verifier contract.
func NewEncoder(selector Selector, image zkvm.ImageID) *Encoder {
	return &Encoder{selector: selector, image: image}
}

// Selector is the selector prepended to every seal.
func (e *Encoder) Selector() Selector { return e.selector }

// ImageID is the image id written into every proof.
func (e *Encoder) ImageID() zkvm.ImageID { return e.image }

// Encode packs the receipt's seal, the image id and the journal. A receipt without a Groth16 seal
// fails with proverr.ErrEncodingPrecondition.
func (e *Encoder) Encode(r *zkvm.Receipt) (EncodedProof, error) {
	g, err := r.Groth16()
	if err != nil {
		return nil, proverr.EncodingPrecondition(err, "")
	}
	if len(g.Seal) == 0 {
		return nil, proverr.EncodingPrecondition(nil, "receipt has an empty seal")
	}
	return EncodeSeal(e.selector, g.Seal, e.image, r.Journal.Bytes)
}

// EncodeSeal packs an already extracted seal. It is the primitive behind Encoder.Encode.
func EncodeSeal(selector Selector, seal []byte, image zkvm.ImageID, journal []byte) (EncodedProof, error) {
	if len(seal) == 0 {
		return nil, proverr.EncodingPrecondition(nil, "empty seal")
	}
	sealWithSelector := make([]byte, 0, SelectorSize+len(seal))
	sealWithSelector = append(sealWithSelector, selector[:]...)
	sealWithSelector = append(sealWithSelector, seal...)
	if journal == nil {
		journal = []byte{}
	}

	out, err := proofArgs.Pack(sealWithSelector, FlattenImageID(image), journal)
	if err != nil {
		return nil, errors.Wrap(err, "abi encoding proof")
	}
	return out, nil
}

// DecodeProof is the inverse of Encode.
func DecodeProof(b EncodedProof) (*Proof, error) {
	values, err := proofArgs.Unpack(b)
	if err != nil {
		return nil, errors.Wrap(err, "abi decoding proof")
	}
	seal, ok1 := values[0].([]byte)
	id, ok2 := values[1].([32]byte)
	journal, ok3 := values[2].([]byte)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("abi decoding proof: unexpected field types")
	}
	return &Proof{SealWithSelector: seal, ImageID: id, Journal: journal}, nil
}

// Wrap packs the attestation together with its encoded proof.
func Wrap(attestation []byte, proof EncodedProof) (Envelope, error) {
	out, err := envelopeArgs.Pack(nonNil(attestation), nonNil(proof))
	if err != nil {
		return nil, errors.Wrap(err, "abi encoding envelope")
	}
	return out, nil
}

// Unwrap is the inverse of Wrap.
func Unwrap(b Envelope) (attestation []byte, proof EncodedProof, err error) {
	values, err := envelopeArgs.Unpack(b)
	if err != nil {
		return nil, nil, errors.Wrap(err, "abi decoding envelope")
	}
	att, ok1 := values[0].([]byte)
	p, ok2 := values[1].([]byte)
	if !ok1 || !ok2 {
		return nil, nil, errors.New("abi decoding envelope: unexpected field types")
	}
	return att, p, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
