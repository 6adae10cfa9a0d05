package zkvm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrClaimMismatch is returned when a receipt is not bound to the expected image id and journal.
	ErrClaimMismatch = errors.New("receipt claim does not match image id and journal")

	// ErrNotGroth16 is returned when a Groth16 seal is requested from another receipt kind.
	ErrNotGroth16 = errors.New("receipt does not carry a groth16 seal")

	// ErrVerifierParameters is returned when a seal was produced for other verifier parameters.
	ErrVerifierParameters = errors.New("seal verifier parameters mismatch")
)

// ReceiptKind names the form of the inner proof.
type ReceiptKind int

const (
	// KindComposite is the fast form: one trace commitment per segment, not succinct.
	KindComposite ReceiptKind = iota
	// KindSuccinct aggregates the segments into a single STARK commitment.
	KindSuccinct
	// KindGroth16 compresses the succinct proof into a BN254 Groth16 seal.
	KindGroth16
)

func (k ReceiptKind) String() string {
	switch k {
	case KindComposite:
		return "composite"
	case KindSuccinct:
		return "succinct"
	case KindGroth16:
		return "groth16"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseReceiptKind is the inverse of ReceiptKind.String.
func ParseReceiptKind(s string) (ReceiptKind, error) {
	switch strings.ToLower(s) {
	case "composite":
		return KindComposite, nil
	case "succinct":
		return KindSuccinct, nil
	case "groth16":
		return KindGroth16, nil
	}
	return 0, errors.Errorf("unknown receipt kind %q", s)
}

// Journal holds the public outputs committed by the guest.
type Journal struct {
	Bytes []byte
}

// Digest is the SHA-256 of the journal bytes.
func (j Journal) Digest() Digest { return Sha256(j.Bytes) }

// ReceiptClaim is the statement a receipt proves: the image ran and produced the journal.
type ReceiptClaim struct {
	ImageID       ImageID
	JournalDigest Digest
}

// NewReceiptClaim builds the claim for image and journal.
func NewReceiptClaim(image ImageID, journal []byte) ReceiptClaim {
	return ReceiptClaim{ImageID: image, JournalDigest: Sha256(journal)}
}

// Digest commits to the claim.
func (c ReceiptClaim) Digest() Digest {
	id := c.ImageID.Bytes()
	return Sha256(id[:], c.JournalDigest[:])
}

// InnerReceipt is one of CompositeReceipt, SuccinctReceipt or Groth16Receipt.
type InnerReceipt interface {
	Kind() ReceiptKind
	ClaimDigest() Digest
}

// CompositeReceipt carries one trace commitment per executed segment.
type CompositeReceipt struct {
	Segments []Digest
	Claim    Digest
}

func (r *CompositeReceipt) Kind() ReceiptKind   { return KindComposite }
func (r *CompositeReceipt) ClaimDigest() Digest { return r.Claim }

// SuccinctReceipt carries a single aggregated commitment.
type SuccinctReceipt struct {
	Commitment Digest
	Claim      Digest
}

func (r *SuccinctReceipt) Kind() ReceiptKind   { return KindSuccinct }
func (r *SuccinctReceipt) ClaimDigest() Digest { return r.Claim }

// Groth16Receipt carries the compressed SNARK seal.
type Groth16Receipt struct {
	Seal               []byte
	Claim              Digest
	VerifierParameters Digest
}

func (r *Groth16Receipt) Kind() ReceiptKind   { return KindGroth16 }
func (r *Groth16Receipt) ClaimDigest() Digest { return r.Claim }

// Receipt is the output of one proving run.
type Receipt struct {
	Inner   InnerReceipt
	Journal Journal
}

// Kind returns the kind of the inner proof.
func (r *Receipt) Kind() ReceiptKind {
	if r == nil || r.Inner == nil {
		return -1
	}
	return r.Inner.Kind()
}

// Groth16 returns the inner Groth16 receipt or ErrNotGroth16.
func (r *Receipt) Groth16() (*Groth16Receipt, error) {
	if r == nil || r.Inner == nil {
		return nil, ErrNotGroth16
	}
	g, ok := r.Inner.(*Groth16Receipt)
	if !ok {
		return nil, errors.Wrapf(ErrNotGroth16, "receipt is %s", r.Inner.Kind())
	}
	return g, nil
}

// Claim recomputes the claim for image from the receipt journal.
func (r *Receipt) Claim(image ImageID) ReceiptClaim {
	return NewReceiptClaim(image, r.Journal.Bytes)
}

// Verifier checks Groth16 seals.
type Verifier interface {
	Parameters() Digest
	VerifySeal(seal []byte, claim ReceiptClaim) error
}

// Verify checks that the receipt proves image produced its journal. Groth16 receipts need v.
func (r *Receipt) Verify(v Verifier, image ImageID) error {
	if r == nil || r.Inner == nil {
		return errors.New("empty receipt")
	}
	claim := r.Claim(image)
	if r.Inner.ClaimDigest() != claim.Digest() {
		return errors.Wrapf(ErrClaimMismatch, "image %s", image)
	}
	g, ok := r.Inner.(*Groth16Receipt)
	if !ok {
		return nil
	}
	if v == nil {
		return errors.New("groth16 receipt verification requires a verifier")
	}
	if g.VerifierParameters != v.Parameters() {
		return errors.Wrapf(ErrVerifierParameters, "seal %s, verifier %s", g.VerifierParameters, v.Parameters())
	}
	return errors.Wrap(v.VerifySeal(g.Seal, claim), "verifying groth16 seal")
}
