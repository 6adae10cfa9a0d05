package zkvm

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// receiptJSON is the wire form used by the remote and external backends.
type receiptJSON struct {
	Kind               string        `json:"kind"`
	Journal            hexutil.Bytes `json:"journal"`
	Claim              string        `json:"claim_digest"`
	Seal               hexutil.Bytes `json:"seal,omitempty"`
	VerifierParameters string        `json:"verifier_parameters,omitempty"`
	Commitment         string        `json:"commitment,omitempty"`
	Segments           []string      `json:"segments,omitempty"`
}

// MarshalJSON encodes the receipt with hex byte fields.
func (r *Receipt) MarshalJSON() ([]byte, error) {
	if r.Inner == nil {
		return nil, errors.New("receipt has no inner proof")
	}
	out := receiptJSON{
		Kind:    r.Inner.Kind().String(),
		Journal: r.Journal.Bytes,
		Claim:   "0x" + r.Inner.ClaimDigest().Hex(),
	}
	switch inner := r.Inner.(type) {
	case *Groth16Receipt:
		out.Seal = inner.Seal
		out.VerifierParameters = "0x" + inner.VerifierParameters.Hex()
	case *SuccinctReceipt:
		out.Commitment = "0x" + inner.Commitment.Hex()
	case *CompositeReceipt:
		for _, s := range inner.Segments {
			out.Segments = append(out.Segments, "0x"+s.Hex())
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var in receiptJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind, err := ParseReceiptKind(in.Kind)
	if err != nil {
		return err
	}
	claim, err := ParseDigest(in.Claim)
	if err != nil {
		return errors.Wrap(err, "claim_digest")
	}

	switch kind {
	case KindGroth16:
		params, err := ParseDigest(in.VerifierParameters)
		if err != nil {
			return errors.Wrap(err, "verifier_parameters")
		}
		r.Inner = &Groth16Receipt{Seal: in.Seal, Claim: claim, VerifierParameters: params}
	case KindSuccinct:
		commitment, err := ParseDigest(in.Commitment)
		if err != nil {
			return errors.Wrap(err, "commitment")
		}
		r.Inner = &SuccinctReceipt{Commitment: commitment, Claim: claim}
	case KindComposite:
		segments := make([]Digest, len(in.Segments))
		for i, s := range in.Segments {
			if segments[i], err = ParseDigest(s); err != nil {
				return errors.Wrapf(err, "segment %d", i)
			}
		}
		r.Inner = &CompositeReceipt{Segments: segments, Claim: claim}
	}
	r.Journal = Journal{Bytes: in.Journal}
	return nil
}
