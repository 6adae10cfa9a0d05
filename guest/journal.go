package guest

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"

	"github.com/zkattest/nitro-prover/zkvm"
)

// NitroJournal is the public output committed by the Nitro guest. It is ABI encoded as
// (string moduleId, uint64 timestamp, bytes32 rootFingerprint, bytes[] pcrs, bytes publicKey,
// bytes userData, bytes nonce) so that contracts can decode it directly.
type NitroJournal struct {
	ModuleID        string
	Timestamp       uint64
	RootFingerprint [32]byte
	PCRs            [][]byte
	PublicKey       []byte
	UserData        []byte
	Nonce           []byte
}

var nitroJournalArgs = mustArguments(
	"string", "uint64", "bytes32", "bytes[]", "bytes", "bytes", "bytes",
)

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, name := range types {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

func newNitroJournal(doc *NitroDocument, root zkvm.Digest) *NitroJournal {
	return &NitroJournal{
		ModuleID:        doc.ModuleID,
		Timestamp:       doc.Timestamp,
		RootFingerprint: root,
		PCRs:            sortedPCRs(doc.PCRs),
		PublicKey:       nonNil(doc.PublicKey),
		UserData:        nonNil(doc.UserData),
		Nonce:           nonNil(doc.Nonce),
	}
}

// Encode returns the ABI encoding of j.
func (j *NitroJournal) Encode() ([]byte, error) {
	return nitroJournalArgs.Pack(j.ModuleID, j.Timestamp, j.RootFingerprint, j.PCRs, j.PublicKey, j.UserData, j.Nonce)
}

// DecodeNitroJournal parses a journal produced by the Nitro guest.
func DecodeNitroJournal(b []byte) (*NitroJournal, error) {
	values, err := nitroJournalArgs.Unpack(b)
	if err != nil {
		return nil, errors.Wrap(err, "decoding nitro journal")
	}
	j := &NitroJournal{}
	var ok [7]bool
	j.ModuleID, ok[0] = values[0].(string)
	j.Timestamp, ok[1] = values[1].(uint64)
	j.RootFingerprint, ok[2] = values[2].([32]byte)
	j.PCRs, ok[3] = values[3].([][]byte)
	j.PublicKey, ok[4] = values[4].([]byte)
	j.UserData, ok[5] = values[5].([]byte)
	j.Nonce, ok[6] = values[6].([]byte)
	for i, good := range ok {
		if !good {
			return nil, errors.Errorf("nitro journal field %d has type %T", i, values[i])
		}
	}
	return j, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
