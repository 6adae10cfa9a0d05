package zkvm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// DigestSize is the byte length of every digest in the receipt model.
const DigestSize = 32

// Digest is a SHA-256 digest.
type Digest [DigestSize]byte

// Hex returns the lowercase hex encoding of d without a prefix.
func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

func (d Digest) String() string { return d.Hex() }

// ParseDigest decodes a 32-byte hex string, with or without a 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return d, errors.Wrap(err, "decoding digest")
	}
	if len(b) != DigestSize {
		return d, errors.Errorf("digest must be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Sha256 hashes the concatenation of parts.
func Sha256(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// ImageID identifies a guest program binary as eight 32-bit words.
type ImageID [8]uint32

// Bytes flattens the image id: each word is serialized as its own little-endian bytes and the
// words are concatenated in index order. This is the layout the on-chain verifier hashes.
func (id ImageID) Bytes() [DigestSize]byte {
	var out [DigestSize]byte
	for i, w := range id {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// Digest returns the flattened image id as a Digest.
func (id ImageID) Digest() Digest { return Digest(id.Bytes()) }

// String returns the hex encoding of the flattened bytes.
func (id ImageID) String() string {
	b := id.Bytes()
	return hex.EncodeToString(b[:])
}

// IsZero reports whether id is unset.
func (id ImageID) IsZero() bool { return id == ImageID{} }

// ImageIDFromDigest is the inverse of ImageID.Bytes.
func ImageIDFromDigest(d Digest) ImageID {
	var id ImageID
	for i := range id {
		id[i] = binary.LittleEndian.Uint32(d[i*4:])
	}
	return id
}

// ParseImageID decodes the hex form produced by ImageID.String.
func ParseImageID(s string) (ImageID, error) {
	d, err := ParseDigest(s)
	if err != nil {
		return ImageID{}, errors.Wrap(err, "parsing image id")
	}
	return ImageIDFromDigest(d), nil
}
