package zkvm

import (
	"github.com/pkg/errors"

	"github.com/zkattest/nitro-prover/proverr"
)

// DefaultMaxInputSize caps the guest input when the builder is not configured otherwise.
const DefaultMaxInputSize = 1 << 20

// ExecutorEnv binds exactly one input payload to a guest invocation. It is immutable once built.
type ExecutorEnv struct {
	input []byte
}

// Input returns a copy of the bytes the guest will read.
func (e *ExecutorEnv) Input() []byte {
	return append([]byte(nil), e.input...)
}

// Len is the size of the guest input.
func (e *ExecutorEnv) Len() int { return len(e.input) }

// ExecutorEnvBuilder collects the guest input before an ExecutorEnv is sealed.
type ExecutorEnvBuilder struct {
	maxInput int
	input    []byte
	written  bool
	err      error
}

// NewExecutorEnvBuilder returns a builder with DefaultMaxInputSize.
func NewExecutorEnvBuilder() *ExecutorEnvBuilder {
	return &ExecutorEnvBuilder{maxInput: DefaultMaxInputSize}
}

// MaxInputSize overrides the input cap. Non-positive values keep the current cap.
func (b *ExecutorEnvBuilder) MaxInputSize(n int) *ExecutorEnvBuilder {
	if n > 0 {
		b.maxInput = n
	}
	return b
}

// WriteSlice sets the guest input verbatim. Only one payload is accepted per environment.
func (b *ExecutorEnvBuilder) WriteSlice(p []byte) *ExecutorEnvBuilder {
	if b.written {
		b.err = errors.New("executor env already holds an input payload")
		return b
	}
	b.written = true
	b.input = append([]byte(nil), p...)
	return b
}

// Build validates the collected input and returns the environment.
func (b *ExecutorEnvBuilder) Build() (*ExecutorEnv, error) {
	switch {
	case b.err != nil:
		return nil, proverr.InputRejected(b.err, "building executor env")
	case len(b.input) == 0:
		return nil, proverr.InputRejected(nil, "empty attestation")
	case len(b.input) > b.maxInput:
		return nil, proverr.InputRejected(
			errors.Errorf("input is %d bytes, limit is %d", len(b.input), b.maxInput),
			"building executor env",
		)
	}
	return &ExecutorEnv{input: b.input}, nil
}
