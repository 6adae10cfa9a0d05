// Package guest holds the programs whose execution the prover attests to.
package guest

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/zkattest/nitro-prover/zkvm"
)

// Verdict is the explicit outcome of a guest run. A valid verdict carries the journal; an invalid
// one carries the reason and no journal.
type Verdict struct {
	Valid   bool
	Reason  string
	Journal []byte
}

// Accept returns a valid verdict committing journal.
func Accept(journal []byte) Verdict { return Verdict{Valid: true, Journal: journal} }

// Reject returns an invalid verdict.
func Reject(reason string) Verdict { return Verdict{Reason: reason} }

// Program is a deterministic guest. Run returns an error only for faults in the program itself;
// judgements about the input are expressed through the Verdict.
type Program interface {
	Name() string
	ImageID() zkvm.ImageID
	Run(input []byte) (Verdict, error)
}

// ProgramImageID derives an image id from a program name and version descriptor.
func ProgramImageID(name, version string) zkvm.ImageID {
	return zkvm.ImageIDFromDigest(zkvm.Sha256([]byte("guest:"), []byte(name), []byte{0}, []byte(version)))
}

// ErrUnknownImage is returned when no program is registered for an image id.
var ErrUnknownImage = errors.New("unknown guest image")

// Registry maps image ids to programs.
type Registry struct {
	mu       sync.RWMutex
	programs map[zkvm.ImageID]Program
}

// NewRegistry registers programs.
func NewRegistry(programs ...Program) *Registry {
	r := &Registry{programs: make(map[zkvm.ImageID]Program)}
	for _, p := range programs {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any program with the same image id.
func (r *Registry) Register(p Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[p.ImageID()] = p
}

// Lookup returns the program for id.
func (r *Registry) Lookup(id zkvm.ImageID) (Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownImage, "image %s", id)
	}
	return p, nil
}
