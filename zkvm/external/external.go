// Package external runs a host prover executable as a subprocess. The executable receives the
// guest input on stdin and the image id and receipt kind as flags, and prints a JSON receipt on
// stdout.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/proverr"
	"github.com/zkattest/nitro-prover/zkvm"
)

// ExitRejected is the exit code the executable uses when the guest rejected its input. The last
// line of stderr is the reason.
const ExitRejected = 3

// DefaultGracePeriod is how long a cancelled executable may take to exit after SIGINT.
const DefaultGracePeriod = 10 * time.Second

const maxStderr = 64 << 10

// Prover is the subprocess backend.
type Prover struct {
	Path string
	Args []string
	// Env is appended to the current environment.
	Env         []string
	GracePeriod time.Duration
	Logger      zerolog.Logger
}

// New returns a backend running path with args, followed by --image and --kind.
func New(path string, args ...string) *Prover {
	return &Prover{Path: path, Args: args, GracePeriod: DefaultGracePeriod, Logger: zerolog.Nop()}
}

func (p *Prover) Name() string { return "external" }

// ProveWithOpts runs the executable once. When ctx is done the process gets SIGINT and is killed
// if it has not exited within GracePeriod.
func (p *Prover) ProveWithOpts(ctx context.Context, env *zkvm.ExecutorEnv, image zkvm.Image, opts zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
	if env == nil {
		return nil, proverr.InputRejected(nil, "nil executor environment")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append(append([]string(nil), p.Args...), "--image", image.ID.String(), "--kind", opts.Kind.String())
	cmd := exec.CommandContext(ctx, p.Path, args...)
	cmd.Stdin = bytes.NewReader(env.Input())
	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: maxStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = p.GracePeriod

	start := time.Now()
	p.Logger.Debug().Str("path", p.Path).Strs("args", args).Msg("starting prover process")
	err := cmd.Run()
	elapsed := time.Since(start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		p.Logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("prover process cancelled")
		return nil, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitRejected {
			return nil, proverr.AttestationRejected(lastLine(stderr.String()))
		}
		return nil, proverr.ProvingFailed(err, "prover process: "+lastLine(stderr.String()))
	}

	var receipt zkvm.Receipt
	if err := json.Unmarshal(stdout.Bytes(), &receipt); err != nil {
		return nil, proverr.ProvingFailed(err, "decoding receipt from prover process")
	}
	if receipt.Kind() != opts.Kind {
		return nil, proverr.ProvingFailed(nil, "prover process returned a "+receipt.Kind().String()+" receipt, want "+opts.Kind.String())
	}
	p.Logger.Debug().Dur("elapsed", elapsed).Msg("prover process finished")
	return &zkvm.ProveInfo{Receipt: &receipt, Stats: zkvm.SessionStats{Elapsed: elapsed}}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// cappedBuffer keeps the tail of what is written to it, up to limit bytes.
type cappedBuffer struct {
	limit int
	buf   []byte
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return string(b.buf) }
