package cmd

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/abiproof"
	"github.com/zkattest/nitro-prover/config"
	"github.com/zkattest/nitro-prover/guest"
	"github.com/zkattest/nitro-prover/metrics"
	"github.com/zkattest/nitro-prover/pipeline"
	"github.com/zkattest/nitro-prover/scheduler"
	"github.com/zkattest/nitro-prover/service"
	"github.com/zkattest/nitro-prover/snark"
	"github.com/zkattest/nitro-prover/zkvm"
	"github.com/zkattest/nitro-prover/zkvm/external"
	"github.com/zkattest/nitro-prover/zkvm/local"
	"github.com/zkattest/nitro-prover/zkvm/remote"
)

// stack is everything needed to prove and encode one attestation.
type stack struct {
	program  *guest.NitroVerifier
	pipeline *pipeline.Pipeline
	encoder  *abiproof.Encoder
}

// nitroProgram returns the attestation verifier guest, honouring a configured root fingerprint.
func nitroProgram(cfg *config.Config) (*guest.NitroVerifier, error) {
	if cfg.Prover.RootFingerprint == "" {
		return guest.NewNitroVerifier(), nil
	}
	fp, err := zkvm.ParseDigest(cfg.Prover.RootFingerprint)
	if err != nil {
		return nil, errors.Wrap(err, "parsing root fingerprint")
	}
	return guest.NewNitroVerifier(guest.WithRootFingerprint(fp)), nil
}

func newStack(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stack, error) {
	program, err := nitroProgram(cfg)
	if err != nil {
		return nil, err
	}
	kind, err := zkvm.ParseReceiptKind(cfg.Prover.ReceiptKind)
	if err != nil {
		return nil, err
	}
	selector, err := abiproof.ParseSelector(cfg.Prover.Selector)
	if err != nil {
		return nil, err
	}

	image := zkvm.Image{ID: program.ImageID()}
	if cfg.Remote.ELF != "" {
		image.ELF, err = os.ReadFile(cfg.Remote.ELF)
		if err != nil {
			return nil, errors.Wrap(err, "reading guest ELF")
		}
	}

	backend, verifier, err := newBackend(ctx, cfg, program, kind, logger)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithMaxInputSize(cfg.Prover.MaxInputSize),
		pipeline.WithReceiptKind(kind),
		pipeline.WithLogger(logger),
	}
	if cfg.Prover.Verify {
		if verifier == nil {
			verifier, err = snark.LoadVerifier(cfg.Circuit.Dir)
			if err != nil {
				return nil, errors.Wrap(err, "loading verifying key")
			}
		}
		opts = append(opts, pipeline.WithVerifier(verifier))
	}

	logger.Info().
		Str("backend", backend.Name()).
		Str("image_id", image.ID.String()).
		Str("kind", kind.String()).
		Str("selector", selector.String()).
		Msg("proving stack ready")
	return &stack{
		program:  program,
		pipeline: pipeline.New(backend, image, opts...),
		encoder:  abiproof.NewEncoder(selector, image.ID),
	}, nil
}

// newBackend builds the configured backend. The local backend also returns its verifier, since
// its keys are loaded anyway.
func newBackend(ctx context.Context, cfg *config.Config, program guest.Program, kind zkvm.ReceiptKind, logger zerolog.Logger) (zkvm.Prover, zkvm.Verifier, error) {
	switch cfg.Prover.Backend {
	case config.BackendLocal:
		var compressor local.Compressor
		var verifier zkvm.Verifier
		if kind == zkvm.KindGroth16 {
			src := &snark.S3Source{Bucket: cfg.Circuit.Bucket, Prefix: cfg.Circuit.Prefix, Region: cfg.Circuit.Region}
			artifacts, err := snark.LoadArtifacts(ctx, cfg.Circuit.Dir, src, logger)
			if err != nil {
				return nil, nil, errors.Wrap(err, "loading circuit")
			}
			p, err := snark.NewProver(artifacts, logger)
			if err != nil {
				return nil, nil, err
			}
			compressor, verifier = p, p
		}
		return local.New(guest.NewRegistry(program), compressor, local.WithLogger(logger)), verifier, nil

	case config.BackendRemote:
		return remote.NewClient(cfg.Remote.URL, cfg.Remote.APIKey,
			remote.WithPollInterval(cfg.Remote.PollInterval),
			remote.WithVersion(cfg.Remote.Version),
			remote.WithLogger(logger),
		), nil, nil

	case config.BackendExternal:
		p := external.New(cfg.External.Path, cfg.External.Args...)
		p.GracePeriod = cfg.External.GracePeriod
		p.Logger = logger
		return p, nil, nil
	}
	return nil, nil, errors.Errorf("unknown backend %q", cfg.Prover.Backend)
}

// newService puts a stack behind a scheduler. m may be nil. The caller closes the scheduler.
func newService(st *stack, cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (*service.Service, *scheduler.Scheduler) {
	var observer scheduler.Observer
	opts := []service.Option{
		service.WithFetchTimeout(cfg.Server.FetchTimeout),
		service.WithLogger(logger),
	}
	if cfg.Cache.Enabled {
		opts = append(opts, service.WithCache(cfg.Cache.MaxBytes))
	}
	if m != nil {
		observer = m
		opts = append(opts, service.WithCacheObserver(m))
	}
	sched := scheduler.New(cfg.Scheduler, logger, observer)
	return service.New(st.pipeline, st.encoder, sched, opts...), sched
}
