// Package service is the proving service core: it accepts attestation requests, proves them on the
// scheduler and returns the encoded envelope.
package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/abiproof"
	"github.com/zkattest/nitro-prover/proverr"
	"github.com/zkattest/nitro-prover/scheduler"
	"github.com/zkattest/nitro-prover/zkvm"
)

var wrapEnvelope = abiproof.Wrap

// DefaultFetchTimeout bounds the download of an attestation given by URL.
const DefaultFetchTimeout = 30 * time.Second

// Prover proves one attestation. *pipeline.Pipeline implements it.
type Prover interface {
	Prove(ctx context.Context, attestation []byte) (*zkvm.Receipt, error)
	MaxInputSize() int
}

// CacheObserver is told about cache lookups. *metrics.Metrics implements it.
type CacheObserver interface {
	CacheLookup(hit bool)
}

// Request carries exactly one of Attestation and URL.
type Request struct {
	Attestation []byte
	URL         string
}

// Response is the result of a successful request.
type Response struct {
	Envelope abiproof.Envelope
	Proof    abiproof.EncodedProof
	Journal  []byte
	ImageID  zkvm.ImageID
	Seal     []byte
	Cached   bool
	Elapsed  time.Duration
}

// Service ties the pipeline, the encoder and the scheduler together.
type Service struct {
	prover       Prover
	encoder      *abiproof.Encoder
	scheduler    *scheduler.Scheduler
	httpClient   *http.Client
	fetchTimeout time.Duration
	cache        *fastcache.Cache
	observer     CacheObserver
	logger       zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the client used to fetch attestations by URL.
func WithHTTPClient(c *http.Client) Option { return func(s *Service) { s.httpClient = c } }

// WithFetchTimeout bounds attestation downloads.
func WithFetchTimeout(d time.Duration) Option { return func(s *Service) { s.fetchTimeout = d } }

// WithCache keeps up to maxBytes of envelopes keyed by the attestation fingerprint, so identical
// attestations are proved once.
func WithCache(maxBytes int) Option {
	return func(s *Service) {
		if maxBytes > 0 {
			s.cache = fastcache.New(maxBytes)
		}
	}
}

// WithCacheObserver reports cache lookups.
func WithCacheObserver(o CacheObserver) Option { return func(s *Service) { s.observer = o } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// New returns a service.
func New(prover Prover, encoder *abiproof.Encoder, sched *scheduler.Scheduler, opts ...Option) *Service {
	s := &Service{
		prover:       prover,
		encoder:      encoder,
		scheduler:    sched,
		httpClient:   http.DefaultClient,
		fetchTimeout: DefaultFetchTimeout,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImageID is the guest image proofs are produced for.
func (s *Service) ImageID() zkvm.ImageID { return s.encoder.ImageID() }

// MaxInputSize is the largest attestation accepted.
func (s *Service) MaxInputSize() int { return s.prover.MaxInputSize() }

// Stats reports the scheduler queue.
func (s *Service) Stats() (queued, active int) { return s.scheduler.Stats() }

// Prove resolves the attestation, proves it on a scheduler worker and encodes the result. Errors
// carry a proverr category; nothing is retried.
func (s *Service) Prove(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	attestation, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &s.logger
	}

	key := fingerprint(attestation)
	if resp, ok := s.lookup(key, logger); ok {
		resp.Elapsed = time.Since(start)
		return resp, nil
	}

	var receipt *zkvm.Receipt
	err = s.scheduler.Submit(ctx, "prove", func(ctx context.Context) error {
		var err error
		receipt, err = s.prover.Prove(ctx, attestation)
		return err
	})
	if err != nil {
		return nil, err
	}

	proof, err := s.encoder.Encode(receipt)
	if err != nil {
		return nil, err
	}
	envelope, err := wrapEnvelope(attestation, proof)
	if err != nil {
		return nil, proverr.ProvingFailed(err, "wrapping envelope")
	}
	if s.cache != nil {
		s.cache.SetBig(key[:], envelope)
	}

	g, _ := receipt.Groth16()
	resp := &Response{
		Envelope: envelope,
		Proof:    proof,
		Journal:  receipt.Journal.Bytes,
		ImageID:  s.encoder.ImageID(),
		Seal:     g.Seal,
		Elapsed:  time.Since(start),
	}
	logger.Info().Dur("elapsed", resp.Elapsed).Int("envelope_size", len(envelope)).Msg("proof encoded")
	return resp, nil
}

// Encode builds an envelope from an externally produced seal and journal without proving.
func (s *Service) Encode(attestation, seal, journal []byte) (*Response, error) {
	if len(attestation) == 0 {
		return nil, proverr.InputRejected(nil, "empty attestation")
	}
	proof, err := abiproof.EncodeSeal(s.encoder.Selector(), seal, s.encoder.ImageID(), journal)
	if err != nil {
		return nil, err
	}
	envelope, err := wrapEnvelope(attestation, proof)
	if err != nil {
		return nil, proverr.ProvingFailed(err, "wrapping envelope")
	}
	return &Response{
		Envelope: envelope,
		Proof:    proof,
		Journal:  journal,
		ImageID:  s.encoder.ImageID(),
		Seal:     seal,
	}, nil
}

func (s *Service) resolve(ctx context.Context, req Request) ([]byte, error) {
	switch {
	case len(req.Attestation) > 0 && req.URL != "":
		return nil, proverr.InputRejected(nil, "request carries both an attestation and a url")
	case req.URL != "":
		return s.fetch(ctx, req.URL)
	case len(req.Attestation) == 0:
		return nil, proverr.InputRejected(nil, "empty attestation")
	case len(req.Attestation) > s.MaxInputSize():
		return nil, proverr.InputRejected(nil, fmt.Sprintf("attestation of %d bytes exceeds %d", len(req.Attestation), s.MaxInputSize()))
	}
	return req.Attestation, nil
}

// fetch downloads an attestation, reading at most one byte past the size limit.
func (s *Service) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, proverr.InputRejected(err, fmt.Sprintf("invalid attestation url %q", rawURL))
	}
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, proverr.InputRejected(err, "building attestation request")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil, proverr.FromContext(ctx.Err())
		}
		return nil, proverr.InputRejected(err, "fetching attestation")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, proverr.InputRejected(nil, fmt.Sprintf("fetching attestation: status %d", resp.StatusCode))
	}

	limit := s.MaxInputSize()
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return nil, proverr.InputRejected(err, "reading attestation")
	}
	if len(body) > limit {
		return nil, proverr.InputRejected(nil, fmt.Sprintf("attestation exceeds %d bytes", limit))
	}
	if len(body) == 0 {
		return nil, proverr.InputRejected(nil, "empty attestation")
	}
	return body, nil
}

func (s *Service) lookup(key [32]byte, logger *zerolog.Logger) (*Response, bool) {
	if s.cache == nil {
		return nil, false
	}
	envelope := s.cache.GetBig(nil, key[:])
	if s.observer != nil {
		s.observer.CacheLookup(len(envelope) > 0)
	}
	if len(envelope) == 0 {
		return nil, false
	}
	_, proof, err := abiproof.Unwrap(envelope)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping undecodable cache entry")
		s.cache.Del(key[:])
		return nil, false
	}
	decoded, err := abiproof.DecodeProof(proof)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping undecodable cache entry")
		s.cache.Del(key[:])
		return nil, false
	}
	logger.Debug().Msg("proof served from cache")
	return &Response{
		Envelope: envelope,
		Proof:    proof,
		Journal:  decoded.Journal,
		ImageID:  s.encoder.ImageID(),
		Seal:     decoded.Seal(),
		Cached:   true,
	}, true
}

func fingerprint(attestation []byte) [32]byte { return sha256.Sum256(attestation) }
