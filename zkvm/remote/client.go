// Package remote is a zkvm.Prover backed by a remote proving service speaking the session and
// snark REST protocol.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/proverr"
	"github.com/zkattest/nitro-prover/zkvm"
)

const (
	apiKeyHeader  = "x-api-key"
	versionHeader = "x-risc0-version"

	// DefaultVersion is sent in the version header unless overridden.
	DefaultVersion = "1.2.0"

	// DefaultPollInterval is the delay between two status requests.
	DefaultPollInterval = 5 * time.Second

	stopTimeout = 10 * time.Second
)

// Session states reported by the service.
const (
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusTimedOut  = "TIMED_OUT"
	StatusAborted   = "ABORTED"
)

// ErrMissingImage is returned when the service does not know the image and no ELF was supplied.
var ErrMissingImage = errors.New("image is not uploaded and no ELF is available")

// Client talks to the remote proving service.
type Client struct {
	url          string
	apiKey       string
	version      string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

// WithPollInterval sets the delay between status requests.
func WithPollInterval(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.pollInterval = d
		}
	}
}

// WithVersion sets the version header.
func WithVersion(v string) Option { return func(cl *Client) { cl.version = v } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(cl *Client) { cl.logger = l } }

// NewClient returns a client for the service at url.
func NewClient(url, apiKey string, opts ...Option) *Client {
	c := &Client{
		url:          strings.TrimRight(url, "/"),
		apiKey:       apiKey,
		version:      DefaultVersion,
		httpClient:   http.DefaultClient,
		pollInterval: DefaultPollInterval,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "remote" }

type uploadResponse struct {
	UUID string `json:"uuid"`
	URL  string `json:"url"`
}

type sessionCreateRequest struct {
	Image       string   `json:"img"`
	Input       string   `json:"input"`
	Assumptions []string `json:"assumptions"`
	ExecuteOnly bool     `json:"execute_only"`
}

type snarkCreateRequest struct {
	SessionID string `json:"session_id"`
}

type createResponse struct {
	UUID string `json:"uuid"`
}

// SessionStatus is the body of /sessions/status.
type SessionStatus struct {
	Status      string   `json:"status"`
	ReceiptURL  string   `json:"receipt_url,omitempty"`
	ErrorMsg    string   `json:"error_msg,omitempty"`
	State       string   `json:"state,omitempty"`
	ElapsedTime *float64 `json:"elapsed_time,omitempty"`
}

// SnarkStatus is the body of /snark/status.
type SnarkStatus struct {
	Status   string `json:"status"`
	Output   string `json:"output,omitempty"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// SnarkReceipt is the document served at the snark output URL.
type SnarkReceipt struct {
	Seal               hexutil.Bytes `json:"seal"`
	Journal            hexutil.Bytes `json:"journal"`
	ImageID            string        `json:"image_id"`
	VerifierParameters string        `json:"verifier_parameters"`
}

// ProveWithOpts uploads the image and input, runs a session and, for Groth16 requests, a snark
// job on top of it. If ctx is done while a session runs the session is stopped.
func (c *Client) ProveWithOpts(ctx context.Context, env *zkvm.ExecutorEnv, image zkvm.Image, opts zkvm.ProverOpts) (*zkvm.ProveInfo, error) {
	if env == nil {
		return nil, proverr.InputRejected(nil, "nil executor environment")
	}
	start := time.Now()

	if err := c.uploadImage(ctx, image); err != nil {
		return nil, c.failure(ctx, err, "uploading image")
	}
	inputID, err := c.uploadInput(ctx, env.Input())
	if err != nil {
		return nil, c.failure(ctx, err, "uploading input")
	}

	var session createResponse
	req := sessionCreateRequest{Image: image.ID.String(), Input: inputID, Assumptions: []string{}}
	if err := c.doJSON(ctx, http.MethodPost, "/sessions/create", req, &session); err != nil {
		return nil, c.failure(ctx, err, "creating session")
	}
	logger := c.logger.With().Str("session", session.UUID).Logger()
	logger.Info().Str("image", image.ID.String()).Msg("session created")

	status, err := c.waitSession(ctx, session.UUID)
	if err != nil {
		if ctx.Err() != nil {
			c.stopSession(session.UUID, logger)
		}
		return nil, err
	}
	stats := zkvm.SessionStats{}
	if status.ElapsedTime != nil {
		stats.Elapsed = time.Duration(*status.ElapsedTime * float64(time.Second))
	}

	var receipt *zkvm.Receipt
	switch opts.Kind {
	case zkvm.KindGroth16:
		receipt, err = c.snark(ctx, session.UUID, image.ID, logger)
	case zkvm.KindComposite, zkvm.KindSuccinct:
		receipt, err = c.fetchReceipt(ctx, status.ReceiptURL)
		if err == nil && receipt.Kind() != opts.Kind {
			err = proverr.ProvingFailed(nil, fmt.Sprintf("service returned a %s receipt, want %s", receipt.Kind(), opts.Kind))
		}
	default:
		err = proverr.ProvingFailed(nil, "unsupported receipt kind "+opts.Kind.String())
	}
	if err != nil {
		// The service has no stop call for snark jobs; stopping the parent session ends them.
		if ctx.Err() != nil {
			c.stopSession(session.UUID, logger)
		}
		return nil, err
	}
	if stats.Elapsed == 0 {
		stats.Elapsed = time.Since(start)
	}
	logger.Info().Dur("elapsed", time.Since(start)).Str("kind", opts.Kind.String()).Msg("session proved")
	return &zkvm.ProveInfo{Receipt: receipt, Stats: stats}, nil
}

func (c *Client) uploadImage(ctx context.Context, image zkvm.Image) error {
	resp, err := c.do(ctx, http.MethodGet, "/images/upload/"+image.ID.String(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	var up uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return errors.Wrap(err, "decoding image upload response")
	}
	if len(image.ELF) == 0 {
		return errors.Wrapf(ErrMissingImage, "image %s", image.ID)
	}
	return c.put(ctx, up.URL, image.ELF)
}

func (c *Client) uploadInput(ctx context.Context, input []byte) (string, error) {
	var up uploadResponse
	if err := c.doJSON(ctx, http.MethodGet, "/inputs/upload", nil, &up); err != nil {
		return "", err
	}
	if err := c.put(ctx, up.URL, input); err != nil {
		return "", err
	}
	return up.UUID, nil
}

func (c *Client) waitSession(ctx context.Context, id string) (*SessionStatus, error) {
	for {
		var status SessionStatus
		if err := c.doJSON(ctx, http.MethodGet, "/sessions/status/"+id, nil, &status); err != nil {
			return nil, c.failure(ctx, err, "polling session")
		}
		if status.Status != StatusRunning {
			if err := terminalError(status.Status, status.ErrorMsg); err != nil {
				return nil, errors.WithMessagef(err, "session %s", id)
			}
			return &status, nil
		}
		c.logger.Debug().Str("session", id).Str("state", status.State).Msg("session running")
		if err := c.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *Client) snark(ctx context.Context, sessionID string, image zkvm.ImageID, logger zerolog.Logger) (*zkvm.Receipt, error) {
	var job createResponse
	if err := c.doJSON(ctx, http.MethodPost, "/snark/create", snarkCreateRequest{SessionID: sessionID}, &job); err != nil {
		return nil, c.failure(ctx, err, "creating snark job")
	}
	logger.Debug().Str("snark", job.UUID).Msg("snark job created")

	var status SnarkStatus
	for {
		if err := c.doJSON(ctx, http.MethodGet, "/snark/status/"+job.UUID, nil, &status); err != nil {
			return nil, c.failure(ctx, err, "polling snark job")
		}
		if status.Status != StatusRunning {
			break
		}
		if err := c.sleep(ctx); err != nil {
			return nil, err
		}
	}
	if err := terminalError(status.Status, status.ErrorMsg); err != nil {
		return nil, errors.WithMessagef(err, "snark job %s", job.UUID)
	}

	var out SnarkReceipt
	if err := c.getURL(ctx, status.Output, &out); err != nil {
		return nil, c.failure(ctx, err, "downloading snark receipt")
	}
	if got, err := zkvm.ParseImageID(out.ImageID); err != nil || got != image {
		return nil, proverr.ProvingFailed(nil, fmt.Sprintf("snark receipt is for image %q, want %s", out.ImageID, image))
	}
	params, err := zkvm.ParseDigest(out.VerifierParameters)
	if err != nil {
		return nil, proverr.ProvingFailed(err, "snark receipt verifier parameters")
	}
	journal := zkvm.Journal{Bytes: out.Journal}
	return &zkvm.Receipt{
		Inner: &zkvm.Groth16Receipt{
			Seal:               out.Seal,
			Claim:              zkvm.NewReceiptClaim(image, journal.Bytes).Digest(),
			VerifierParameters: params,
		},
		Journal: journal,
	}, nil
}

func (c *Client) fetchReceipt(ctx context.Context, url string) (*zkvm.Receipt, error) {
	var r zkvm.Receipt
	if err := c.getURL(ctx, url, &r); err != nil {
		return nil, c.failure(ctx, err, "downloading receipt")
	}
	return &r, nil
}

// stopSession asks the service to abort a session. It runs detached from the request context,
// which is usually done by the time it is called.
func (c *Client) stopSession(id string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := c.doJSON(ctx, http.MethodGet, "/sessions/stop/"+id, nil, nil); err != nil {
		logger.Warn().Err(err).Msg("failed to stop session")
		return
	}
	logger.Info().Msg("session stopped")
}

func terminalError(status, msg string) error {
	switch status {
	case StatusSucceeded:
		return nil
	case StatusTimedOut, StatusAborted:
		return proverr.Cancelled(errors.Wrap(proverr.ErrBackendStopped, strings.ToLower(status)), msg)
	case StatusFailed:
		if msg == "" {
			msg = "remote proving failed"
		}
		return proverr.ProvingFailed(errors.New(msg), "")
	default:
		return proverr.ProvingFailed(nil, "unexpected status "+status)
	}
}

// failure classifies transport errors. A done context wins over whatever the request returned.
func (c *Client) failure(ctx context.Context, err error, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if proverr.IsMarked(err) {
		return err
	}
	return proverr.ProvingFailed(err, msg)
}

func (c *Client) sleep(ctx context.Context) error {
	t := time.NewTimer(c.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set(versionHeader, c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.Wrap(err, "encoding request")
		}
	}
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return errors.WithMessagef(err, "%s %s", method, path)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decoding %s response", path)
}

// put uploads to a presigned URL, which must not receive the API key.
func (c *Client) put(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building upload request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "uploading")
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) getURL(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "building download request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "downloading")
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding download")
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return errors.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
