// Package server exposes the proving service over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/metrics"
	"github.com/zkattest/nitro-prover/proverr"
	"github.com/zkattest/nitro-prover/service"
)

const (
	// DefaultReadHeaderTimeout bounds how long a client may take to send headers. There is no
	// write timeout because a proof can take minutes.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultShutdownTimeout bounds the graceful shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	// bodySlack covers JSON framing around a hex encoded attestation.
	bodySlack = 64 << 10
)

// Server is the HTTP façade of a service.Service.
type Server struct {
	svc     *service.Service
	logger  zerolog.Logger
	metrics *metrics.Metrics
	handler http.Handler
}

// New builds the server and its routes. m may be nil, which disables /metrics.
func New(svc *service.Service, logger zerolog.Logger, m *metrics.Metrics) *Server {
	s := &Server{svc: svc, logger: logger, metrics: m}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("POST /prove", s.proveHandler)
	mux.HandleFunc("POST /encode", s.encodeHandler)
	var observer RequestObserver
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
		observer = m
	}
	s.handler = LoggingMiddleware(logger, observer, mux)
	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listening")
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. Requests in flight at that point run to completion, within
// DefaultShutdownTimeout; their contexts do not derive from ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	base := context.WithoutCancel(ctx)
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Str("image_id", s.svc.ImageID().String()).
			Msg("server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serving")
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down")
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ReturnJSON(w, "OK", http.StatusOK)
}

// proveRequest is the JSON form of POST /prove.
type proveRequest struct {
	Attestation hexutil.Bytes `json:"attestation"`
	URL         string        `json:"url"`
}

// ProveResponse is the JSON reply of POST /prove and POST /encode.
type ProveResponse struct {
	Envelope  hexutil.Bytes `json:"envelope"`
	Proof     hexutil.Bytes `json:"proof"`
	Journal   hexutil.Bytes `json:"journal"`
	ImageID   string        `json:"image_id"`
	Seal      hexutil.Bytes `json:"seal"`
	Cached    bool          `json:"cached"`
	ElapsedMS int64         `json:"elapsed_ms"`
	RequestID string        `json:"request_id"`
}

func (s *Server) proveHandler(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(w)
	req, err := s.decodeProveRequest(w, r)
	if err != nil {
		ReturnErrorJSON(w, err, requestID)
		return
	}

	resp, err := s.svc.Prove(r.Context(), req)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().
			Err(err).
			Str("category", string(proverr.Of(err))).
			Msg("prove failed")
		ReturnErrorJSON(w, err, requestID)
		return
	}

	if r.URL.Query().Get("format") == "raw" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp.Envelope)
		return
	}
	ReturnJSON(w, toResponse(resp, requestID), http.StatusOK)
}

// decodeProveRequest accepts a JSON request, a 0x-prefixed hex body or raw attestation bytes.
func (s *Server) decodeProveRequest(w http.ResponseWriter, r *http.Request) (service.Request, error) {
	body, err := s.readBody(w, r)
	if err != nil {
		return service.Request{}, err
	}

	if isJSON(r) {
		var req proveRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return service.Request{}, proverr.InputRejected(err, "decoding request")
		}
		return service.Request{Attestation: req.Attestation, URL: req.URL}, nil
	}

	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("0x")) || bytes.HasPrefix(trimmed, []byte("0X")) {
		decoded, err := hexutil.Decode(string(trimmed))
		if err != nil {
			return service.Request{}, proverr.InputRejected(err, "decoding hex attestation")
		}
		return service.Request{Attestation: decoded}, nil
	}
	return service.Request{Attestation: body}, nil
}

type encodeRequest struct {
	Attestation hexutil.Bytes `json:"attestation"`
	Seal        hexutil.Bytes `json:"seal"`
	Journal     hexutil.Bytes `json:"journal"`
}

func (s *Server) encodeHandler(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(w)
	body, err := s.readBody(w, r)
	if err != nil {
		ReturnErrorJSON(w, err, requestID)
		return
	}
	var req encodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ReturnErrorJSON(w, proverr.InputRejected(err, "decoding request"), requestID)
		return
	}
	resp, err := s.svc.Encode(req.Attestation, req.Seal, req.Journal)
	if err != nil {
		ReturnErrorJSON(w, err, requestID)
		return
	}
	ReturnJSON(w, toResponse(resp, requestID), http.StatusOK)
}

// readBody reads the request body, bounded to twice the maximum attestation size plus framing so
// hex encoded attestations fit.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := int64(2*s.svc.MaxInputSize()+2) + bodySlack
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, proverr.InputRejected(nil, "request body too large")
		}
		return nil, proverr.InputRejected(err, "reading request body")
	}
	return body, nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func toResponse(resp *service.Response, requestID string) ProveResponse {
	return ProveResponse{
		Envelope:  hexutil.Bytes(resp.Envelope),
		Proof:     hexutil.Bytes(resp.Proof),
		Journal:   resp.Journal,
		ImageID:   "0x" + resp.ImageID.String(),
		Seal:      resp.Seal,
		Cached:    resp.Cached,
		ElapsedMS: resp.Elapsed.Milliseconds(),
		RequestID: requestID,
	}
}
