package snark

import (
	"bufio"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// S3Source locates artifacts to download when the data directory does not have them.
type S3Source struct {
	Bucket string
	Prefix string
	Region string
}

// LoadArtifacts reads the circuit artifacts from dir, downloading missing files from src first.
// src may be nil, in which case missing files are an error.
func LoadArtifacts(ctx context.Context, dir string, src *S3Source, logger zerolog.Logger) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}

	files := []string{CircuitFile, ProvingKeyFile, VerifyingKeyFile}
	var missing []string
	for _, name := range files {
		if !fileExists(filepath.Join(dir, name)) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		if src == nil || src.Bucket == "" {
			return nil, errors.Errorf("circuit files not found in %s: %v", dir, missing)
		}
		logger.Info().Strs("files", missing).Str("bucket", src.Bucket).Msg("downloading circuit artifacts")
		if err := downloadArtifacts(ctx, dir, src, missing, logger); err != nil {
			return nil, errors.Wrap(err, "downloading circuit artifacts")
		}
	} else {
		logger.Info().Str("dir", dir).Msg("files found, loading circuit")
	}

	return loadArtifactFiles(ctx, dir, logger)
}

// loadArtifactFiles reads the three artifacts concurrently.
func loadArtifactFiles(ctx context.Context, dir string, logger zerolog.Logger) (*Artifacts, error) {
	a := &Artifacts{
		CS: groth16.NewCS(ecc.BN254),
		PK: groth16.NewProvingKey(ecc.BN254),
		VK: groth16.NewVerifyingKey(ecc.BN254),
	}
	startTime := time.Now()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readFile(filepath.Join(dir, CircuitFile), "R1CS", logger, a.CS.ReadFrom)
	})
	g.Go(func() error {
		return readFile(filepath.Join(dir, ProvingKeyFile), "PK", logger, a.PK.UnsafeReadFrom)
	})
	g.Go(func() error {
		return readFile(filepath.Join(dir, VerifyingKeyFile), "VK", logger, a.VK.ReadFrom)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info().Dur("elapsed", time.Since(startTime)).Msg("circuit artifacts loaded")
	return a, nil
}

// LoadVerifier reads only the verifying key from dir.
func LoadVerifier(dir string) (*Verifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readFile(filepath.Join(dir, VerifyingKeyFile), "VK", zerolog.Nop(), vk.ReadFrom); err != nil {
		return nil, err
	}
	return NewVerifier(vk)
}

func readFile(p, what string, logger zerolog.Logger, read func(io.Reader) (int64, error)) error {
	f, err := os.Open(p)
	if err != nil {
		return errors.Wrapf(err, "opening %s file", what)
	}
	defer f.Close()

	start := time.Now()
	if _, err := read(bufio.NewReaderSize(f, 1<<20)); err != nil {
		return errors.Wrapf(err, "reading %s content from file", what)
	}
	logger.Debug().Str("file", filepath.Base(p)).Dur("elapsed", time.Since(start)).Msgf("%s loaded", what)
	return nil
}

func downloadArtifacts(ctx context.Context, dir string, src *S3Source, names []string, logger zerolog.Logger) error {
	var opts []func(*awsconfig.LoadOptions) error
	if src.Region != "" {
		opts = append(opts, awsconfig.WithRegion(src.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return errors.Wrap(err, "loading aws config")
	}
	downloader := manager.NewDownloader(s3.NewFromConfig(cfg))

	for _, name := range names {
		dst := filepath.Join(dir, name)
		if err := downloadFile(ctx, downloader, src, name, dst, logger); err != nil {
			return err
		}
	}
	return nil
}

func downloadFile(ctx context.Context, d *manager.Downloader, src *S3Source, name, dst string, logger zerolog.Logger) error {
	// Download to a temporary name so an interrupted transfer never looks like a loaded artifact.
	tmp := dst + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "creating %s", tmp)
	}
	defer os.Remove(tmp)

	key := path.Join(src.Prefix, name)
	w := NewProgressTrackingWriter(f, name, logger)
	n, err := d.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(src.Bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "downloading s3://%s/%s", src.Bucket, key)
	}
	logger.Info().Str("file", name).Float64("gb", bytesToGigabytes(n)).Msg("artifact downloaded")
	return errors.Wrap(os.Rename(tmp, dst), "moving downloaded artifact")
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ProgressTrackingWriter wraps an io.WriterAt and logs download progress.
type ProgressTrackingWriter struct {
	underlying io.WriterAt
	name       string
	logger     zerolog.Logger
	totalBytes atomic.Int64
}

// NewProgressTrackingWriter wraps w.
func NewProgressTrackingWriter(w io.WriterAt, name string, logger zerolog.Logger) *ProgressTrackingWriter {
	return &ProgressTrackingWriter{underlying: w, name: name, logger: logger}
}

func (ptw *ProgressTrackingWriter) WriteAt(p []byte, offset int64) (int, error) {
	n, err := ptw.underlying.WriteAt(p, offset)
	total := ptw.totalBytes.Add(int64(n))
	ptw.logger.Trace().Str("file", ptw.name).Float64("gb", bytesToGigabytes(total)).Msg("downloaded")
	return n, err
}

// Total is the number of bytes written so far.
func (ptw *ProgressTrackingWriter) Total() int64 { return ptw.totalBytes.Load() }

func bytesToGigabytes(bytes int64) float64 {
	const bytesPerGigabyte = 1024 * 1024 * 1024
	return float64(bytes) / float64(bytesPerGigabyte)
}
