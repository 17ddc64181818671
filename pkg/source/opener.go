package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/resilience"
	"github.com/beamflow/beamflow/pkg/storage/s3"
)

// ObjectReader reads objects from a bucket.
type ObjectReader interface {
	ReaderFromBucket(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}

// Options configures an Opener.
type Options struct {
	HTTPClient  *http.Client
	HTTPTimeout time.Duration

	// S3 serves s3:// locations; nil disables them.
	S3 ObjectReader

	// Progress, when set, returns a writer that observes downloaded bytes.
	Progress func(total int64, description string) io.Writer

	// Retry applies to remote opens; the zero value uses
	// resilience.DefaultPolicy.
	Retry resilience.Policy

	// BreakerFailures consecutive remote failures pause remote reads for
	// BreakerCooldown. Zero values keep the breaker defaults.
	BreakerFailures int
	BreakerCooldown time.Duration

	Logger *slog.Logger
}

// Opener opens run artifacts by location.
type Opener struct {
	client   *http.Client
	s3       ObjectReader
	progress func(int64, string) io.Writer
	retry    resilience.Policy
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

// NewOpener creates an Opener.
func NewOpener(opts Options) *Opener {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.HTTPTimeout
		if timeout == 0 {
			timeout = 30 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultPolicy()
	}
	breaker := resilience.NewCircuitBreaker()
	if opts.BreakerFailures > 0 {
		breaker.WithMaxFailures(opts.BreakerFailures)
	}
	if opts.BreakerCooldown > 0 {
		breaker.WithCooldown(opts.BreakerCooldown)
	}
	breaker.OnTrip = func(failures int) {
		logger.Warn("remote reads failing, pausing", "failures", failures)
	}
	return &Opener{
		client:   client,
		s3:       opts.S3,
		progress: opts.Progress,
		retry:    retry,
		breaker:  breaker,
		logger:   logger,
	}
}

// Open returns the decoded content of location. Gzip content is
// decompressed whatever the file name says.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	raw, _, err := o.openRaw(ctx, location)
	if err != nil {
		return nil, err
	}
	return decompress(raw)
}

// Fetch copies location into dir and returns the local path. Local files
// are returned unchanged.
func (o *Opener) Fetch(ctx context.Context, location, dir string) (string, error) {
	if Classify(location) == KindLocal {
		if _, err := os.Stat(location); err != nil {
			return "", bferrors.FileNotFound(location)
		}
		return location, nil
	}

	raw, size, err := o.openRaw(ctx, location)
	if err != nil {
		return "", err
	}
	defer raw.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", bferrors.Wrap(err, bferrors.CodeWriteFailed, "create download dir").With("dir", dir)
	}
	dst := filepath.Join(dir, filepath.Base(location))
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", bferrors.Wrap(err, bferrors.CodeWriteFailed, "create download file").With("path", tmp)
	}

	var w io.Writer = f
	if o.progress != nil {
		w = io.MultiWriter(f, o.progress(size, filepath.Base(location)))
	}

	start := time.Now()
	n, err := io.Copy(w, raw)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", bferrors.Wrap(err, bferrors.CodeReadFailed, "download").With("location", location)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", bferrors.Wrap(err, bferrors.CodeWriteFailed, "rename download").With("path", dst)
	}

	o.logger.Info("downloaded", "location", location, "path", dst, "bytes", n, "elapsed", time.Since(start))
	return dst, nil
}

// openRaw opens location undecoded. Remote opens are retried while they
// fail with retryable errors.
func (o *Opener) openRaw(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	if Classify(location) == KindLocal {
		return o.openOnce(ctx, location)
	}
	var (
		rc   io.ReadCloser
		size int64
	)
	attempt := 0
	err := resilience.Retry(ctx, o.retry, o.breaker, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			o.logger.Debug("retrying open", "location", location, "attempt", attempt)
		}
		var err error
		rc, size, err = o.openOnce(ctx, location)
		return err
	})
	return rc, size, err
}

func (o *Opener) openOnce(ctx context.Context, location string) (io.ReadCloser, int64, error) {
	switch Classify(location) {
	case KindS3:
		if o.s3 == nil {
			return nil, 0, bferrors.New(bferrors.CodeUnsupportedLocation, "s3 access is not configured").
				With("location", location)
		}
		bucket, key, err := s3.ParseURI(location)
		if err != nil {
			return nil, 0, err
		}
		return o.s3.ReaderFromBucket(ctx, bucket, key)

	case KindHTTP:
		return o.openHTTP(ctx, normalize(location))

	default:
		f, err := os.Open(location)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, 0, bferrors.FileNotFound(location)
			}
			return nil, 0, bferrors.Wrap(err, bferrors.CodeReadFailed, "open").With("location", location)
		}
		var size int64 = -1
		if fi, err := f.Stat(); err == nil {
			size = fi.Size()
		}
		return f, size, nil
	}
}

func (o *Opener) openHTTP(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, bferrors.Wrap(err, bferrors.CodeUnsupportedLocation, "invalid URL").With("url", url)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, 0, bferrors.Wrap(err, bferrors.CodeReadFailed, "http request").With("url", url)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		// the outputs bucket answers 403 for missing keys
		resp.Body.Close()
		return nil, 0, bferrors.FileNotFound(url)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, 0, bferrors.New(bferrors.CodeReadFailed, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			With("url", url)
	}
	return resp.Body, resp.ContentLength, nil
}

// decompress wraps rc in a gzip reader when the stream starts with the
// gzip magic bytes.
func decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(rc, 64*1024)
	magic, err := br.Peek(2)
	if err != nil || magic[0] != 0x1f || magic[1] != 0x8b {
		return &readCloser{Reader: br, closers: []io.Closer{rc}}, nil
	}

	gz, err := gzip.NewReader(br)
	if err != nil {
		rc.Close()
		return nil, bferrors.Wrap(err, bferrors.CodeEncodingError, "open gzip stream")
	}
	return &readCloser{Reader: gz, closers: []io.Closer{gz, rc}}, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
