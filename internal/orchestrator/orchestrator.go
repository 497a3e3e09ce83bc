// Package orchestrator implements the per-manifest-entry dispatch loop:
// resolve target filepath, probe accessibility, build a checksum
// verifier, and run either the one-shot (raw reader) or multipart
// (keep-alive reader) download path, writing through indirect-open and
// reporting through a progress sink. Jobs are scheduled by a priority
// heap keyed on -size, so small files finish first.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"blobfetch/internal/checksum"
	"blobfetch/internal/concurrent"
	"blobfetch/internal/httpclient"
	"blobfetch/internal/indirect"
	"blobfetch/internal/manifest"
	"blobfetch/internal/progress"
	"blobfetch/internal/reader"
	"blobfetch/internal/source"
	"blobfetch/internal/xerr"
)

// defaultChunkSize is the keep-alive reader's internal read size for
// the multipart path.
const defaultChunkSize = 1 << 20 // 1 MiB

// Config tunes orchestrator behavior.
type Config struct {
	Concurrency         int
	MultipartThreshold  int64
	ChunkSize           uint32
	ContinueAfterError  bool
	Headers             map[string]string
	Logger              zerolog.Logger
	NewSink             func(name string, size int64) progress.Sink
}

func (c Config) withDefaults() Config {
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.NewSink == nil {
		c.NewSink = func(string, int64) progress.Sink { return progress.Noop() }
	}
	return c
}

// Orchestrator dispatches manifest entries to downloads.
type Orchestrator struct {
	cfg      Config
	client   *httpclient.Client
	resolver *source.Resolver
}

// New builds an Orchestrator.
func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	client, err := httpclient.New(nil, httpclient.Config{Headers: cfg.Headers, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building http client: %w", err)
	}
	resolver, err := source.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building source resolver: %w", err)
	}
	return &Orchestrator{cfg: cfg, client: client, resolver: resolver}, nil
}

// Result is the outcome of a single manifest entry.
type Result struct {
	URL      string
	Filepath string
	Err      error
}

// Run dispatches every manifest entry and blocks until all have
// completed (or, when ContinueAfterError is off, until the first
// failure). It returns the results gathered so far and a non-nil error
// only when execution stopped early.
func (o *Orchestrator) Run(ctx context.Context, m manifest.Manifest) ([]Result, error) {
	heap := concurrent.NewHeap(ctx, o.cfg.Concurrency)
	defer heap.Abort()

	var results []Result
	var dispatched int

	for _, entry := range m {
		entry := entry

		resolvedURL, err := o.resolver.Resolve(ctx, entry.URL)
		if err != nil {
			results = append(results, Result{URL: entry.URL, Err: err})
			if !o.cfg.ContinueAfterError {
				return results, err
			}
			continue
		}

		accessible, body, err := o.client.Accessible(ctx, resolvedURL)
		if err != nil {
			results = append(results, Result{URL: entry.URL, Err: err})
			if !o.cfg.ContinueAfterError {
				return results, err
			}
			continue
		}
		if !accessible {
			ierr := xerr.New(xerr.KindInaccessibleURL, entry.URL, fmt.Errorf("%s", body))
			results = append(results, Result{URL: entry.URL, Err: ierr})
			if !o.cfg.ContinueAfterError {
				return results, ierr
			}
			continue
		}

		target, err := o.resolveTarget(ctx, resolvedURL, entry.Filepath)
		if err != nil {
			results = append(results, Result{URL: entry.URL, Err: err})
			if !o.cfg.ContinueAfterError {
				return results, err
			}
			continue
		}

		size, err := o.client.Size(ctx, resolvedURL)
		if err != nil {
			results = append(results, Result{URL: entry.URL, Filepath: target, Err: err})
			if !o.cfg.ContinueAfterError {
				return results, err
			}
			continue
		}

		verifier, err := o.buildVerifier(ctx, entry, resolvedURL, size)
		if err != nil {
			results = append(results, Result{URL: entry.URL, Filepath: target, Err: err})
			if !o.cfg.ContinueAfterError {
				return results, err
			}
			continue
		}

		entryURL := entry.URL
		priority := int(-size)
		heap.PriorityPut(priority, func(taskCtx context.Context) (interface{}, error) {
			err := o.downloadOne(taskCtx, resolvedURL, target, size, verifier)
			return Result{URL: entryURL, Filepath: target, Err: err}, err
		})
		dispatched++
	}

	for i := 0; i < dispatched; i++ {
		res, err := heap.Get()
		if res != nil {
			r := res.(Result)
			results = append(results, r)
		}
		if err != nil && !o.cfg.ContinueAfterError {
			return results, err
		}
	}
	return results, nil
}

// buildVerifier follows §4.3's precedence: manifest-specified checksum
// first, then header-derived, else a warned-about null verifier.
func (o *Orchestrator) buildVerifier(ctx context.Context, entry manifest.Entry, resolvedURL string, size int64) (checksum.Verifier, error) {
	if entry.Checksum != "" {
		v, err := checksum.FromManifest(checksum.Algorithm(entry.ChecksumAlgorithm), entry.Checksum, size)
		if err != nil {
			return nil, wrapAmbiguousLayout(resolvedURL, err)
		}
		return v, nil
	}
	headers, err := o.client.Checksums(ctx, resolvedURL)
	if err != nil {
		return nil, err
	}
	v, _, ok, err := checksum.FromHeaders(ctx, headers, size)
	if err != nil {
		return nil, wrapAmbiguousLayout(resolvedURL, err)
	}
	if !ok {
		o.cfg.Logger.Warn().Str("url", entry.URL).Msg("no checksum available, downloading without verification")
		return checksum.NewNull(), nil
	}
	return v, nil
}

// wrapAmbiguousLayout promotes checksum.ErrAmbiguousLayout to its
// dedicated error kind (SPEC_FULL §7/§9: "treat this as a first-class
// error with a dedicated kind; do not guess"); other errors pass
// through unchanged.
func wrapAmbiguousLayout(resolvedURL string, err error) error {
	if errors.Is(err, checksum.ErrAmbiguousLayout) {
		return xerr.New(xerr.KindAmbiguousS3Layout, resolvedURL, err)
	}
	return err
}

func (o *Orchestrator) downloadOne(ctx context.Context, resolvedURL, target string, size int64, verifier checksum.Verifier) (err error) {
	f, err := indirect.Open(target)
	if err != nil {
		return err
	}
	defer func() {
		err = f.Close(err)
	}()

	sink := o.cfg.NewSink(filepath.Base(target), size)
	defer sink.Close()

	if size <= o.cfg.MultipartThreshold {
		err = o.downloadOneShot(ctx, resolvedURL, f, verifier, sink)
	} else {
		err = o.downloadMultipart(ctx, resolvedURL, f, verifier, sink)
	}
	if err != nil {
		return err
	}
	if !verifier.Matches() {
		return xerr.New(xerr.KindChecksumMismatch, resolvedURL, fmt.Errorf("downloaded bytes do not match expected checksum"))
	}
	return nil
}

func (o *Orchestrator) downloadOneShot(ctx context.Context, resolvedURL string, f *indirect.File, verifier checksum.Verifier, sink progress.Sink) error {
	r, err := reader.NewRaw(ctx, o.client, resolvedURL)
	if err != nil {
		return err
	}
	defer r.Close()

	buf := make([]byte, 1<<20)
	for {
		n, rerr := r.ReadInto(ctx, buf)
		if n > 0 {
			verifier.Update(buf[:n])
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			sink.Add(int64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return rerr
		}
		if n == 0 {
			break
		}
	}
	return nil
}

func (o *Orchestrator) downloadMultipart(ctx context.Context, resolvedURL string, f *indirect.File, verifier checksum.Verifier, sink progress.Sink) error {
	bufSize := reader.ComputeBufferSize(o.cfg.Concurrency, o.cfg.ChunkSize)
	kr, err := reader.NewKeepAlive(ctx, o.client, resolvedURL, o.cfg.ChunkSize, bufSize)
	if err != nil {
		return err
	}
	defer kr.Close()

	var writeErr error
	err = kr.Iter(ctx, func(v *reader.View) bool {
		verifier.Update(v.Bytes())
		if _, werr := f.Write(v.Bytes()); werr != nil {
			writeErr = werr
			return false
		}
		sink.Add(int64(len(v.Bytes())))
		return true
	})
	if writeErr != nil {
		return writeErr
	}
	return err
}

// resolveTarget implements §4.7 step 1's later-revision semantics: an
// unset filepath derives a name under the CWD; an existing directory
// or a path ending in the OS separator is joined under that directory;
// anything else is treated as an absolute target path.
func (o *Orchestrator) resolveTarget(ctx context.Context, resolvedURL, filepathHint string) (string, error) {
	if filepathHint == "" {
		name, err := o.client.Name(ctx, resolvedURL)
		if err != nil {
			return "", err
		}
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, name), nil
	}

	info, statErr := os.Stat(filepathHint)
	isDir := statErr == nil && info.IsDir()
	endsWithSep := strings.HasSuffix(filepathHint, string(os.PathSeparator))
	if isDir || endsWithSep {
		name, err := o.client.Name(ctx, resolvedURL)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepathHint, 0o755); err != nil {
			return "", fmt.Errorf("orchestrator: creating target directory %q: %w", filepathHint, err)
		}
		return filepath.Join(filepathHint, name), nil
	}

	abs, err := filepath.Abs(filepathHint)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("orchestrator: creating parent directories for %q: %w", abs, err)
	}
	return abs, nil
}
