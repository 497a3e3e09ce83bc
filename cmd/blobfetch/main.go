// Command blobfetch downloads a cloud blob object (or a manifest of
// several) over HTTP(S), S3, or GCS, verifying its checksum as it
// streams to disk.
package main

import (
	"context"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"blobfetch/internal/manifest"
	"blobfetch/internal/orchestrator"
	"blobfetch/internal/progress"
)

const defaultMultipartThreshold = 1 << 27 // 128 MiB

type options struct {
	Manifest           string `short:"m" long:"manifest" description:"path to a manifest JSON file of {url, filepath?, checksum?, checksum-algorithm?} entries"`
	Filepath           string `short:"o" long:"output" description:"target filepath for a single positional URL"`
	Checksum           string `long:"checksum" description:"expected checksum for a single positional URL"`
	ChecksumAlgorithm  string `long:"checksum-algorithm" description:"checksum algorithm: md5 | gs_crc32c | s3_etag | null" choice:"md5" choice:"gs_crc32c" choice:"s3_etag" choice:"null"`
	Concurrency        int    `short:"c" long:"concurrency" default:"4" description:"number of parallel range workers / concurrent downloads"`
	MultipartThreshold int64  `long:"multipart-threshold" description:"objects at or below this size (bytes) use the one-shot path; default 128 MiB"`
	ChunkSize          uint32 `long:"chunk-size" description:"internal read chunk size in bytes; default 1 MiB"`
	ContinueAfterError bool   `long:"continue-after-error" description:"keep downloading remaining manifest entries after a failure"`
	Verbose            []bool `short:"v" long:"verbose" description:"increase log verbosity; repeatable"`
	Quiet              bool   `short:"q" long:"quiet" description:"suppress progress rendering entirely"`

	Args struct {
		URL string `positional-arg-name:"url"`
	} `positional-args:"yes"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		return 2
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	switch {
	case len(opts.Verbose) >= 2:
		logger = logger.Level(zerolog.TraceLevel)
	case len(opts.Verbose) == 1:
		logger = logger.Level(zerolog.DebugLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}

	m, err := buildManifest(opts)
	if err != nil {
		logger.Error().Err(err).Msg("invalid invocation")
		return 2
	}

	cfg := orchestrator.Config{
		Concurrency:         opts.Concurrency,
		MultipartThreshold:  opts.MultipartThreshold,
		ChunkSize:           opts.ChunkSize,
		ContinueAfterError:  opts.ContinueAfterError,
		Logger:              logger,
		NewSink:             sinkFactory(opts, logger),
	}
	if cfg.MultipartThreshold == 0 {
		cfg.MultipartThreshold = defaultMultipartThreshold
	}

	ctx := context.Background()
	o, err := orchestrator.New(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return 1
	}

	results, err := o.Run(ctx, m)
	for _, r := range results {
		if r.Err != nil {
			logger.Error().Err(r.Err).Str("url", r.URL).Msg("download failed")
		}
	}
	if err != nil {
		return 1
	}
	for _, r := range results {
		if r.Err != nil {
			return 1
		}
	}
	return 0
}

// buildManifest resolves the positional-URL xor --manifest mutual
// exclusion into a single manifest.Manifest to run.
func buildManifest(opts options) (manifest.Manifest, error) {
	hasURL := opts.Args.URL != ""
	hasManifest := opts.Manifest != ""
	if hasURL == hasManifest {
		return nil, fmt.Errorf("exactly one of a positional url or --manifest is required")
	}
	if hasManifest {
		f, err := os.Open(opts.Manifest)
		if err != nil {
			return nil, fmt.Errorf("opening manifest: %w", err)
		}
		defer f.Close()
		return manifest.Decode(f)
	}

	entry := manifest.Entry{URL: opts.Args.URL, Filepath: opts.Filepath}
	hasChecksum := opts.Checksum != ""
	hasAlgorithm := opts.ChecksumAlgorithm != ""
	if hasChecksum != hasAlgorithm {
		return nil, fmt.Errorf("--checksum and --checksum-algorithm must both be set or both be absent")
	}
	if hasChecksum {
		entry.Checksum = opts.Checksum
		entry.ChecksumAlgorithm = manifest.Algorithm(opts.ChecksumAlgorithm)
	}
	m := manifest.Manifest{entry}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// sinkFactory disables progress rendering when --quiet is set;
// otherwise it picks a terminal bar when stderr is a TTY, falling back
// to structured log lines.
func sinkFactory(opts options, logger zerolog.Logger) func(name string, size int64) progress.Sink {
	if opts.Quiet {
		return func(string, int64) progress.Sink { return progress.Noop() }
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return func(name string, size int64) progress.Sink { return progress.NewBar(name, size) }
	}
	return func(name string, size int64) progress.Sink { return progress.NewLog(logger, name, size) }
}
