package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/bamsammich/partsync/internal/config"
	"github.com/bamsammich/partsync/internal/digest"
	"github.com/bamsammich/partsync/internal/engine"
	"github.com/bamsammich/partsync/internal/event"
	"github.com/bamsammich/partsync/internal/filter"
	"github.com/bamsammich/partsync/internal/ledger"
	"github.com/bamsammich/partsync/internal/stats"
	"github.com/bamsammich/partsync/internal/task"
	"github.com/bamsammich/partsync/internal/transport"
	"github.com/bamsammich/partsync/internal/ui"
)

const (
	defaultExcludeFile = "partsync.exclude"
	maxBackoff         = 2 * time.Minute
)

// globals holds the persistent flags shared by every subcommand, resolved
// against the config file in setup.
type globals struct {
	verbose    bool
	quiet      bool
	noProgress bool
	logFile    string

	workers     int
	retries     int
	backoff     time.Duration
	bwLimit     string
	cacheDir    string
	excludeFile string
	remote      string
	remove      bool
	noJournal   bool
	digestAlg   string

	sshKey      string
	sshPort     int
	sshInsecure bool
	s3Endpoint  string
	s3Region    string
	s3PathStyle bool
	rcloneBin   string

	cfg     config.Config
	sampler *digest.Sampler
	limiter *rate.Limiter
	logOut  *os.File
}

func (g *globals) register(flags *pflag.FlagSet) {
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&g.quiet, "quiet", "q", false, "suppress all output except errors")
	flags.BoolVar(&g.noProgress, "no-progress", false, "disable the periodic progress line")
	flags.StringVar(&g.logFile, "log", "", "write structured JSON log to FILE")

	flags.IntVarP(&g.workers, "workers", "n", engine.DefaultWorkers, "number of transfer workers")
	flags.IntVar(&g.retries, "retries", engine.DefaultAttempts, "attempts per task before giving up")
	flags.DurationVar(&g.backoff, "backoff", 0, "delay before the first retry, doubling per attempt (0 retries immediately)")
	flags.StringVar(&g.bwLimit, "bwlimit", "", "bandwidth limit (e.g. 100M, 1G)")
	flags.StringVar(&g.cacheDir, "cache-dir", "", "local directory for parts (default: user cache dir)")
	flags.StringVar(&g.excludeFile, "exclude-file", defaultExcludeFile, "file listing completed names, one per line")
	flags.StringVarP(&g.remote, "remote", "r", "", "remote part storage (s3://, gs://, sftp://, file://, remote:path)")
	flags.BoolVar(&g.remove, "remove", false, "delete parts locally and remotely once applied")
	flags.BoolVar(&g.noJournal, "no-journal", false, "do not record outcomes in the run journal")
	flags.StringVar(&g.digestAlg, "digest", "", "digest algorithm: blake3, xxhash or md5 (default blake3)")

	flags.StringVar(&g.sshKey, "ssh-key", "", "SSH private key file (default: auto-detect)")
	flags.IntVar(&g.sshPort, "ssh-port", 22, "SSH port")
	flags.BoolVar(&g.sshInsecure, "ssh-insecure", false, "skip SSH host key verification")
	flags.StringVar(&g.s3Endpoint, "s3-endpoint", "", "custom S3 endpoint (MinIO, R2)")
	flags.StringVar(&g.s3Region, "s3-region", "", "S3 region")
	flags.BoolVar(&g.s3PathStyle, "s3-path-style", false, "use path-style S3 addressing")
	flags.StringVar(&g.rcloneBin, "rclone", "rclone", "rclone executable for remote:path locations")
}

// setup loads the config file, applies it under the flags that were not
// set explicitly and configures logging.
func (g *globals) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	g.cfg = cfg
	if err := g.applyConfigDefaults(cmd); err != nil {
		return err
	}

	if cmd.Flags().Changed("digest") {
		g.cfg.Digest.Algorithm = &g.digestAlg
	}
	if g.sampler, err = g.cfg.Digest.Sampler(); err != nil {
		return fmt.Errorf("invalid --digest: %w", err)
	}

	if g.bwLimit != "" {
		bps, err := filter.ParseSize(g.bwLimit)
		if err != nil {
			return fmt.Errorf("invalid --bwlimit: %w", err)
		}
		g.limiter = engine.NewBWLimiter(bps)
	}

	if g.cacheDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("resolve cache dir: %w", err)
		}
		g.cacheDir = filepath.Join(dir, "partsync", "parts")
	}

	return g.setupLogging()
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func (g *globals) applyConfigDefaults(cmd *cobra.Command) error {
	d := g.cfg.Defaults
	changed := cmd.Flags().Changed

	if !changed("workers") && d.Workers != nil {
		g.workers = *d.Workers
	}
	if !changed("retries") && d.Retries != nil {
		g.retries = *d.Retries
	}
	if !changed("backoff") && d.Backoff != nil {
		b, err := time.ParseDuration(*d.Backoff)
		if err != nil {
			return fmt.Errorf("invalid defaults.backoff: %w", err)
		}
		g.backoff = b
	}
	if !changed("bwlimit") && d.BWLimit != nil {
		g.bwLimit = *d.BWLimit
	}
	if !changed("cache-dir") && d.CacheDir != nil {
		g.cacheDir = *d.CacheDir
	}
	if !changed("exclude-file") && d.ExcludeFile != nil {
		g.excludeFile = *d.ExcludeFile
	}
	if !changed("remote") && d.Remote != nil {
		g.remote = *d.Remote
	}
	if !changed("remove") && d.Remove != nil {
		g.remove = *d.Remove
	}
	if !changed("no-journal") && d.Journal != nil {
		g.noJournal = !*d.Journal
	}
	return nil
}

func (g *globals) setupLogging() error {
	logLevel := slog.LevelWarn
	if g.verbose {
		logLevel = slog.LevelDebug
	} else if !g.quiet {
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	var logHandler slog.Handler = textHandler
	if g.logFile != "" {
		lf, err := os.Create(g.logFile)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		g.logOut = lf
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	slog.SetDefault(slog.New(logHandler))
	return nil
}

func (g *globals) teardown() {
	if g.logOut != nil {
		g.logOut.Close()
		g.logOut = nil
	}
}

func (g *globals) transportOptions() transport.Options {
	return transport.Options{
		Endpoint:  g.s3Endpoint,
		Region:    g.s3Region,
		PathStyle: g.s3PathStyle,
		SSH: transport.SSHOpts{
			Port:     g.sshPort,
			KeyFile:  g.sshKey,
			Insecure: g.sshInsecure,
		},
		RcloneBin: g.rcloneBin,
	}
}

// openRemote connects to --remote. With required unset a missing --remote
// yields a nil Mover.
//
//nolint:ireturn // backend chosen at runtime
func (g *globals) openRemote(ctx context.Context, required bool) (transport.Mover, error) {
	if g.remote == "" {
		if required {
			return nil, errors.New("--remote is required")
		}
		return nil, nil
	}
	m, err := transport.Open(ctx, g.remote, g.transportOptions())
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", g.remote, err)
	}
	return m, nil
}

// openLedger loads the exclude file and, when m is set, merges in the
// names the remote has completion markers for.
func (g *globals) openLedger(ctx context.Context, m transport.Mover) (*ledger.Ledger, error) {
	l, err := ledger.Open(g.excludeFile)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return l, nil
	}
	parts, err := ledger.RemoteCompleted(ctx, m, "")
	if err != nil {
		return nil, fmt.Errorf("list completion markers: %w", err)
	}
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		base, _, _, err := task.ParsePartName(p)
		if err != nil {
			slog.Debug("ignoring marker", "key", p, "error", err)
			continue
		}
		names = append(names, base)
	}
	l.Merge(names...)
	slog.Debug("ledger loaded", "path", l.Path(), "names", l.Len(), "remote", len(names))
	return l, nil
}

func (g *globals) openJournal() (*engine.Journal, error) {
	if g.noJournal {
		return nil, nil
	}
	path := engine.JournalPath(absPath(g.excludeFile), g.remote)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return engine.OpenJournal(path)
}

func (g *globals) pool() engine.Pool {
	return engine.Pool{
		Workers:    g.workers,
		Attempts:   g.retries,
		Backoff:    g.backoff,
		MaxBackoff: maxBackoff,
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// session wires the event channel, stats collector and presenter around
// one engine run.
type session struct {
	events    chan event.Event
	collector *stats.Collector
	presenter ui.Presenter
	journal   *engine.Journal
	quiet     bool

	wg           sync.WaitGroup
	presenterErr error
}

func (g *globals) startSession(journal *engine.Journal) *session {
	s := &session{
		events:    make(chan event.Event, 256),
		collector: stats.NewCollector(),
		journal:   journal,
		quiet:     g.quiet,
	}
	s.presenter = ui.NewPresenter(ui.Config{
		Writer:     os.Stdout,
		ErrWriter:  os.Stderr,
		Stats:      s.collector,
		Quiet:      g.quiet,
		NoProgress: g.noProgress || !ui.IsTTY(os.Stderr.Fd()),
		BarWidth:   ui.BarWidth(os.Stderr.Fd()),
	})

	// When --log is set, tee events through a logging goroutine
	// that writes structured records before forwarding to the presenter.
	presenterEvents := (<-chan event.Event)(s.events)
	if g.logFile != "" {
		teed := make(chan event.Event, 256)
		go func() {
			for ev := range s.events {
				attrs := []slog.Attr{
					slog.String("type", ev.Type.String()),
					slog.String("direction", ev.Direction),
					slog.String("name", ev.Name),
					slog.Int64("size", ev.Size),
					slog.Int("worker", ev.WorkerID),
				}
				if ev.Attempt > 0 {
					attrs = append(attrs, slog.Int("attempt", ev.Attempt))
				}
				if ev.Error != nil {
					attrs = append(attrs, slog.String("error", ev.Error.Error()))
				}
				slog.LogAttrs(context.Background(), slog.LevelDebug, "partsync.event", attrs...)
				teed <- ev
			}
			close(teed)
		}()
		presenterEvents = teed
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.presenterErr = s.presenter.Run(presenterEvents)
	}()
	return s
}

func (s *session) observer() engine.Observer {
	return engine.Observer{Events: s.events, Stats: s.collector, Journal: s.journal}
}

// finish stops the presenter, prints the summary and maps the report to
// an exit code.
func (s *session) finish(report engine.Report) error {
	close(s.events)
	s.wg.Wait()
	if s.presenterErr != nil {
		fmt.Fprintf(os.Stderr, "presenter: %v\n", s.presenterErr)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			slog.Warn("close journal", "error", err)
		}
	}

	if !s.quiet {
		if summary := s.presenter.Summary(); summary != "" {
			fmt.Fprintln(os.Stderr, summary)
		}
	}

	if failed := report.Failed(); len(failed) > 0 {
		slog.Debug("run finished with failures", "failed", len(failed), "error", report.Err())
		return &exitError{code: 1}
	}
	return nil
}
