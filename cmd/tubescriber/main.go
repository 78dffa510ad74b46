package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/laytan/tubescriber/internal/config"
	"github.com/laytan/tubescriber/internal/export"
	"github.com/laytan/tubescriber/internal/failures"
	"github.com/laytan/tubescriber/internal/index"
	"github.com/laytan/tubescriber/internal/logging"
	"github.com/laytan/tubescriber/internal/quota"
	"github.com/laytan/tubescriber/internal/retry"
	"github.com/laytan/tubescriber/internal/search"
	"github.com/laytan/tubescriber/internal/server"
	"github.com/laytan/tubescriber/internal/store"
	"github.com/laytan/tubescriber/internal/tube"
)

var (
	flags      = flag.NewFlagSet("tubescriber", flag.ExitOnError)
	configPath = flags.String("config", "", "optional YAML config file")
)

func usage() {
	fmt.Fprintf(flags.Output(), `usage:
  tubescriber [-config file] [harvest] @handle[,@handle...]
  tubescriber [-config file] search @handle words...
  tubescriber [-config file] failures
  tubescriber [-config file] resume
  tubescriber [-config file] serve

flags:
`)
	flags.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	flags.Usage = usage
	flags.Parse(os.Args[1:])
	args := flags.Args()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tubescriber: %v\n", err)
		return 2
	}

	log, logFile, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tubescriber: setting up logging: %v\n", err)
		return 2
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := "harvest"
	if len(args) > 0 {
		switch args[0] {
		case "harvest", "search", "failures", "resume", "serve":
			command, args = args[0], args[1:]
		}
	}

	switch command {
	case "search":
		return runSearch(ctx, cfg, log, args)
	case "failures":
		return runFailures(ctx, cfg, log)
	case "resume":
		return runResume(ctx, cfg, log)
	case "serve":
		return runServe(ctx, cfg, log)
	default:
		return runHarvest(ctx, cfg, log, args)
	}
}

func runHarvest(ctx context.Context, cfg *config.Config, log *logrus.Logger, args []string) int {
	stdin := bufio.NewReader(os.Stdin)

	handles := index.ParseHandles(args)
	if len(handles) == 0 {
		handles = index.ParseHandles([]string{prompt(stdin, "Channel handles (comma separated): ")})
	}
	if len(handles) == 0 {
		log.Error("no channel handles given")
		return 2
	}

	return harvest(ctx, cfg, log, stdin, handles)
}

// runResume harvests the channels with outstanding failures again.
func runResume(ctx context.Context, cfg *config.Config, log *logrus.Logger) int {
	s, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("opening store")
		return 1
	}
	handles, err := failures.Handles(ctx, s, log)
	s.Close()
	if err != nil {
		log.WithError(err).Error("collecting failed channels")
		return 1
	}

	if len(handles) == 0 {
		fmt.Println("nothing to resume")
		return 0
	}
	log.WithField("handles", strings.Join(handles, ",")).Info("resuming")

	return harvest(ctx, cfg, log, bufio.NewReader(os.Stdin), handles)
}

func harvest(ctx context.Context, cfg *config.Config, log *logrus.Logger, stdin *bufio.Reader, handles []string) int {
	if err := cfg.RequireAPIKey(); err != nil {
		key := prompt(stdin, "YouTube Data API key: ")
		if key == "" {
			log.WithError(err).Error("can't harvest without an API key")
			return 2
		}
		cfg.APIKey = key

		if err := config.SaveAPIKey(config.EnvFile, key); err != nil {
			log.WithError(err).Warn("saving API key")
		} else {
			log.WithField("file", config.EnvFile).Info("saved API key")
		}
	}

	s, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("opening store")
		return 1
	}
	defer s.Close()

	tracker, closeLedger, err := newTracker(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("setting up quota")
		return 1
	}
	defer closeLedger()

	log.WithFields(logrus.Fields{
		"remaining": tracker.Remaining(),
		"resets":    tracker.ResetAt().Format(time.RFC3339),
	}).Info("quota")

	yt := tube.New(cfg.APIKey, cfg.API.Timeout, cfg.API.RequestsPerSecond, cfg.API.Burst)
	yt.Languages = cfg.Transcripts.Languages

	var captions index.Captioner = yt
	if cfg.Transcripts.Source == config.SourceInnertube {
		captions = tube.NewInnertube(yt.HTTP, yt.Limiter, cfg.Transcripts.Languages)
	}

	pipeline := index.New(index.Options{
		API:      yt,
		Captions: captions,
		Store:    s,
		Exporter: &export.Exporter{Dir: cfg.OutputDir, Src: s, Log: log},
		Budget:   tracker,
		Retry: retry.Policy{
			Attempts:     cfg.Retry.Attempts,
			InitialDelay: cfg.Retry.InitialBackoff,
			MaxDelay:     cfg.Retry.MaxBackoff,
			Multiplier:   retry.Default.Multiplier,
			Log:          log,
		},
		PageSize:           cfg.API.PageSize,
		RefetchTranscripts: cfg.Transcripts.Refetch,
		Log:                log,
	})

	rep := pipeline.Run(ctx, handles)
	if err := rep.WriteSummary(os.Stdout); err != nil {
		log.WithError(err).Error("writing summary")
	}

	log.WithFields(logrus.Fields{
		"run":      rep.RunID,
		"took":     rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond),
		"skipped":  rep.Skipped(),
		"exported": filepath.Join(cfg.OutputDir, export.TablesDir),
	}).Info("finished")

	if !rep.OK() {
		return 1
	}
	return 0
}

func runSearch(ctx context.Context, cfg *config.Config, log *logrus.Logger, args []string) int {
	if len(args) < 2 {
		usage()
		return 2
	}

	handle, err := index.NormalizeHandle(args[0])
	if err != nil {
		log.WithError(err).Error("searching")
		return 2
	}
	query := strings.Join(args[1:], " ")

	s, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("opening store")
		return 1
	}
	defer s.Close()

	ch, err := s.ChannelByHandle(ctx, handle)
	if err != nil {
		log.WithError(err).Error("channel not harvested yet")
		return 1
	}

	results, err := search.Channel(ctx, s, log, ch.ID, query)
	if err != nil {
		log.WithError(err).Error("searching")
		return 1
	}

	if err := writeResults(os.Stdout, results); err != nil {
		log.WithError(err).Error("writing results")
		return 1
	}
	return 0
}

func writeResults(w io.Writer, results []search.Result) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "no matches")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t\n", r.PublishedAt.Format(time.DateOnly), r.Title)
		for _, offset := range r.Offsets {
			fmt.Fprintf(tw, "\t%s\thttps://youtu.be/%s?t=%d\n",
				offset.Truncate(time.Second), r.VideoID, int(offset.Seconds()))
		}
	}
	return tw.Flush()
}

func runFailures(ctx context.Context, cfg *config.Config, log *logrus.Logger) int {
	s, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("opening store")
		return 1
	}
	defer s.Close()

	outstanding, err := s.Failures(ctx)
	if err != nil {
		log.WithError(err).Error("listing failures")
		return 1
	}

	if len(outstanding) == 0 {
		fmt.Println("no outstanding failures")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tKIND\tSUBJECT\tCHANNEL\tREASON")
	for _, f := range outstanding {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f.RecordedAt.Format(time.DateTime), f.Kind, f.Subject, f.ChannelID, f.Reason)
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("writing failures")
		return 1
	}
	return 0
}

func runServe(ctx context.Context, cfg *config.Config, log *logrus.Logger) int {
	s, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("opening store")
		return 1
	}
	defer s.Close()

	log.WithField("addr", cfg.Server.Addr).Info("serving")
	if err := server.Serve(ctx, server.New(s, log), cfg.Server.Addr); err != nil {
		log.WithError(err).Error("serving")
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*store.Store, error) {
	return store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, log)
}

// newTracker sets up the quota, shared through redis when configured.
func newTracker(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*quota.Tracker, func(), error) {
	qc := quota.Config{
		DailyLimit: cfg.Quota.DailyLimit,
		Location:   cfg.Location(),
		Log:        log,
	}

	closeLedger := func() {}
	if cfg.Quota.RedisURL != "" {
		ledger, err := quota.NewRedisLedger(ctx, cfg.Quota.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		qc.Ledger = ledger
		closeLedger = func() {
			if err := ledger.Close(); err != nil {
				log.WithError(err).Warn("closing quota ledger")
			}
		}
	}

	tracker, err := quota.New(ctx, qc)
	if err != nil {
		closeLedger()
		return nil, nil, err
	}
	return tracker, closeLedger, nil
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Fprint(os.Stderr, label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
