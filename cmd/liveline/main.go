// Command liveline edits automation and mute timelines inside gzip-compressed
// XML project files. Subcommands:
//
//	inspect <project-file>                 import and summarize entities
//	export  <project-file> <output-file>   re-project edits into a clone
//	play    <project-file> <track-number>  stream a track's events to MIDI
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"liveline/internal/adapters/liveset"
	"liveline/internal/blob"
	"liveline/internal/core"
	"liveline/internal/midiout"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type config struct {
	StorageDriver   string
	SQLitePath      string
	PostgresDSN     string
	VendorSignature string
	LogLevel        string
	Archive         bool
	MIDIPort        string
	Tempo           float64
}

// loadConfig reads liveline.yaml from the working directory or
// ~/.config/liveline, with LIVELINE_* environment overrides. Every library
// package takes explicit parameters; config handling stays in the command.
func loadConfig() config {
	v := viper.New()
	v.SetConfigName("liveline")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/liveline")
	v.SetEnvPrefix("LIVELINE")
	v.AutomaticEnv()
	v.SetDefault("storage.driver", string(core.DriverSQLite))
	v.SetDefault("storage.sqlite_path", "liveline.db")
	v.SetDefault("vendor_signature", liveset.DefaultVendorSignature)
	v.SetDefault("log_level", "info")
	v.SetDefault("archive", false)
	v.SetDefault("tempo", 120.0)
	_ = v.ReadInConfig() // a missing config file is not an error

	return config{
		StorageDriver:   v.GetString("storage.driver"),
		SQLitePath:      v.GetString("storage.sqlite_path"),
		PostgresDSN:     v.GetString("storage.postgres_dsn"),
		VendorSignature: v.GetString("vendor_signature"),
		LogLevel:        v.GetString("log_level"),
		Archive:         v.GetBool("archive"),
		MIDIPort:        v.GetString("midi_port"),
		Tempo:           v.GetFloat64("tempo"),
	}
}

func newLogger(level string) core.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	return core.NewSlogLogger(slog.New(handler))
}

func openService(cfg config, logger core.Logger) (*core.Service, error) {
	dsn := cfg.SQLitePath
	if core.StorageDriver(cfg.StorageDriver) == core.DriverPostgres {
		dsn = cfg.PostgresDSN
	}
	store, err := core.OpenPersistentStore(core.StorageDriver(cfg.StorageDriver), dsn, core.DefaultRulesEngine())
	if err != nil {
		return nil, err
	}
	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetrics(core.NewPrometheusMetricsRecorder(prometheus.NewRegistry())),
	)
	if err := svc.Initialize(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return svc, nil
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	var err error
	switch args[0] {
	case "inspect":
		err = cmdInspect(cfg, logger, args[1:])
	case "export":
		err = cmdExport(cfg, logger, args[1:])
	case "play":
		err = cmdPlay(cfg, logger, args[1:])
	default:
		usage()
		return 2
	}
	if err != nil {
		logger.Error("command failed", "command", args[0], "error", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: liveline <inspect|export|play> [args]")
}

func importProject(ctx context.Context, cfg config, logger core.Logger, svc *core.Service, path string) (liveset.ImportStats, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return liveset.ImportStats{}, nil, err
	}
	importer := &liveset.Importer{Logger: logger, VendorSignature: cfg.VendorSignature}
	stats, err := importer.Import(ctx, svc.Store(), raw)
	if err != nil {
		return liveset.ImportStats{}, nil, err
	}
	return stats, raw, nil
}

func cmdInspect(cfg config, logger core.Logger, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: liveline inspect <project-file>")
	}
	ctx := context.Background()
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	stats, _, err := importProject(ctx, cfg, logger, svc, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("devices: %d  tracks: %d  parameters: %d  points: %d  transitions: %d\n",
		stats.Devices, stats.Tracks, stats.Parameters, stats.Points, stats.Transitions)
	for _, track := range svc.Tracks() {
		clips, err := svc.ClipsForTrack(ctx, track.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d clips\n", track.Name, len(clips))
		for _, clip := range clips {
			if clip.Open() {
				fmt.Printf("  [%.3f, ...)\n", clip.Start)
				continue
			}
			fmt.Printf("  [%.3f, %.3f)\n", clip.Start, *clip.End)
		}
	}
	return nil
}

func cmdExport(cfg config, logger core.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: liveline export <project-file> <output-file>")
	}
	ctx := context.Background()
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	_, raw, err := importProject(ctx, cfg, logger, svc, fs.Arg(0))
	if err != nil {
		return err
	}

	if cfg.Archive {
		archive, err := blob.Open(ctx)
		if err != nil {
			return err
		}
		key := blob.SnapshotKey(fs.Arg(0), time.Now())
		if _, err := archive.Put(ctx, key, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("archive original: %w", err)
		}
		logger.Info("archived original", "key", key, "driver", archive.Driver())
	}

	exporter := &liveset.Exporter{Logger: logger, VendorSignature: cfg.VendorSignature}
	out, err := exporter.Export(ctx, svc.Store(), raw)
	if err != nil {
		return err
	}
	return os.WriteFile(fs.Arg(1), out, 0o644)
}

func cmdPlay(cfg config, logger core.Logger, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	start := fs.Float64("start", 0, "window start in beats")
	end := fs.Float64("end", 64, "window end in beats")
	granularity := fs.Float64("granularity", 0.25, "sample step in beats")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: liveline play [flags] <project-file> <track-number>")
	}
	var trackNumber int
	if _, err := fmt.Sscanf(fs.Arg(1), "%d", &trackNumber); err != nil {
		return fmt.Errorf("track number %q: %w", fs.Arg(1), err)
	}

	ctx := context.Background()
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	if _, _, err := importProject(ctx, cfg, logger, svc, fs.Arg(0)); err != nil {
		return err
	}

	var trackID string
	for _, track := range svc.Tracks() {
		if track.Number == trackNumber {
			trackID = track.ID
			break
		}
	}
	if trackID == "" {
		return fmt.Errorf("no track numbered %d", trackNumber)
	}

	mutes, err := svc.MuteTransitionsToPlay(ctx, trackID, *start, *end, true)
	if err != nil {
		return err
	}
	var values []core.ValueEvent
	hostID := 0
	if param, ok := svc.MuteParameterForTrack(trackID); ok {
		hostID = param.HostID
		values, err = svc.InterpolatedValuesToPlay(ctx, param.ID, *start, *end, *granularity, true)
		if err != nil {
			return err
		}
	}

	sender := midiout.NewSender(logger)
	defer sender.Close()
	if err := sender.Open(cfg.MIDIPort); err != nil {
		return err
	}
	secondsPerBeat := 60.0 / cfg.Tempo
	return core.SchedulePlayback(ctx, sender, hostID, trackNumber, values, mutes, secondsPerBeat)
}
