// Command markless detects and removes watermarks from images. It fuses
// position, color and texture heuristics into one confident region, then
// inpaints it, preferring a neural backend with an OpenCV fallback.
//
// Subcommands:
//
//	markless detect -src in.jpg [-visual overlay.png]
//	markless remove -src in.jpg -dst out.jpg [-preset bottom-right-1]
//	markless batch  -in ./photos -out ./cleaned
//	markless serve  [-addr :8080]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/striplab/markless/internal/batch"
	"github.com/striplab/markless/internal/config"
	"github.com/striplab/markless/internal/pipeline"
	"github.com/striplab/markless/internal/removal"
	"github.com/striplab/markless/internal/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "detect":
		err = runDetect(os.Args[2:])
	case "remove":
		err = runRemove(os.Args[2:])
	case "batch":
		err = runBatch(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Msg(os.Args[1])
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: markless <detect|remove|batch|serve> [flags]")
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(fs *flag.FlagSet) (configPath *string, debug *bool) {
	configPath = fs.String("config", "markless.yaml", "config file path")
	debug = fs.Bool("debug", false, "debug logging level")
	return configPath, debug
}

// setup loads config and bootstraps logging: global level from config
// and flag, console writer for human mode.
func setup(configPath string, debug bool) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug || debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.Human {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return cfg, nil
}

func runDetect(args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	src := fs.String("src", "", "input image path")
	visual := fs.String("visual", "", "optional overlay output path (png)")
	fs.Parse(args)

	if *src == "" {
		return fmt.Errorf("-src is required")
	}
	cfg, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}

	pipe := pipeline.New(cfg, log.Logger)
	result, err := pipe.DetectOnly(*src, *visual)
	if err != nil {
		return err
	}
	result.AllResults = nil

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	src := fs.String("src", "", "input image path")
	dst := fs.String("dst", "", "output image path")
	preset := fs.String("preset", "", "skip detection and remove a named position preset")
	minConfidence := fs.Float64("min-confidence", 0.5, "reject detections below this confidence")
	fs.Parse(args)

	if *src == "" || *dst == "" {
		return fmt.Errorf("-src and -dst are required")
	}
	cfg, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}

	pipe := pipeline.New(cfg, log.Logger)
	var res removal.Result
	if *preset != "" {
		res = pipe.RemovePreset(*src, *dst, *preset)
	} else {
		res = pipe.Remove(*src, *dst, *minConfidence)
	}
	if !res.Success {
		return fmt.Errorf("%s", res.Error)
	}

	log.Info().
		Str("dst", res.OutputPath).
		Str("algorithm", res.Algorithm).
		Float64("confidence", res.Confidence).
		Float64("seconds", res.ProcessingTime).
		Msg("done")
	return nil
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	in := fs.String("in", "", "input folder")
	out := fs.String("out", "", "output folder")
	fs.Parse(args)

	if *in == "" || *out == "" {
		return fmt.Errorf("-in and -out are required")
	}
	cfg, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}

	pipe := pipeline.New(cfg, log.Logger)
	snap, err := pipe.BatchRemoveSync(*in, *out, func(s batch.Snapshot) {
		log.Info().
			Int("processed", s.Processed).
			Int("total", s.TotalFiles).
			Int("successful", s.Successful).
			Int("skipped", s.Skipped).
			Int("failed", s.Failed).
			Msg("progress")
	})
	if err != nil {
		return err
	}
	if snap.Status == batch.StatusFailed {
		return fmt.Errorf("batch failed: %v", snap.Errors)
	}

	log.Info().
		Int("total", snap.TotalFiles).
		Int("successful", snap.Successful).
		Int("skipped", snap.Skipped).
		Int("failed", snap.Failed).
		Float64("average_confidence", snap.AverageConfidence).
		Msg("batch done")
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	addr := fs.String("addr", "", "listen address override")
	fs.Parse(args)

	cfg, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	pipe := pipeline.New(cfg, log.Logger)
	return server.New(pipe, cfg.Server, log.Logger).Run()
}
