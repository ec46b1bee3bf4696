// Package main runs a depth fusion session: frames from a depth source are fused into a volume
// while keyboard commands toggle modes and export clouds, meshes and volumes.
package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/fusion/config"
	"go.viam.com/fusion/engine/builtin"
	"go.viam.com/fusion/export"
	"go.viam.com/fusion/input/keyboard"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/pipeline"
	"go.viam.com/fusion/sink"
	"go.viam.com/fusion/sink/filesink"
	"go.viam.com/fusion/sink/texture"
	"go.viam.com/fusion/source"
	"go.viam.com/fusion/source/fake"
	"go.viam.com/fusion/source/replay"
)

var logger = logging.NewLogger("fusion")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command. Set flags override the config file.
type Arguments struct {
	ConfigFile      string `flag:"config,usage=JSON config file, a fake sensor is used without one"`
	Replay          string `flag:"replay,usage=replay the depth recording in this directory"`
	OutputDir       string `flag:"output,usage=directory receiving exports, views and textures"`
	Registration    bool   `flag:"registration,usage=register color to depth"`
	IntegrateColors bool   `flag:"integrate-colors,usage=fuse colors into the volume (implies registration)"`
	CurrentCloud    bool   `flag:"current-cloud,usage=show the cloud of the current frame"`
	ExtractTextures bool   `flag:"extract-textures,usage=save color frames with their pose"`
	SaveViews       bool   `flag:"save-views,usage=save every scene view as a PNG sequence"`
	LogFile         string `flag:"log-file,usage=also write logs to this file"`
	Debug           bool   `flag:"debug"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg := config.Default()
	if argsParsed.ConfigFile != "" {
		var err error
		if cfg, err = config.Read(argsParsed.ConfigFile, logger); err != nil {
			return err
		}
	}
	applyArguments(cfg, argsParsed)
	if _, err := cfg.Validate("config"); err != nil {
		return err
	}
	logger.SetLevel(cfg.Level())
	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	if appender := cfg.LogFileAppender(); appender != nil {
		logger.AddAppender(appender)
		defer goutils.UncheckedErrorFunc(appender.Close)
	}

	return runFusion(ctx, cfg, os.Stdin, logging.Stdout(), logger)
}

func applyArguments(cfg *config.Config, args Arguments) {
	if args.Replay != "" {
		cfg.Source.Type = config.SourceReplay
		cfg.Source.Replay.Directory = args.Replay
	}
	if args.OutputDir != "" {
		cfg.OutputDir = args.OutputDir
	}
	if args.LogFile != "" {
		cfg.LogFile = args.LogFile
	}
	cfg.IntegrateColors = cfg.IntegrateColors || args.IntegrateColors
	cfg.Registration = cfg.Registration || args.Registration || cfg.IntegrateColors
	cfg.CurrentCloud = cfg.CurrentCloud || args.CurrentCloud
	cfg.ExtractTextures = cfg.ExtractTextures || args.ExtractTextures
	cfg.SaveViews = cfg.SaveViews || args.SaveViews
}

// newSource returns the configured source and, for a recording, a channel closed once it has
// been played out.
func newSource(cfg *config.Config, logger logging.Logger) (source.Source, <-chan struct{}, error) {
	switch cfg.Source.Type {
	case config.SourceReplay:
		src, err := replay.New(cfg.Source.Replay, nil, logger.Sublogger("replay"))
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("replaying %d frames from %s", src.Len(), cfg.Source.Replay.Directory)
		return src, src.Exhausted(), nil
	default:
		src, err := fake.New(cfg.Source.Fake, nil, logger.Sublogger("fake"))
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	}
}

func newViews(cfg *config.Config, logger logging.Logger) pipeline.Views {
	var views pipeline.Views
	if cfg.Views.Scene {
		views.Scene = filesink.NewScene(cfg.View("scene"), cfg.SaveViews, logger)
	}
	if cfg.Views.Depth {
		views.Depth = filesink.NewDepth(cfg.View("depth"), logger)
	}
	if cfg.Views.SceneCloud {
		views.SceneCloud = filesink.NewCloud("scene_cloud", cfg.View("scene_cloud"), logger)
	}
	if cfg.CurrentCloud {
		views.CurrentCloud = filesink.NewCloud("current_cloud", cfg.View("current_cloud"), logger)
	}
	return views
}

// runFusion runs one session until it ends. Commands are read as keys from in and help is
// written to out.
func runFusion(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger logging.Logger) (err error) {
	src, exhausted, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	volume := cfg.Volume
	volume.Intrinsics = src.Intrinsics()
	eng, err := builtin.New(volume, logger.Sublogger("engine"))
	if err != nil {
		return errors.Wrap(err, "cannot create reconstruction engine")
	}
	defer func() {
		err = multierr.Combine(err, eng.Close(context.WithoutCancel(ctx)))
	}()

	var textures sink.TextureSink
	if cfg.ExtractTextures {
		store, err := texture.NewStore(filepath.Join(cfg.OutputDir, "textures"), src.Intrinsics(), nil, logger)
		if err != nil {
			return err
		}
		textures = store
	}

	views := pipeline.NewViewDispatcher(newViews(cfg, logger))
	logger.Infow("views", "modes", views.Modes().String(), "output", cfg.OutputDir)

	state := pipeline.NewState(cfg.InitialFlags().Sanitize(src.HasColor(), logger))
	coord, err := pipeline.NewCoordinator(cfg.Coordinator(), state, pipeline.Deps{
		Source:   src,
		Engine:   eng,
		Views:    views,
		Exporter: export.NewExporter(cfg.OutputDir, logger.Sublogger("export")),
		Textures: textures,
	}, logger)
	if err != nil {
		return err
	}

	proc := pipeline.NewCommandProcessor(state, src.HasColor(), out, logger)
	kb, err := keyboard.New(ctx, in, logger.Sublogger("keyboard"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, kb.Close(context.WithoutCancel(ctx)))
	}()
	if err := proc.RegisterKeys(ctx, kb); err != nil {
		return err
	}
	if err := proc.PrintHelp(); err != nil {
		return err
	}

	if exhausted != nil {
		goutils.PanicCapturingGo(func() {
			select {
			case <-exhausted:
				logger.Info("recording played out, press L for a last scan or Esc to exit")
			case <-state.Done():
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})
	g.Go(func() error {
		return proc.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	timing := coord.Timing()
	logger.Infow("session ended", "frames", state.FrameCounter(), "mean_frame_ms", timing.MeanMs, "fps", timing.FPS)
	return nil
}
