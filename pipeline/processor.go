package pipeline

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"go.viam.com/fusion/input"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/utils"
)

// ErrPreconditionNotMet is returned for a command that needs a mode which is not enabled. The
// command is ignored.
var ErrPreconditionNotMet = errors.New("command precondition not met")

const commandQueueSize = 16

// CommandProcessor turns user commands into changes of the pipeline State. Commands are queued
// with Submit and applied one at a time by Run, so every command changes the state in a single
// locked step.
type CommandProcessor struct {
	state    *State
	hasColor bool
	bindings []Binding
	out      io.Writer
	logger   logging.Logger

	commands chan Command
}

// NewCommandProcessor returns a processor for state. hasColor tells whether the source streams
// color, which registration needs. Help is printed to out.
func NewCommandProcessor(state *State, hasColor bool, out io.Writer, logger logging.Logger) *CommandProcessor {
	return &CommandProcessor{
		state:    state,
		hasColor: hasColor,
		bindings: DefaultBindings,
		out:      out,
		logger:   logger.Sublogger("commands"),
		commands: make(chan Command, commandQueueSize),
	}
}

// Submit queues cmd. It blocks while the queue is full, until ctx is done or the pipeline stops.
func (cp *CommandProcessor) Submit(ctx context.Context, cmd Command) error {
	if !cp.state.Running() {
		return errors.Errorf("pipeline stopped, dropping command %v", cmd)
	}
	select {
	case cp.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-cp.state.Done():
		return errors.Errorf("pipeline stopped, dropping command %v", cmd)
	}
}

// Run applies queued commands until ctx is done or the pipeline stops. Commands that fail are
// reported and otherwise ignored.
func (cp *CommandProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cp.state.Done():
			return nil
		case cmd := <-cp.commands:
			if err := cp.Apply(cmd); err != nil {
				cp.logger.Warnw("command ignored", "command", cmd.String(), "reason", err)
			}
		}
	}
}

// RegisterKeys binds every key of the processor to controller. A command is issued when its key
// is released.
func (cp *CommandProcessor) RegisterKeys(ctx context.Context, controller input.Controller) error {
	for _, b := range cp.bindings {
		cmd := b.Command
		if err := controller.RegisterControlCallback(ctx, b.Key, []input.EventType{input.ButtonRelease},
			func(ctx context.Context, ev input.Event) {
				if err := cp.Submit(ctx, cmd); err != nil {
					cp.logger.Debugw("key dropped", "key", ev.Control, "error", err)
				}
			}); err != nil {
			return errors.Wrapf(err, "cannot bind key %q", b.Key)
		}
	}
	return controller.RegisterControlCallback(ctx, input.KeyEscape, []input.EventType{input.Disconnect},
		func(ctx context.Context, ev input.Event) {
			cp.logger.Info("keyboard input closed, commands are no longer accepted")
		})
}

// Apply changes the state according to cmd. A command whose precondition is not met returns an
// error wrapping ErrPreconditionNotMet and leaves the state unchanged.
func (cp *CommandProcessor) Apply(cmd Command) error {
	switch cmd.Kind {
	case CommandExit:
		cp.logger.Info("exit requested")
		cp.state.RequestStop()
	case CommandTakeCloud:
		cp.requestExport(ExportRequest{Kind: ExportCloud})
	case CommandTakeMesh:
		cp.requestExport(ExportRequest{Kind: ExportMesh})
	case CommandSaveCloud:
		if !cmd.CloudFormat.Valid() {
			return utils.NewUnsupportedFormatError("cloud", cmd.CloudFormat)
		}
		cp.requestExport(ExportRequest{Kind: ExportCloud, CloudFormat: cmd.CloudFormat})
	case CommandSaveMesh:
		if !cmd.MeshFormat.Valid() {
			return utils.NewUnsupportedFormatError("mesh", cmd.MeshFormat)
		}
		cp.requestExport(ExportRequest{Kind: ExportMesh, MeshFormat: cmd.MeshFormat})
	case CommandSaveVolumeAndCloud:
		cp.requestExport(ExportRequest{Kind: ExportVolume})
	case CommandClearClouds:
		cp.state.RequestClearClouds()
	case CommandPerformLastScan:
		cp.logger.Info("performing last scan, the session ends once it completes")
		cp.state.RequestLastScan()
	case CommandPrintHelp:
		return cp.PrintHelp()
	case CommandToggleExtractionMode:
		f, _ := cp.state.Mutate(func(f *Flags) error {
			f.ExtractionMode = f.ExtractionMode.Next()
			return nil
		})
		cp.logger.Infof("cloud extraction mode: %v", f.ExtractionMode)
	case CommandToggleNormals:
		return cp.toggle("extract normals", func(f *Flags) *bool { return &f.Normals }, nil)
	case CommandToggleIndependentCamera:
		return cp.toggle("independent camera", func(f *Flags) *bool { return &f.IndependentCamera }, nil)
	case CommandToggleVolumeBounds:
		return cp.toggle("volume bounds", func(f *Flags) *bool { return &f.VolumeBounds }, nil)
	case CommandToggleVolumeScan:
		return cp.toggle("download volume on cloud extraction", func(f *Flags) *bool { return &f.VolumeScan }, nil)
	case CommandToggleScenePainting:
		return cp.toggle("scene painting", func(f *Flags) *bool { return &f.ScenePainting }, func(f *Flags) error {
			if !f.Registration {
				return errors.Wrap(ErrPreconditionNotMet, "scene painting requires registration mode")
			}
			return nil
		})
	case CommandToggleRegistration:
		f, err := cp.state.Mutate(func(f *Flags) error {
			if !cp.hasColor {
				return errors.Wrap(ErrPreconditionNotMet, "registration requires a color stream")
			}
			f.Registration = !f.Registration
			if !f.Registration {
				// Both modes paint with registered color and stay off until toggled again.
				f.ColorIntegration = false
				f.ScenePainting = false
			}
			return nil
		})
		if err != nil {
			return err
		}
		cp.logger.Infof("registration: %s", onOff(f.Registration))
	case CommandToggleColorIntegration:
		return cp.toggle("color integration", func(f *Flags) *bool { return &f.ColorIntegration }, func(f *Flags) error {
			if !f.Registration {
				return errors.Wrap(ErrPreconditionNotMet, "color integration requires registration mode")
			}
			return nil
		})
	default:
		return errors.Errorf("unknown command %v", cmd.Kind)
	}
	return nil
}

func (cp *CommandProcessor) requestExport(req ExportRequest) {
	if replaced := cp.state.RequestExport(req); replaced.Kind != ExportNone {
		cp.logger.Debugw("replacing pending export", "old", replaced, "new", req)
	}
}

// toggle flips the flag selected by field once check, if any, passes.
func (cp *CommandProcessor) toggle(name string, field func(f *Flags) *bool, check func(f *Flags) error) error {
	f, err := cp.state.Mutate(func(f *Flags) error {
		if check != nil {
			if err := check(f); err != nil {
				return err
			}
		}
		v := field(f)
		*v = !*v
		return nil
	})
	if err != nil {
		return err
	}
	cp.logger.Infof("%s: %s", name, onOff(*field(&f)))
	return nil
}
