// Package keyboard implements an input controller that reads key strokes from a terminal.
//
// A terminal reports characters, not key state, so every character read is delivered as a
// ButtonPress immediately followed by a ButtonRelease.
package keyboard

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/term"

	"go.viam.com/fusion/input"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/utils"
)

// Keyboard is a terminal keyboard controller.
type Keyboard struct {
	logger logging.Logger

	mu         sync.RWMutex
	callbacks  map[input.Control]map[input.EventType]input.ControlFunction
	lastEvents map[input.Control]input.Event

	keys    chan rune
	workers *utils.StoppableWorkers
	restore func() error
}

var (
	_ input.Controller  = (*Keyboard)(nil)
	_ input.Triggerable = (*Keyboard)(nil)
)

// New returns a keyboard reading from in. If in is a terminal it is switched to raw mode until
// Close is called.
func New(ctx context.Context, in io.Reader, logger logging.Logger) (*Keyboard, error) {
	kb := &Keyboard{
		logger:     logger,
		callbacks:  map[input.Control]map[input.EventType]input.ControlFunction{},
		lastEvents: map[input.Control]input.Event{},
		keys:       make(chan rune, 16),
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return nil, errors.Wrap(err, "cannot put terminal in raw mode")
		}
		rawOut := term.IsTerminal(int(os.Stdout.Fd()))
		logging.Stdout().SetRaw(rawOut)
		kb.restore = func() error {
			if rawOut {
				logging.Stdout().SetRaw(false)
			}
			return term.Restore(int(f.Fd()), state)
		}
	}

	// A blocked read cannot be interrupted, so the reader is not one of the stoppable workers. It
	// returns at EOF or with the process.
	goutils.PanicCapturingGo(func() {
		defer close(kb.keys)
		r := bufio.NewReader(in)
		for {
			c, _, err := r.ReadRune()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Debugw("keyboard input ended", "error", err)
				}
				return
			}
			kb.keys <- c
		}
	})
	kb.workers = utils.NewStoppableWorkers(ctx, kb.dispatch)
	return kb, nil
}

func (kb *Keyboard) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-kb.keys:
			if !ok {
				kb.emit(ctx, input.Event{Event: input.Disconnect})
				return
			}
			control, ok := ControlForRune(c)
			if !ok {
				continue
			}
			kb.emit(ctx, input.Event{Event: input.ButtonPress, Control: control, Value: 1})
			kb.emit(ctx, input.Event{Event: input.ButtonRelease, Control: control, Value: 0})
		}
	}
}

// ControlForRune maps a character read from the terminal to the key that produced it.
func ControlForRune(c rune) (input.Control, bool) {
	switch c {
	case 27:
		return input.KeyEscape, true
	case 3:
		return input.KeyInterrupt, true
	case '\r', '\n':
		return input.KeyEnter, true
	case ' ':
		return input.KeySpace, true
	}
	if !unicode.IsPrint(c) {
		return "", false
	}
	return input.Control(strings.ToLower(string(c))), true
}

// Controls lists the keys that have callbacks.
func (kb *Keyboard) Controls(ctx context.Context) ([]input.Control, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]input.Control, 0, len(kb.callbacks))
	for c := range kb.callbacks {
		out = append(out, c)
	}
	return out, nil
}

// Events returns the last event of every key seen so far.
func (kb *Keyboard) Events(ctx context.Context) (map[input.Control]input.Event, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make(map[input.Control]input.Event, len(kb.lastEvents))
	for k, v := range kb.lastEvents {
		out[k] = v
	}
	return out, nil
}

// RegisterControlCallback registers ctrlFunc for the given triggers of control. A nil ctrlFunc
// removes the registration.
func (kb *Keyboard) RegisterControlCallback(
	ctx context.Context,
	control input.Control,
	triggers []input.EventType,
	ctrlFunc input.ControlFunction,
) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.callbacks[control] == nil {
		kb.callbacks[control] = map[input.EventType]input.ControlFunction{}
	}
	for _, trigger := range triggers {
		if trigger == input.ButtonChange {
			kb.callbacks[control][input.ButtonRelease] = ctrlFunc
			kb.callbacks[control][input.ButtonPress] = ctrlFunc
		} else {
			kb.callbacks[control][trigger] = ctrlFunc
		}
	}
	return nil
}

// TriggerEvent delivers event as if it had been typed.
func (kb *Keyboard) TriggerEvent(ctx context.Context, event input.Event) error {
	if event.Control == "" {
		return errors.New("event has no control")
	}
	kb.emit(ctx, event)
	return nil
}

func (kb *Keyboard) emit(ctx context.Context, event input.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	kb.mu.Lock()
	if event.Control != "" {
		kb.lastEvents[event.Control] = event
	}
	var fns []input.ControlFunction
	for control, byType := range kb.callbacks {
		if event.Control != "" && control != event.Control {
			continue
		}
		for trigger, fn := range byType {
			if fn != nil && input.Matches(trigger, event) {
				fns = append(fns, fn)
			}
		}
	}
	kb.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, event)
	}
}

// Close stops dispatching events and restores the terminal.
func (kb *Keyboard) Close(ctx context.Context) error {
	kb.workers.Stop()
	if kb.restore != nil {
		return kb.restore()
	}
	return nil
}
