// Package pipeline runs the acquisition and reconstruction loop: it takes the latest frame from
// the sensor, steps the reconstruction engine, runs the exports and mode changes requested by the
// user, and shows the results on the presentation sinks.
package pipeline

import (
	"sync"

	"go.viam.com/fusion/engine"
	"go.viam.com/fusion/export"
	"go.viam.com/fusion/logging"
)

// ExportKind is the kind of a one-shot export.
type ExportKind int

// Export kinds.
const (
	ExportNone ExportKind = iota
	ExportCloud
	ExportMesh
	ExportVolume
)

func (k ExportKind) String() string {
	switch k {
	case ExportNone:
		return "none"
	case ExportCloud:
		return "cloud"
	case ExportMesh:
		return "mesh"
	case ExportVolume:
		return "volume"
	default:
		return "unknown"
	}
}

// ExportRequest is a one-shot export waiting for the coordinator. A request without a file format
// only extracts the result and shows it in the scene cloud view.
type ExportRequest struct {
	Kind        ExportKind
	CloudFormat export.CloudFormat
	MeshFormat  export.MeshFormat
}

// Flags are the user controlled modes.
type Flags struct {
	IndependentCamera bool
	Registration      bool
	ColorIntegration  bool
	TextureExtraction bool
	Normals           bool
	VolumeBounds      bool
	ScenePainting     bool
	// VolumeScan makes a cloud extraction also download the volume.
	VolumeScan     bool
	ExtractionMode engine.ExtractionMode
}

// Sanitize turns off the modes whose requirements are not met: registration needs a color
// stream, and color integration and scene painting need registration.
func (f Flags) Sanitize(hasColor bool, logger logging.Logger) Flags {
	if f.Registration && !hasColor {
		logger.Warn("the source has no color stream, registration is disabled")
		f.Registration = false
	}
	if !f.Registration {
		if f.ColorIntegration {
			logger.Warn("color integration requires registration mode, it is disabled")
		}
		if f.ScenePainting {
			logger.Warn("scene painting requires registration mode, it is disabled")
		}
		f.ColorIntegration = false
		f.ScenePainting = false
	}
	return f
}

// Snapshot is a consistent copy of the pipeline state.
type Snapshot struct {
	Flags
	Running      bool
	FrameCounter uint64
	Pending      ExportRequest
}

// State is the pipeline state shared by the coordinator and the command processor. Every read
// and write goes through its lock, so the coordinator sees each change either entirely or not
// at all.
type State struct {
	mu           sync.RWMutex
	flags        Flags
	running      bool
	frameCounter uint64
	pending      ExportRequest
	clearClouds  bool
	lastScan     bool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewState returns a running state with the given initial flags.
func NewState(initial Flags) *State {
	return &State{flags: initial, running: true, stop: make(chan struct{})}
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Flags:        s.flags,
		Running:      s.running,
		FrameCounter: s.frameCounter,
		Pending:      s.pending,
	}
}

// Flags returns a copy of the modes.
func (s *State) Flags() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// Mutate applies fn to the modes under the lock and returns the result. If fn returns an error
// the modes are left unchanged.
func (s *State) Mutate(fn func(f *Flags) error) (Flags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.flags
	if err := fn(&next); err != nil {
		return s.flags, err
	}
	s.flags = next
	return next, nil
}

// RequestExport sets the pending export, replacing one not yet taken.
func (s *State) RequestExport(req ExportRequest) (replaced ExportRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced = s.pending
	s.pending = req
	return replaced
}

// TakePendingExport returns the pending export and clears it.
func (s *State) TakePendingExport() (ExportRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.pending
	s.pending = ExportRequest{}
	return req, req.Kind != ExportNone
}

// RequestClearClouds asks for the cloud views to be cleared.
func (s *State) RequestClearClouds() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearClouds = true
}

// TakeClearClouds reports and resets a clear request.
func (s *State) TakeClearClouds() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	requested := s.clearClouds
	s.clearClouds = false
	return requested
}

// RequestLastScan asks for the engine to finish after a final pass.
func (s *State) RequestLastScan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScan = true
}

// TakeLastScanRequest reports and resets a last scan request.
func (s *State) TakeLastScanRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastScan
	s.lastScan = false
	return last
}

// IncrementFrameCounter counts a consumed frame and returns the new count.
func (s *State) IncrementFrameCounter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameCounter++
	return s.frameCounter
}

// FrameCounter is the number of frames consumed so far.
func (s *State) FrameCounter() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameCounter
}

// RequestStop marks the pipeline stopped and wakes everything waiting on Done. It is idempotent.
func (s *State) RequestStop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once a stop has been requested.
func (s *State) Done() <-chan struct{} {
	return s.stop
}

// Running reports whether no stop has been requested.
func (s *State) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
