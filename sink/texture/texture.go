// Package texture stores color frames along with the camera pose and intrinsics they were taken
// with, so that a mesh can be textured offline.
//
// Every session writes into its own directory, named after a fresh session id, holding
// frame_NNNNNN.png and a matching frame_NNNNNN.txt camera file.
package texture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/rimage/transform"
	"go.viam.com/fusion/sink"
	"go.viam.com/fusion/spatialmath"
	"go.viam.com/fusion/utils"
)

// Store writes textures for one session.
type Store struct {
	dir        string
	session    string
	intrinsics *transform.PinholeCameraIntrinsics
	clock      clock.Clock
	logger     logging.Logger

	mu     sync.Mutex
	saved  int
	closed bool
}

var _ sink.TextureSink = (*Store)(nil)

// NewStore returns a store writing under root. A nil clock means the wall clock.
func NewStore(root string, intrinsics *transform.PinholeCameraIntrinsics, clk clock.Clock, logger logging.Logger) (*Store, error) {
	if intrinsics == nil {
		return nil, errors.New("texture store needs camera intrinsics")
	}
	if clk == nil {
		clk = clock.New()
	}
	session := uuid.NewString()
	// OutputPath creates root; the session directory is created on the first save.
	dir, err := utils.OutputPath(root, session)
	if err != nil {
		return nil, err
	}
	return &Store{
		dir:        dir,
		session:    session,
		intrinsics: intrinsics,
		clock:      clk,
		logger:     logger.Sublogger("texture"),
	}, nil
}

// Dir is the session directory.
func (s *Store) Dir() string {
	return s.dir
}

// Saved is the number of textures written.
func (s *Store) Saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// SaveTexture writes color and the pose it was seen from.
func (s *Store) SaveTexture(ctx context.Context, pose spatialmath.Pose, color *rimage.Image) error {
	if color == nil {
		return errors.New("no color frame to save as texture")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("texture store is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return errors.Wrapf(err, "cannot create texture directory %q", s.dir)
	}

	base := fmt.Sprintf("frame_%06d", s.saved)
	if err := rimage.WriteImageToFile(filepath.Join(s.dir, base+".png"), color); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(filepath.Join(s.dir, base+".txt"))
	if err != nil {
		return err
	}
	err = writeCamera(f, pose, s.intrinsics, s.clock.Now().UnixNano())
	if err := multierr.Combine(err, f.Close()); err != nil {
		return errors.Wrapf(err, "cannot write camera file for %s", base)
	}
	s.saved++
	s.logger.Debugw("saved texture", "frame", base, "pose", spatialmath.PoseToString(pose))
	return nil
}

// Close stops accepting textures.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.saved > 0 {
		s.logger.Infof("saved %d textures to %s", s.saved, s.dir)
	}
	s.closed = true
	return nil
}

// writeCamera writes the translation, the rotation rows and the intrinsics of a texture frame.
func writeCamera(w io.Writer, pose spatialmath.Pose, in *transform.PinholeCameraIntrinsics, stampNanos int64) error {
	rows := spatialmath.PoseToRows(pose)
	_, err := fmt.Fprintf(w,
		"TVector\n%f\n%f\n%f\n\nRMatrix\n%f %f %f\n%f %f %f\n%f %f %f\n\n"+
			"Camera Intrinsics: fx fy ppx ppy width height\n%f %f %f %f %d %d\n\nTimestamp\n%d\n",
		rows[3], rows[7], rows[11],
		rows[0], rows[1], rows[2],
		rows[4], rows[5], rows[6],
		rows[8], rows[9], rows[10],
		in.Fx, in.Fy, in.Ppx, in.Ppy, in.Width, in.Height,
		stampNanos,
	)
	return err
}
