package slam

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/navcal/spatialmath"
)

// ErrInvalidTime is returned when a keyframe's time is NaN or infinite.
var ErrInvalidTime = errors.New("keyframe time must be finite")

// KeyFrame is a pose snapshot of the SLAM trajectory, in the world frame, at Time (seconds).
type KeyFrame struct {
	Time float64
	Pose spatialmath.Pose
}

// Position returns the keyframe's position in the world frame.
func (kf KeyFrame) Position() r3.Vector {
	return kf.Pose.Point()
}

// Heading returns the keyframe's yaw in the world frame.
func (kf KeyFrame) Heading() float64 {
	return spatialmath.Heading(kf.Pose.Orientation())
}

func keyFrameLess(a, b KeyFrame) bool {
	return a.Time < b.Time
}

func validTime(t float64) bool {
	return !math.IsNaN(t) && !math.IsInf(t, 0)
}

// Landmark is a 3D map point. Landmarks are identified by ID; the store owns them.
type Landmark struct {
	ID       uuid.UUID
	Position r3.Vector
}

// NewLandmark returns a landmark at position with a fresh ID.
func NewLandmark(position r3.Vector) Landmark {
	return Landmark{ID: uuid.New(), Position: position}
}
