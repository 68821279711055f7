// Package slam contains the keyframe and landmark store shared between the SLAM frontend and the
// calibration backend.
package slam

import (
	"bytes"
	"slices"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/navcal/spatialmath"
)

// ErrNoKeyFrames is returned by queries that need at least one keyframe.
var ErrNoKeyFrames = errors.New("map has no keyframes")

const btreeDegree = 32

// Map is the time-ordered keyframe store plus the landmark store. A single mutex guards both
// containers; every access, read or write, is serialized. Accessors copy data out while holding
// the lock, and View hands out a view that is only valid inside its callback.
type Map struct {
	mu        sync.Mutex
	keyframes *btree.BTreeG[KeyFrame]
	landmarks map[uuid.UUID]Landmark
	capPolicy CapPolicy

	listenersMu sync.Mutex
	listeners   []func(KeyFrame)
}

// NewMap returns an empty map whose GetKeyFrames caps results with capPolicy.
func NewMap(capPolicy CapPolicy) *Map {
	return &Map{
		keyframes: btree.NewG(btreeDegree, keyFrameLess),
		landmarks: map[uuid.UUID]Landmark{},
		capPolicy: capPolicy,
	}
}

// OnInsert registers fn to be called after every InsertKeyFrame. fn runs on the inserting
// goroutine after the map lock is released, so it may query the map.
func (m *Map) OnInsert(fn func(KeyFrame)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// InsertKeyFrame adds frame, replacing any keyframe with the same time.
func (m *Map) InsertKeyFrame(frame KeyFrame) error {
	if !validTime(frame.Time) {
		return ErrInvalidTime
	}
	m.mu.Lock()
	m.keyframes.ReplaceOrInsert(frame)
	m.mu.Unlock()

	m.listenersMu.Lock()
	listeners := slices.Clone(m.listeners)
	m.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(frame)
	}
	return nil
}

// InsertLandmark adds landmark, replacing any landmark with the same ID.
func (m *Map) InsertLandmark(landmark Landmark) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.landmarks[landmark.ID] = landmark
}

// RemoveLandmark removes the landmark with landmark's ID. It reports whether it was present.
func (m *Map) RemoveLandmark(landmark Landmark) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.landmarks[landmark.ID]
	delete(m.landmarks, landmark.ID)
	return ok
}

// GetAllKeyFrames returns a copy of every keyframe in ascending time order.
func (m *Map) GetAllKeyFrames() []KeyFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := make([]KeyFrame, 0, m.keyframes.Len())
	m.keyframes.Ascend(func(kf KeyFrame) bool {
		frames = append(frames, kf)
		return true
	})
	return frames
}

// GetAllLandmarks returns a copy of every landmark ordered by ID.
func (m *Map) GetAllLandmarks() []Landmark {
	m.mu.Lock()
	landmarks := lo.Values(m.landmarks)
	m.mu.Unlock()

	slices.SortFunc(landmarks, func(a, b Landmark) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return landmarks
}

// GetKeyFrames returns the keyframes with start <= time <= end in ascending order. An end of 0
// means up to the latest keyframe. When num > 0 the result holds at most num keyframes, chosen
// by the map's cap policy.
func (m *Map) GetKeyFrames(start, end float64, num int) []KeyFrame {
	m.mu.Lock()
	var frames []KeyFrame
	m.keyframes.AscendGreaterOrEqual(KeyFrame{Time: start}, func(kf KeyFrame) bool {
		if end != 0 && kf.Time > end {
			return false
		}
		frames = append(frames, kf)
		return true
	})
	m.mu.Unlock()

	return m.capPolicy.apply(frames, num)
}

// ComputePose returns the pose at time, interpolating between the two bracketing keyframes
// (slerp for orientation, linear for position). Outside the stored range it returns the nearest
// keyframe's pose.
func (m *Map) ComputePose(time float64) (spatialmath.Pose, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keyframes.Len() == 0 {
		return spatialmath.NewZeroPose(), ErrNoKeyFrames
	}

	pivot := KeyFrame{Time: time}
	var before, after KeyFrame
	var hasBefore, hasAfter bool
	m.keyframes.DescendLessOrEqual(pivot, func(kf KeyFrame) bool {
		before, hasBefore = kf, true
		return false
	})
	m.keyframes.AscendGreaterOrEqual(pivot, func(kf KeyFrame) bool {
		after, hasAfter = kf, true
		return false
	})

	switch {
	case !hasBefore:
		return after.Pose, nil
	case !hasAfter, before.Time == after.Time:
		return before.Pose, nil
	}
	by := (time - before.Time) / (after.Time - before.Time)
	return spatialmath.Interpolate(before.Pose, after.Pose, by), nil
}

// NumKeyFrames returns the number of stored keyframes.
func (m *Map) NumKeyFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyframes.Len()
}

// LastKeyFrame returns the latest keyframe.
func (m *Map) LastKeyFrame() (KeyFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyframes.Max()
}

// Reset removes every keyframe and landmark.
func (m *Map) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyframes.Clear(false)
	m.landmarks = map[uuid.UUID]Landmark{}
}

// MapView is a read-only view of the map. It is only valid inside the View callback it was
// passed to.
type MapView interface {
	// AscendKeyFrames visits keyframes with time >= start in ascending order until visit
	// returns false.
	AscendKeyFrames(start float64, visit func(KeyFrame) bool)
	NumKeyFrames() int
	Landmark(id uuid.UUID) (Landmark, bool)
	IterateLandmarks(visit func(Landmark) bool)
}

// View calls viewer with a view of the map while holding the map lock. The view must not be
// retained after viewer returns, and viewer must not call back into the map.
func (m *Map) View(viewer func(view MapView)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	view := &lockedView{m: m}
	defer view.release()
	viewer(view)
}

type lockedView struct {
	m *Map
}

func (v *lockedView) release() {
	v.m = nil
}

func (v *lockedView) mustBeLive() *Map {
	if v.m == nil {
		panic("slam: MapView used after its View callback returned")
	}
	return v.m
}

func (v *lockedView) AscendKeyFrames(start float64, visit func(KeyFrame) bool) {
	v.mustBeLive().keyframes.AscendGreaterOrEqual(KeyFrame{Time: start}, visit)
}

func (v *lockedView) NumKeyFrames() int {
	return v.mustBeLive().keyframes.Len()
}

func (v *lockedView) Landmark(id uuid.UUID) (Landmark, bool) {
	l, ok := v.mustBeLive().landmarks[id]
	return l, ok
}

func (v *lockedView) IterateLandmarks(visit func(Landmark) bool) {
	for _, l := range v.mustBeLive().landmarks {
		if !visit(l) {
			return
		}
	}
}
