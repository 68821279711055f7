package slam

import (
	"math"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/navcal/spatialmath"
)

func frameAt(time, x, yaw float64) KeyFrame {
	return KeyFrame{Time: time, Pose: spatialmath.NewPoseFromRPY(0, 0, yaw, x, 0, 0)}
}

func times(frames []KeyFrame) []float64 {
	out := make([]float64, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Time)
	}
	return out
}

func newTestMap(t *testing.T, policy CapPolicy, frameTimes ...float64) *Map {
	t.Helper()
	m := NewMap(policy)
	for _, ft := range frameTimes {
		test.That(t, m.InsertKeyFrame(frameAt(ft, ft, 0)), test.ShouldBeNil)
	}
	return m
}

func TestInsertKeyFrame(t *testing.T) {
	m := newTestMap(t, CapMostRecent, 3, 1, 2)
	test.That(t, times(m.GetAllKeyFrames()), test.ShouldResemble, []float64{1, 2, 3})

	// Same time replaces rather than duplicates.
	replacement := frameAt(2, 42, 0)
	test.That(t, m.InsertKeyFrame(replacement), test.ShouldBeNil)
	all := m.GetAllKeyFrames()
	test.That(t, len(all), test.ShouldEqual, 3)
	test.That(t, all[1].Position().X, test.ShouldEqual, 42)

	test.That(t, m.InsertKeyFrame(KeyFrame{Time: math.NaN()}), test.ShouldBeError, ErrInvalidTime)
	test.That(t, m.InsertKeyFrame(KeyFrame{Time: math.Inf(1)}), test.ShouldBeError, ErrInvalidTime)
	test.That(t, m.NumKeyFrames(), test.ShouldEqual, 3)

	last, ok := m.LastKeyFrame()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, last.Time, test.ShouldEqual, 3)
}

func TestGetAllKeyFramesIsACopy(t *testing.T) {
	m := newTestMap(t, CapMostRecent, 1, 2)
	all := m.GetAllKeyFrames()
	all[0].Time = 100
	test.That(t, times(m.GetAllKeyFrames()), test.ShouldResemble, []float64{1, 2})
}

func TestLandmarks(t *testing.T) {
	m := NewMap(CapMostRecent)
	a := NewLandmark(r3.Vector{X: 1})
	b := NewLandmark(r3.Vector{Y: 1})
	m.InsertLandmark(a)
	m.InsertLandmark(b)
	test.That(t, len(m.GetAllLandmarks()), test.ShouldEqual, 2)

	test.That(t, m.RemoveLandmark(a), test.ShouldBeTrue)
	test.That(t, m.RemoveLandmark(a), test.ShouldBeFalse)
	remaining := m.GetAllLandmarks()
	test.That(t, remaining, test.ShouldResemble, []Landmark{b})

	m.Reset()
	test.That(t, m.GetAllLandmarks(), test.ShouldBeEmpty)
	test.That(t, m.GetAllKeyFrames(), test.ShouldBeEmpty)
}

func TestGetKeyFrames(t *testing.T) {
	m := newTestMap(t, CapMostRecent, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)

	test.That(t, times(m.GetKeyFrames(2, 5, 0)), test.ShouldResemble, []float64{2, 3, 4, 5})
	test.That(t, times(m.GetKeyFrames(2.5, 5.5, 0)), test.ShouldResemble, []float64{3, 4, 5})
	test.That(t, times(m.GetKeyFrames(7, 0, 0)), test.ShouldResemble, []float64{7, 8, 9})
	test.That(t, times(m.GetKeyFrames(2, 8, 3)), test.ShouldResemble, []float64{6, 7, 8})
	test.That(t, times(m.GetKeyFrames(2, 3, 5)), test.ShouldResemble, []float64{2, 3})
	test.That(t, m.GetKeyFrames(20, 30, 0), test.ShouldBeEmpty)

	t.Run("evenly sampled", func(t *testing.T) {
		m := newTestMap(t, CapEvenlySampled, 0, 1, 2, 3, 4, 5, 6, 7, 8)
		test.That(t, times(m.GetKeyFrames(0, 0, 3)), test.ShouldResemble, []float64{0, 4, 8})
		test.That(t, times(m.GetKeyFrames(0, 0, 1)), test.ShouldResemble, []float64{8})
		test.That(t, times(m.GetKeyFrames(0, 0, 5)), test.ShouldResemble, []float64{0, 2, 4, 6, 8})
	})

	t.Run("results are strictly ascending and in range", func(t *testing.T) {
		frames := m.GetKeyFrames(1.5, 7.5, 0)
		for i, f := range frames {
			test.That(t, f.Time, test.ShouldBeBetweenOrEqual, 1.5, 7.5)
			if i > 0 {
				test.That(t, f.Time, test.ShouldBeGreaterThan, frames[i-1].Time)
			}
		}
	})
}

func TestCapPolicyFromString(t *testing.T) {
	p, err := CapPolicyFromString("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, CapMostRecent)
	p, err = CapPolicyFromString("evenly_sampled")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, CapEvenlySampled)
	test.That(t, p.String(), test.ShouldEqual, "evenly_sampled")
	_, err = CapPolicyFromString("random")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestComputePose(t *testing.T) {
	m := NewMap(CapMostRecent)
	_, err := m.ComputePose(1)
	test.That(t, err, test.ShouldBeError, ErrNoKeyFrames)

	test.That(t, m.InsertKeyFrame(frameAt(10, 0, 0)), test.ShouldBeNil)
	test.That(t, m.InsertKeyFrame(frameAt(20, 10, math.Pi/2)), test.ShouldBeNil)

	pose, err := m.ComputePose(15)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().X, test.ShouldAlmostEqual, 5)
	test.That(t, spatialmath.Heading(pose.Orientation()), test.ShouldAlmostEqual, math.Pi/4)

	pose, err = m.ComputePose(12.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().X, test.ShouldAlmostEqual, 2.5)
	test.That(t, spatialmath.Heading(pose.Orientation()), test.ShouldAlmostEqual, math.Pi/8)

	// Exact keyframe and boundaries return stored poses unmodified.
	pose, err = m.ComputePose(20)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().X, test.ShouldEqual, 10)
	pose, err = m.ComputePose(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().X, test.ShouldEqual, 0)
	pose, err = m.ComputePose(100)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().X, test.ShouldEqual, 10)
}

func TestView(t *testing.T) {
	m := newTestMap(t, CapMostRecent, 1, 2, 3)
	l := NewLandmark(r3.Vector{Z: 2})
	m.InsertLandmark(l)

	var escaped MapView
	var seen []float64
	m.View(func(view MapView) {
		escaped = view
		test.That(t, view.NumKeyFrames(), test.ShouldEqual, 3)
		view.AscendKeyFrames(2, func(kf KeyFrame) bool {
			seen = append(seen, kf.Time)
			return true
		})
		got, ok := view.Landmark(l.ID)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got, test.ShouldResemble, l)
		count := 0
		view.IterateLandmarks(func(Landmark) bool {
			count++
			return true
		})
		test.That(t, count, test.ShouldEqual, 1)
	})
	test.That(t, seen, test.ShouldResemble, []float64{2, 3})
	test.That(t, func() { escaped.NumKeyFrames() }, test.ShouldPanic)
}

func TestOnInsert(t *testing.T) {
	m := NewMap(CapMostRecent)
	var notified []float64
	m.OnInsert(func(kf KeyFrame) {
		// The map lock is released, so listeners may query the map.
		test.That(t, m.NumKeyFrames(), test.ShouldBeGreaterThan, 0)
		notified = append(notified, kf.Time)
	})
	test.That(t, m.InsertKeyFrame(frameAt(1, 0, 0)), test.ShouldBeNil)
	test.That(t, m.InsertKeyFrame(frameAt(2, 0, 0)), test.ShouldBeNil)
	test.That(t, notified, test.ShouldResemble, []float64{1, 2})
}

func TestConcurrentAccess(t *testing.T) {
	m := NewMap(CapMostRecent)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = m.InsertKeyFrame(frameAt(float64(i), float64(i), 0))
			m.InsertLandmark(NewLandmark(r3.Vector{X: float64(i)}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			frames := m.GetAllKeyFrames()
			for j := 1; j < len(frames); j++ {
				if frames[j].Time <= frames[j-1].Time {
					t.Error("keyframes out of order")
				}
			}
			_ = m.GetKeyFrames(0, 0, 10)
			_ = m.GetAllLandmarks()
		}
	}()
	wg.Wait()
	test.That(t, m.NumKeyFrames(), test.ShouldEqual, 500)
	test.That(t, len(m.GetAllLandmarks()), test.ShouldEqual, 500)
}
