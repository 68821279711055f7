package slam

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// CapPolicy selects which keyframes GetKeyFrames keeps when a range holds more than the
// requested number.
type CapPolicy int

const (
	// CapMostRecent keeps the latest num keyframes of the range.
	CapMostRecent CapPolicy = iota
	// CapEvenlySampled keeps num keyframes spread evenly over the range, always including the
	// first and the last.
	CapEvenlySampled
)

func (policy CapPolicy) String() string {
	switch policy {
	case CapMostRecent:
		return "most_recent"
	case CapEvenlySampled:
		return "evenly_sampled"
	}
	return "unknown"
}

// CapPolicyFromString parses a cap policy name. An empty name is CapMostRecent.
func CapPolicyFromString(name string) (CapPolicy, error) {
	switch strings.ToLower(name) {
	case "", "most_recent":
		return CapMostRecent, nil
	case "evenly_sampled":
		return CapEvenlySampled, nil
	}
	return CapMostRecent, errors.Errorf("unknown keyframe cap policy %q", name)
}

func (policy CapPolicy) apply(frames []KeyFrame, num int) []KeyFrame {
	if num <= 0 || len(frames) <= num {
		return frames
	}
	switch policy {
	case CapEvenlySampled:
		if num == 1 {
			return frames[len(frames)-1:]
		}
		sampled := make([]KeyFrame, 0, num)
		step := float64(len(frames)-1) / float64(num-1)
		for i := 0; i < num; i++ {
			sampled = append(sampled, frames[int(math.Round(float64(i)*step))])
		}
		return sampled
	default:
		return frames[len(frames)-num:]
	}
}
