package pool

import (
	"sort"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

// sortFramesByID stably sorts frames ascending by their masked CAN
// identifier, matching the ordering cannelloni's SORT_FRAMES build option
// imposes on the InFlight snapshot before encoding.
func sortFramesByID(frames []*can.Frame) {
	sort.SliceStable(frames, func(i, j int) bool {
		return frames[i].ID() < frames[j].ID()
	})
}
