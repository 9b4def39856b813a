// Package timeline implements keyframe-based playback and interpolation for
// time-indexed automation signals (C8): sorted keyframes, play/pause/
// resume/stop transport controls, looping, and a wide easing palette.
package timeline

import (
	"sort"

	"github.com/lumencanvas/clasp/pkg/wire"
)

// Keyframe is one control point on a timeline, in microseconds from the
// timeline's own origin.
type Keyframe struct {
	TimeUS uint64
	Value  wire.Value
	Easing Easing
	Bezier *Bezier
}

// Data is an immutable (after construction) timeline definition.
type Data struct {
	Keyframes []Keyframe
	Loop      bool
}

// NewData sorts keyframes by TimeUS and returns a Data value.
func NewData(keyframes []Keyframe, loop bool) Data {
	sorted := make([]Keyframe, len(keyframes))
	copy(sorted, keyframes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimeUS < sorted[j].TimeUS })
	return Data{Keyframes: sorted, Loop: loop}
}

// Duration returns the span between the first and last keyframe, 0 if fewer
// than two keyframes exist.
func (d Data) Duration() uint64 {
	if len(d.Keyframes) < 2 {
		return 0
	}
	return d.Keyframes[len(d.Keyframes)-1].TimeUS - d.Keyframes[0].TimeUS
}

// PlaybackState is the Player's transport state.
type PlaybackState uint8

const (
	Stopped PlaybackState = iota
	Playing
	Paused
	Finished
)

// Player drives sampling of a Data timeline against a server clock.
type Player struct {
	timeline  Data
	state     PlaybackState
	startTime uint64
	pauseTime *uint64
	loopCount uint32
}

// NewPlayer creates a Player in Stopped state.
func NewPlayer(timeline Data) *Player {
	return &Player{timeline: timeline, state: Stopped}
}

// Start begins playback from the first keyframe at currentTimeUS.
func (p *Player) Start(currentTimeUS uint64) {
	p.startTime = currentTimeUS
	p.state = Playing
	p.pauseTime = nil
	p.loopCount = 0
}

// StartAt begins playback as though it had started at startTimeUS (used to
// resume a timeline whose origin predates the player's construction).
func (p *Player) StartAt(startTimeUS uint64) {
	p.startTime = startTimeUS
	p.state = Playing
	p.pauseTime = nil
	p.loopCount = 0
}

// Pause freezes playback at currentTimeUS. No-op unless currently Playing.
func (p *Player) Pause(currentTimeUS uint64) {
	if p.state == Playing {
		t := currentTimeUS
		p.pauseTime = &t
		p.state = Paused
	}
}

// Resume continues playback, shifting startTime forward by the pause
// duration so the timeline picks up exactly where it paused. No-op unless
// currently Paused.
func (p *Player) Resume(currentTimeUS uint64) {
	if p.state != Paused {
		return
	}
	if p.pauseTime != nil {
		pauseDuration := saturatingSub(currentTimeUS, *p.pauseTime)
		p.startTime = saturatingAdd(p.startTime, pauseDuration)
	}
	p.state = Playing
	p.pauseTime = nil
}

// Stop halts playback and clears pause bookkeeping. Keyframes are retained.
func (p *Player) Stop() {
	p.state = Stopped
	p.pauseTime = nil
}

func (p *Player) State() PlaybackState { return p.state }
func (p *Player) LoopCount() uint32    { return p.loopCount }
func (p *Player) Duration() uint64     { return p.timeline.Duration() }

// Sample evaluates the timeline at currentTimeUS, returning false if
// Stopped or the timeline has no keyframes.
func (p *Player) Sample(currentTimeUS uint64) (wire.Value, bool) {
	if p.state == Stopped {
		return wire.Value{}, false
	}
	if len(p.timeline.Keyframes) == 0 {
		return wire.Value{}, false
	}

	var elapsed uint64
	if p.state == Paused {
		at := currentTimeUS
		if p.pauseTime != nil {
			at = *p.pauseTime
		}
		elapsed = saturatingSub(at, p.startTime)
	} else {
		elapsed = saturatingSub(currentTimeUS, p.startTime)
	}

	duration := p.timeline.Duration()
	if duration == 0 {
		return p.timeline.Keyframes[0].Value, true
	}

	var position uint64
	if p.timeline.Loop {
		newLoopCount := uint32(elapsed / duration)
		if newLoopCount > p.loopCount {
			p.loopCount = newLoopCount
		}
		position = elapsed % duration
	} else if elapsed >= duration {
		p.state = Finished
		return p.timeline.Keyframes[len(p.timeline.Keyframes)-1].Value, true
	} else {
		position = elapsed
	}

	prev, next := p.findKeyframes(position)
	segmentDuration := saturatingSub(next.TimeUS, prev.TimeUS)
	if segmentDuration == 0 {
		return prev.Value, true
	}

	localT := float64(position-prev.TimeUS) / float64(segmentDuration)
	easedT := Apply(prev.Easing, localT, prev.Bezier)

	return interpolateValue(prev.Value, next.Value, easedT), true
}

// findKeyframes returns the keyframe pair surrounding position, per the
// same before-first/after-last/between-two rules as the original player:
// before the first keyframe or after the last, both endpoints collapse to
// the same keyframe (flat extrapolation).
func (p *Player) findKeyframes(position uint64) (Keyframe, Keyframe) {
	kfs := p.timeline.Keyframes
	if len(kfs) == 1 {
		return kfs[0], kfs[0]
	}
	nextIdx := len(kfs)
	for i, kf := range kfs {
		if kf.TimeUS > position {
			nextIdx = i
			break
		}
	}
	switch {
	case nextIdx == 0:
		return kfs[0], kfs[0]
	case nextIdx >= len(kfs):
		last := kfs[len(kfs)-1]
		return last, last
	default:
		return kfs[nextIdx-1], kfs[nextIdx]
	}
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// interpolateValue blends a and b by t. Numeric values (Int/Float)
// interpolate arithmetically; equal-length arrays interpolate element-wise;
// anything else falls back to a hard step at the 0.5 midpoint.
func interpolateValue(a, b wire.Value, t float64) wire.Value {
	if a.Kind == wire.KindFloat && b.Kind == wire.KindFloat {
		return wire.Float(a.F + (b.F-a.F)*t)
	}
	if a.Kind == wire.KindInt && b.Kind == wire.KindInt {
		return wire.Int(a.I + int64(float64(b.I-a.I)*t))
	}
	if a.Kind == wire.KindArray && b.Kind == wire.KindArray && len(a.Arr) == len(b.Arr) {
		out := make([]wire.Value, len(a.Arr))
		for i := range a.Arr {
			out[i] = interpolateValue(a.Arr[i], b.Arr[i], t)
		}
		return wire.Array(out)
	}
	if t < 0.5 {
		return a
	}
	return b
}
