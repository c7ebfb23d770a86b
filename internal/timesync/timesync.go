// Package timesync reconciles a player's local media clock with position
// reports relayed from the caster.
package timesync

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultThreshold is the drift a player tolerates before jumping.
const DefaultThreshold = 0.5

// ErrSync marks a failed attempt to move the local media position.
var ErrSync = errors.New("sync failed")

// Update is a position report as received from the server.
type Update struct {
	ReportedTime    float64 // seconds, as observed by the caster
	ServerTimestamp int64   // epoch millis stamped by the server on rebroadcast
	IsSeeking       bool
}

// MediaElement is the local playback clock being corrected.
type MediaElement interface {
	CurrentTime() float64
	SetCurrentTime(t float64) error
}

// Result describes what Apply did.
type Result struct {
	NetworkDelay time.Duration
	AdjustedTime float64
	Drift        float64 // local minus adjusted, seconds
	Corrected    bool
	Err          error
}

// Estimator applies position updates to a MediaElement.
type Estimator struct {
	Threshold float64
	Now       func() time.Time
}

// New returns an estimator with the default threshold and wall clock.
func New() *Estimator {
	return &Estimator{Threshold: DefaultThreshold, Now: time.Now}
}

// Apply compensates u for transit delay and corrects media when it is seeking or
// has drifted beyond the threshold. A failed correction is reported in Result.Err
// and otherwise ignored; playback continues unsynced.
func (e *Estimator) Apply(media MediaElement, u Update) Result {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	threshold := e.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	delay := time.Duration(now().UnixMilli()-u.ServerTimestamp) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	adjusted := u.ReportedTime + delay.Seconds()
	local := media.CurrentTime()

	res := Result{
		NetworkDelay: delay,
		AdjustedTime: adjusted,
		Drift:        local - adjusted,
	}
	if !u.IsSeeking && math.Abs(res.Drift) <= threshold {
		return res
	}
	if err := media.SetCurrentTime(adjusted); err != nil {
		res.Err = fmt.Errorf("%w: set position %.3f: %v", ErrSync, adjusted, err)
		return res
	}
	res.Corrected = true
	return res
}

// Seek forces media to target. Seeks never go through the drift check.
func Seek(media MediaElement, target float64) error {
	if err := media.SetCurrentTime(target); err != nil {
		return fmt.Errorf("%w: seek to %.3f: %v", ErrSync, target, err)
	}
	return nil
}
