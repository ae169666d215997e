package core

import (
	"context"
	"time"
)

// PlaybackConsumer receives ordered playback events, typically a real-time
// hardware-control collaborator.
type PlaybackConsumer interface {
	SendValue(parameterHostID int, ev ValueEvent) error
	SendMute(trackNumber int, ev MuteEvent) error
}

// SchedulePlayback delivers value and mute events to the consumer in time
// order, sleeping secondsPerBeat between beat units. Delivery stops at the
// first send error or when ctx is done.
func SchedulePlayback(ctx context.Context, consumer PlaybackConsumer, parameterHostID, trackNumber int, values []ValueEvent, mutes []MuteEvent, secondsPerBeat float64) error {
	type slot struct {
		time  float64
		value *ValueEvent
		mute  *MuteEvent
	}
	slots := make([]slot, 0, len(values)+len(mutes))
	for i := range values {
		slots = append(slots, slot{time: values[i].Time, value: &values[i]})
	}
	for i := range mutes {
		slots = append(slots, slot{time: mutes[i].Time, mute: &mutes[i]})
	}
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && slots[j].time < slots[j-1].time; j-- {
			slots[j], slots[j-1] = slots[j-1], slots[j]
		}
	}

	var elapsed float64
	for _, s := range slots {
		if wait := s.time - elapsed; wait > 0 && secondsPerBeat > 0 {
			timer := time.NewTimer(time.Duration(wait * secondsPerBeat * float64(time.Second)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			elapsed = s.time
		}
		var err error
		if s.value != nil {
			err = consumer.SendValue(parameterHostID, *s.value)
		} else {
			err = consumer.SendMute(trackNumber, *s.mute)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
