// Package midiout sends playback events to MIDI hardware as control-change
// messages. It is the concrete collaborator behind core.PlaybackConsumer.
package midiout

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"liveline/internal/core"
)

// muteController is the CC number used for mute flips; value controllers are
// derived from the parameter's host id.
const muteController = 120

// Sender maps value events to CC messages on a fixed channel. A missing MIDI
// driver leaves the sender inert rather than failing construction, matching
// how headless environments behave.
type Sender struct {
	driver *rtmididrv.Driver
	out    drivers.Out
	send   func(midi.Message) error
	logger core.Logger
}

// NewSender opens the platform MIDI driver. The sender is usable but inert
// when no driver is available.
func NewSender(logger core.Logger) *Sender {
	if logger == nil {
		logger = core.NopLogger()
	}
	s := &Sender{logger: logger}
	driver, err := rtmididrv.New()
	if err != nil {
		logger.Warn("no MIDI driver available", "error", err)
		return s
	}
	s.driver = driver
	return s
}

// Open connects to the first output port whose name starts with namePrefix;
// an empty prefix takes the first port.
func (s *Sender) Open(namePrefix string) error {
	if s.driver == nil {
		return errors.New("no driver available")
	}
	outs, err := s.driver.Outs()
	if err != nil {
		return err
	}
	for _, out := range outs {
		if namePrefix != "" && !strings.HasPrefix(out.String(), namePrefix) {
			continue
		}
		if err := out.Open(); err != nil {
			return fmt.Errorf("opening MIDI output failed: %w", err)
		}
		s.out = out
		s.send, err = midi.SendTo(out)
		return err
	}
	return fmt.Errorf("no MIDI output matching %q", namePrefix)
}

// Close releases the output port and the driver.
func (s *Sender) Close() {
	if s.out != nil && s.out.IsOpen() {
		s.out.Close()
	}
	if s.driver != nil {
		s.driver.Close()
	}
}

// SendValue emits a control change scaling value in [0,1] to 0..127. The
// controller number is the parameter's host id folded into CC range.
func (s *Sender) SendValue(parameterHostID int, ev core.ValueEvent) error {
	if s.send == nil {
		return nil
	}
	v := ev.Value
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	controller := uint8(parameterHostID % 120)
	return s.send(midi.ControlChange(0, controller, uint8(v*127)))
}

// SendMute emits a full-on or full-off control change on the mute controller,
// using the track number as the channel.
func (s *Sender) SendMute(trackNumber int, ev core.MuteEvent) error {
	if s.send == nil {
		return nil
	}
	value := uint8(0)
	if ev.IsMuted {
		value = 127
	}
	channel := 0
	if trackNumber > 0 {
		channel = (trackNumber - 1) % 16
	}
	return s.send(midi.ControlChange(uint8(channel), muteController, value))
}
