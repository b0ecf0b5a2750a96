package pwm

import (
	"fmt"
	"sync"

	"github.com/danmuck/greybus/internal/protocol"
)

// Polarity of a generator output.
type Polarity uint8

const (
	PolarityNormal Polarity = iota
	PolarityInverted
)

// Controller is the hardware side of the pwm driver.
type Controller interface {
	// Channels reports how many generators the controller exposes.
	Channels() int
	// Set drives channel with the given period and duty cycle in
	// nanoseconds. A zero duty stops the output.
	Set(channel int, period, duty uint32, polarity Polarity) error
}

// Output is the last setting applied to a simulated channel.
type Output struct {
	Period   uint32
	Duty     uint32
	Polarity Polarity
}

// SimController keeps channel outputs in memory.
type SimController struct {
	mu      sync.Mutex
	outputs []Output
	failOn  map[int]error
}

func NewSimController(channels int) *SimController {
	return &SimController{outputs: make([]Output, channels), failOn: make(map[int]error)}
}

func (s *SimController) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outputs)
}

func (s *SimController) Set(channel int, period, duty uint32, polarity Polarity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channel < 0 || channel >= len(s.outputs) {
		return fmt.Errorf("%w: channel %d", protocol.ErrInvalid, channel)
	}
	if err := s.failOn[channel]; err != nil {
		return err
	}
	if duty > period {
		return fmt.Errorf("%w: duty %d exceeds period %d", protocol.ErrInvalid, duty, period)
	}
	s.outputs[channel] = Output{Period: period, Duty: duty, Polarity: polarity}
	return nil
}

// Output returns the current setting of channel.
func (s *SimController) Output(channel int) Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[channel]
}

// FailOn makes Set on channel return err; nil clears it.
func (s *SimController) FailOn(channel int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, channel)
		return
	}
	s.failOn[channel] = err
}
