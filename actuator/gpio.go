package actuator

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var hostInit sync.Once

// GPIOPin drives a Raspberry Pi GPIO line (BCM numbering) through periph.io.
type GPIOPin struct {
	out gpio.PinIO
}

// OpenGPIOPin claims the given BCM pin and drives it low.
func OpenGPIOPin(bcm int) (*GPIOPin, error) {
	var initErr error
	hostInit.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("init gpio host: %w", initErr)
	}
	name := fmt.Sprintf("GPIO%d", bcm)
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %s not found", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configure %s as output: %w", name, err)
	}
	return &GPIOPin{out: pin}, nil
}

// Set implements Pin.
func (p *GPIOPin) Set(active bool) error {
	return p.out.Out(gpio.Level(active))
}

// Close drives the pin low and releases it.
func (p *GPIOPin) Close() error {
	if err := p.out.Out(gpio.Low); err != nil {
		return err
	}
	return p.out.Halt()
}
