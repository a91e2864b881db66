package tasks

// LED is a simulated output pin driven by blink tasks.
type LED struct {
	on      bool
	toggles uint64
}

// Toggle flips the pin and returns the new level.
func (l *LED) Toggle() bool {
	l.on = !l.on
	l.toggles++
	return l.on
}

func (l *LED) Toggles() uint64 { return l.toggles }
