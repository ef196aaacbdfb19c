package hangmon

import "time"

// A TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() time.Time
}

// wallClock tells time with the system clock.
type wallClock struct{}

func (wallClock) CurrentTime() time.Time {
	return time.Now()
}
