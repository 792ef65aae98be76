package cdpsession

import "time"

// nowUnixMillis is the wall-clock timestamp attached to events the core
// itself originates, as opposed to ones carrying a CDP-supplied timestamp
// (Network.* events report their own).
func nowUnixMillis() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}
