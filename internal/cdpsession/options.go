package cdpsession

import "time"

// Options configures a Session. Zero-value fields fall back to the defaults
// below via WithDefaults.
type Options struct {
	CaptureResourceTypes      []string
	WindowPropertyInterval    time.Duration
	WindowPropertyMaxDepth    int
	CookiePollInterval        time.Duration
	CommandDefaultTimeout     time.Duration
	WindowPropertyCallTimeout time.Duration
	FinalizeGrace             time.Duration
	LocatorPriorities         map[LocatorType]int
}

// WithDefaults returns a copy of o with every zero field set to its
// specified default.
func (o Options) WithDefaults() Options {
	if len(o.CaptureResourceTypes) == 0 {
		o.CaptureResourceTypes = []string{"xhr", "fetch", "document"}
	}
	if o.WindowPropertyInterval <= 0 {
		o.WindowPropertyInterval = 10 * time.Second
	}
	if o.WindowPropertyMaxDepth <= 0 {
		o.WindowPropertyMaxDepth = 10
	}
	if o.CookiePollInterval <= 0 {
		o.CookiePollInterval = 1 * time.Second
	}
	if o.CommandDefaultTimeout <= 0 {
		o.CommandDefaultTimeout = 10 * time.Second
	}
	if o.WindowPropertyCallTimeout <= 0 {
		o.WindowPropertyCallTimeout = 500 * time.Millisecond
	}
	if o.FinalizeGrace <= 0 {
		o.FinalizeGrace = 5 * time.Second
	}
	return o
}
