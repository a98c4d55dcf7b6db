package ratelimit

import (
	"fmt"
	"math"
	"time"
)

// FormatDelay renders a delay as coarse human readable text
func FormatDelay(d time.Duration) string {
	s := d.Seconds()
	switch {
	case s <= 15:
		return "a few seconds"
	case s <= 30:
		return "30 seconds"
	case s <= 60:
		return "one minute"
	case s < 3000:
		return fmt.Sprintf("%d minutes", int(math.Ceil(s/60))+1)
	case s <= 3600:
		return "one hour"
	default:
		return fmt.Sprintf("%d hours", int(math.Ceil(s/3600)))
	}
}
