package ratelimit

import "time"

// timeNow is swapped by tests to drive bucket refill deterministically.
var timeNow = time.Now
