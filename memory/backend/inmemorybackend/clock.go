package inmemorybackend

import "time"

// nowFn is overridden in tests that need deterministic timestamps.
var nowFn = time.Now
