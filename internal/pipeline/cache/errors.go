package cache

import "errors"

var errInvalidEntry = errors.New("cache entry without fingerprint")
