package gateways

import "errors"

// ErrReleaseNotFound is returned when no release exists for a tag
var ErrReleaseNotFound = errors.New("release not found")
