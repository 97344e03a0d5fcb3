package models

import "errors"

// ErrManifestNotFound is returned by stores that hold no manifest, i.e. an
// index that was never built or whose build did not finish.
var ErrManifestNotFound = errors.New("index manifest not found")
