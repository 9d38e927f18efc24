package storage

import "errors"

var errBoom = errors.New("boom")
