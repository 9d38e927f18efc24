package consensus

import "errors"

var errBoomApplier = errors.New("boom")
