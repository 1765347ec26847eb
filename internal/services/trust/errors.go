package trust

import "errors"

// ErrInvalidScore is returned by AdjustTrustScore for scores outside the
// allowed bounds.
var ErrInvalidScore = errors.New("trust score must be between 0 and 100")
