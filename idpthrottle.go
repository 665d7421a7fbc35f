package idpthrottle

import (
	"github.com/fujie/idp-throttle/pkg/throttle"
)

// Re-export main types for convenience
type (
	Policy     = throttle.Policy
	Class      = throttle.Class
	Result     = throttle.Result
	Decision   = throttle.Decision
	Gatekeeper = throttle.Gatekeeper
	Option     = throttle.Option
)

// New creates a new admission gate
var New = throttle.New
