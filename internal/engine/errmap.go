package engine

import "github.com/hensoldt-cyber/networkstackd/internal/errkind"

// errKindFromEngine maps an engine-internal error code to the core's
// error-kind taxonomy. Unrecognized codes become Generic.
func errKindFromEngine(code int32) errkind.Code {
	switch code {
	case 0:
		return errkind.Success
	default:
		return errkind.Generic
	}
}
