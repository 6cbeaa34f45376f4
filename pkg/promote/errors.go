package promote

import "errors"

var (
	ErrNotStandby         = errors.New("node is not in standby mode")
	ErrPrimaryStillActive = errors.New("a reachable primary already exists in the cluster")
	ErrPromoteTimeout     = errors.New("node did not report as primary before the timeout")
	ErrNodeUnreachable    = errors.New("node became unreachable")
	ErrRestartFailed      = errors.New("failed to restart local service")
)
