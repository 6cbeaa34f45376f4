package commands

import "errors"

var (
	ErrNodeNotPrimary     = errors.New("node does not report as a primary")
	ErrNodeNotStandby     = errors.New("node does not report as a standby")
	ErrUpstreamUnsuitable = errors.New("upstream server configuration is not suitable for replication")
	ErrHostRequired       = errors.New("a source host must be supplied")
)
