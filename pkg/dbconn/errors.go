package dbconn

import "errors"

var (
	ErrConnectionFailed = errors.New("could not connect to server")
	ErrSettingNotFound  = errors.New("server setting not found")
	ErrBadComparison    = errors.New("unsupported setting comparison operator")
)
