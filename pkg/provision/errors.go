package provision

import "errors"

var (
	ErrDestDirOccupied    = errors.New("destination directory exists and is not empty")
	ErrRemapsUnsupported  = errors.New("tablespace remapping requires a newer server version")
	ErrTablespaceNotFound = errors.New("tablespace directory not present on upstream server")
	ErrConfigCopyFailed   = errors.New("failed to copy configuration file from upstream host")
)
