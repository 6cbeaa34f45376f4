package registry

import "errors"

var (
	ErrSchemaExists    = errors.New("cluster schema already exists")
	ErrSchemaMissing   = errors.New("cluster schema does not exist")
	ErrNoPrimaryRecord = errors.New("no primary node registered for cluster")
	ErrPrimaryExists   = errors.New("cluster already has a registered primary")
	ErrNodeNotFound    = errors.New("node not found in registry")
)
