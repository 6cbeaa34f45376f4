// Package compat validates that servers are replication-capable and that
// primary and standby versions can replicate from each other.
package compat

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
)

// Minimum supported server version.
const (
	MinSupportedVersion    = "9.3"
	MinSupportedVersionNum = 90300
)

// DefaultWALKeepSegments is the retention floor applied when replication
// slots are not in use.
const DefaultWALKeepSegments = "5000"

var (
	ErrUnsupportedVersion = errors.New("server version is below the minimum supported version")
	ErrVersionMismatch    = errors.New("primary and standby major versions do not match")
)

// CheckServerVersion verifies the server meets the minimum supported
// version and returns its version number and human-readable form. The role
// string ("primary", "standby", "upstream server") only shapes the error.
func CheckServerVersion(ctx context.Context, db dbconn.DB, role string) (int, string, error) {
	num, str, err := dbconn.ServerVersion(ctx, db)
	if err != nil {
		return 0, "", fmt.Errorf("failed to determine %s version: %w", role, err)
	}

	if num < MinSupportedVersionNum {
		return num, str, fmt.Errorf("%w: %s is %s, need %s or better",
			ErrUnsupportedVersion, role, str, MinSupportedVersion)
	}

	return num, str, nil
}

// VersionEpoch truncates a version number to its major-release epoch:
// 90401 and 90402 share epoch 904, 90300 does not.
func VersionEpoch(versionNum int) int {
	return versionNum / 100
}

// SameMajorVersion reports whether two servers can replicate from each other.
func SameMajorVersion(a, b int) bool {
	return VersionEpoch(a) == VersionEpoch(b)
}

// CheckMajorVersionsMatch returns ErrVersionMismatch when the primary and
// standby are on different major releases.
func CheckMajorVersionsMatch(primaryNum int, primaryStr string, standbyNum int, standbyStr string) error {
	if !SameMajorVersion(primaryNum, standbyNum) {
		return fmt.Errorf("%w: primary is %s, standby is %s",
			ErrVersionMismatch, primaryStr, standbyStr)
	}
	return nil
}
