package compat

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-replmgr/pkg/dbconn"
)

// UpstreamCheckOptions control which retention mechanism an upstream is
// expected to provide.
type UpstreamCheckOptions struct {
	UseReplicationSlots bool
	// WALKeepSegmentsFloor is the minimum wal_keep_segments value required
	// when slots are not in use; empty means DefaultWALKeepSegments.
	WALKeepSegmentsFloor string
}

// Problem is one unmet upstream configuration condition, naming the exact
// parameter so an operator can fix it directly.
type Problem struct {
	Parameter string
	Detail    string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Parameter, p.Detail)
}

// CheckUpstreamConfig validates that an upstream's server parameters permit
// replication. Every check is evaluated independently so the caller sees
// all problems at once; the returned slice is empty when the upstream is
// correctly configured.
func CheckUpstreamConfig(ctx context.Context, db dbconn.DB, serverVersionNum int, opts UpstreamCheckOptions) []Problem {
	var problems []Problem

	report := func(parameter, detail string) {
		problems = append(problems, Problem{Parameter: parameter, Detail: detail})
	}

	check := func(parameter, op, expected, sqlType, detail string) {
		var ok bool
		var err error
		if sqlType == "" {
			ok, err = dbconn.SettingMatches(ctx, db, parameter, op, expected)
		} else {
			ok, err = dbconn.SettingMatchesTyped(ctx, db, parameter, op, expected, sqlType)
		}
		if err != nil {
			report(parameter, fmt.Sprintf("could not be checked: %v", err))
			return
		}
		if !ok {
			report(parameter, detail)
		}
	}

	check("wal_level", "=", "hot_standby", "",
		"must be set to 'hot_standby'")

	if opts.UseReplicationSlots {
		if serverVersionNum < 90400 {
			report("use_replication_slots",
				fmt.Sprintf("requires server version 9.4 or later, have %d", serverVersionNum))
		} else {
			check("max_replication_slots", ">=", "1", "integer",
				"must be at least 1 when replication slots are in use")
		}
	} else {
		floor := opts.WALKeepSegmentsFloor
		if floor == "" {
			floor = DefaultWALKeepSegments
		}
		check("wal_keep_segments", ">=", floor, "integer",
			fmt.Sprintf("must be %s or greater (or enable use_replication_slots on 9.4+)", floor))
	}

	check("archive_mode", "=", "on", "",
		"must be set to 'on'")

	check("hot_standby", "=", "on", "",
		"must be set to 'on'")

	check("max_wal_senders", ">", "0", "integer",
		"must be at least 1")

	return problems
}
