// Package recoveryconf generates the recovery configuration a standby
// reads at startup to stream changes from its primary.
package recoveryconf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the recovery configuration file name inside a data directory.
const FileName = "recovery.conf"

// DefaultPort is used when no explicit primary port is known.
const DefaultPort = "5432"

var ErrPasswordRequired = errors.New("replication password required but no credential present")

// Settings describe the upstream a standby should stream from. The
// password is never taken from configuration: it comes only from the
// credential lookup (PGPASSWORD by default), with RequirePassword turning
// its absence into an error.
type Settings struct {
	Host            string
	Port            string
	User            string
	ApplicationName string

	// MinRecoveryApplyDelay holds a delay atom like "5min"; empty omits the line.
	MinRecoveryApplyDelay string

	// SlotName is written only when replication-slot mode is enabled.
	SlotName string

	RequirePassword bool

	// LookupPassword overrides the credential source; nil reads PGPASSWORD.
	LookupPassword func() (string, bool)
}

func (s Settings) password() (string, bool) {
	if s.LookupPassword != nil {
		return s.LookupPassword()
	}
	pw, ok := os.LookupEnv("PGPASSWORD")
	return pw, ok && pw != ""
}

// PrimaryConnInfo renders the primary_conninfo value, omitting any field
// whose source value is empty. The port always appears, defaulted if unset.
func (s Settings) PrimaryConnInfo() (string, error) {
	port := s.Port
	if port == "" {
		port = DefaultPort
	}

	parts := []string{"port=" + port}

	if s.Host != "" {
		parts = append(parts, "host="+s.Host)
	}
	if s.User != "" {
		parts = append(parts, "user="+s.User)
	}

	if pw, ok := s.password(); ok {
		parts = append(parts, "password="+pw)
	} else if s.RequirePassword {
		return "", ErrPasswordRequired
	}

	if s.ApplicationName != "" {
		parts = append(parts, "application_name="+s.ApplicationName)
	}

	return strings.Join(parts, " "), nil
}

// Render produces the full recovery configuration file contents, with the
// lines in their fixed order and optional lines absent when unset.
func (s Settings) Render() (string, error) {
	conninfo, err := s.PrimaryConnInfo()
	if err != nil {
		return "", err
	}

	var b strings.Builder

	b.WriteString("standby_mode = 'on'\n")
	fmt.Fprintf(&b, "primary_conninfo = '%s'\n", conninfo)
	b.WriteString("recovery_target_timeline = 'latest'\n")

	if s.MinRecoveryApplyDelay != "" {
		fmt.Fprintf(&b, "min_recovery_apply_delay = %s\n", s.MinRecoveryApplyDelay)
	}

	if s.SlotName != "" {
		fmt.Fprintf(&b, "primary_slot_name = %s\n", s.SlotName)
	}

	return b.String(), nil
}

// WriteFile writes the recovery configuration into a data directory.
func (s Settings) WriteFile(dataDir string) error {
	contents, err := s.Render()
	if err != nil {
		return err
	}

	path := filepath.Join(dataDir, FileName)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return fmt.Errorf("failed to write recovery configuration to %s: %w", path, err)
	}

	return nil
}
