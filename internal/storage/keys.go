package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportKey lays exports out per principal and session:
//
//	exports/<principal>/<session>/date=YYYY-MM-DD/<artefact>-<HHMMSS>-<suffix>.<ext>
//
// The suffix keeps keys unique when one session exports twice in a second.
func BuildExportKey(principal, sessionID, artefact string, at time.Time, suffix, ext string) (string, error) {
	if strings.TrimSpace(principal) == "" {
		principal = "anonymous"
	}
	for _, part := range []struct{ value, field string }{
		{principal, "principal"},
		{sessionID, "session id"},
		{artefact, "artefact"},
		{suffix, "suffix"},
		{ext, "extension"},
	} {
		if err := validateKeyComponent(part.value, part.field); err != nil {
			return "", err
		}
	}

	ts := at.UTC()
	return path.Join(
		"exports",
		principal,
		sessionID,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s-%02d%02d%02d-%s.%s", artefact, ts.Hour(), ts.Minute(), ts.Second(), suffix, ext),
	), nil
}

func validateKeyComponent(value, field string) error {
	if !keyComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
