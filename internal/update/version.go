package update

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a strict major.minor.patch[-prerelease] release version.
// The zero Version is "no version" and sorts first.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
	// Raw is the input as given, after trimming.
	Raw string

	sv *semver.Version
}

// ParseVersion accepts "1.2.3" and "v1.2.3". Partial versions such as
// "1.2" and build names such as "dev" are rejected with ErrInvalidVersion.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, fmt.Errorf("%w: empty version string", ErrInvalidVersion)
	}
	sv, err := semver.StrictNewVersion(strings.TrimPrefix(raw, "v"))
	if err != nil {
		return Version{}, fmt.Errorf("%w: %s", ErrInvalidVersion, raw)
	}
	return Version{
		Major:      int(sv.Major()),
		Minor:      int(sv.Minor()),
		Patch:      int(sv.Patch()),
		Prerelease: sv.Prerelease(),
		Raw:        raw,
		sv:         sv,
	}, nil
}

func (v Version) IsZero() bool { return v.sv == nil }

// String formats v with a leading "v"; the zero Version is "".
func (v Version) String() string {
	if v.IsZero() {
		return ""
	}
	return "v" + v.sv.String()
}

// Compare returns -1, 0 or 1. Semver precedence applies, so 1.0.0-rc.1
// sorts before 1.0.0.
func (v Version) Compare(other Version) int {
	if v.IsZero() || other.IsZero() {
		switch {
		case v.IsZero() && other.IsZero():
			return 0
		case v.IsZero():
			return -1
		}
		return 1
	}
	return v.sv.Compare(other.sv)
}

func (v Version) LessThan(other Version) bool    { return v.Compare(other) < 0 }
func (v Version) GreaterThan(other Version) bool { return v.Compare(other) > 0 }
func (v Version) Equal(other Version) bool       { return v.Compare(other) == 0 }
