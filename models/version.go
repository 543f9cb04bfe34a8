package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// the suffix after the hyphen is any run of non-space characters
var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-(\S+))?$`)

var (
	// ErrInvalidVersion is returned when a version string is empty or does not
	// follow the major.minor.patch[-prerelease] form.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrNonConformingVersion is returned for strings with more than three
	// numeric components, e.g. "1.2.3.4".
	ErrNonConformingVersion = errors.New("non-conforming version")
)

// Version is the version of an image or of a package shipped with an image.
//
// A version consists of a major, minor and patch level and an optional
// pre-release string. Major, minor and patch are separated by dots, the
// pre-release is separated by a hyphen:
//
//	1.0.0        major release
//	1.1.0        minor release
//	1.0.1        patch
//	2.1.0-RC0    first release candidate of 2.1.0
//
// Version is an immutable value. The zero value means "no version" and is
// reported as invalid by IsValid.
type Version struct {
	major      uint64
	minor      uint64
	patch      uint64
	preRelease string
	valid      bool
}

// NewVersion creates a version from its components. An empty preRelease
// means the version is a release.
func NewVersion(major, minor, patch uint64, preRelease string) Version {
	return Version{
		major:      major,
		minor:      minor,
		patch:      patch,
		preRelease: preRelease,
		valid:      true,
	}
}

// ParseVersion parses a version string of the form "N.N.N" or "N.N.N-suffix".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty version string", ErrInvalidVersion)
	}

	core := s
	if i := strings.IndexByte(core, '-'); i >= 0 {
		core = core[:i]
	}
	if strings.Count(core, ".") > 2 {
		return Version{}, fmt.Errorf("%w: %q has more than three numeric components", ErrNonConformingVersion, s)
	}

	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q does not match major.minor.patch[-suffix]", ErrInvalidVersion, s)
	}

	var parts [3]uint64
	for i := range parts {
		n, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
		}
		parts[i] = n
	}

	return NewVersion(parts[0], parts[1], parts[2], m[4]), nil
}

// MustParseVersion is like ParseVersion but panics on malformed input.
// It is intended for constants and tests.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Major returns the major version number.
func (v Version) Major() uint64 { return v.major }

// Minor returns the minor version number.
func (v Version) Minor() uint64 { return v.minor }

// Patch returns the patch level.
func (v Version) Patch() uint64 { return v.patch }

// PreRelease returns the pre-release string and whether one is set.
func (v Version) PreRelease() (string, bool) {
	return v.preRelease, v.preRelease != ""
}

// IsValid reports whether v was produced by ParseVersion or NewVersion.
func (v Version) IsValid() bool { return v.valid }

// IsPreRelease reports whether v carries a pre-release string.
func (v Version) IsPreRelease() bool { return v.preRelease != "" }

// String renders the version as "major.minor.patch[-prerelease]".
// The zero value renders as an empty string.
func (v Version) String() string {
	if !v.valid {
		return ""
	}
	if v.preRelease == "" {
		return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
	}
	return fmt.Sprintf("%d.%d.%d-%s", v.major, v.minor, v.patch, v.preRelease)
}

// Compare returns -1, 0 or 1 depending on whether v is lower than, equal to
// or higher than o.
//
// Major, minor and patch are compared numerically. On a tie a release is
// higher than a pre-release of the same level, and two pre-releases are
// ordered by plain string comparison ("alpha" < "beta" < "rc1").
func (v Version) Compare(o Version) int {
	if d := compareUint(v.major, o.major); d != 0 {
		return d
	}
	if d := compareUint(v.minor, o.minor); d != 0 {
		return d
	}
	if d := compareUint(v.patch, o.patch); d != 0 {
		return d
	}
	switch {
	case v.preRelease == "" && o.preRelease == "":
		return 0
	case v.preRelease == "":
		return 1
	case o.preRelease == "":
		return -1
	}
	return strings.Compare(v.preRelease, o.preRelease)
}

// CompareVersions is the free-function form of Version.Compare.
func CompareVersions(a, b Version) int {
	return a.Compare(b)
}

// Equal reports whether both versions have the same components.
func (v Version) Equal(o Version) bool {
	return v.valid == o.valid && v.Compare(o) == 0
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalJSON renders the version as a JSON string, or null for the zero value.
func (v Version) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts a JSON string in the textual version form. A JSON
// null leaves the version unset.
func (v *Version) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Version{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: version must be a string", ErrInvalidVersion)
	}
	return v.UnmarshalText([]byte(s))
}
