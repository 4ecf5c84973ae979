package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// UnityVersion is a parsed engine version such as "2021.3.8f1".
type UnityVersion struct {
	Major int
	Minor int
	Patch int
	// Type is the release letter: a, b, f, p or x.
	Type  byte
	Build int
}

func (v UnityVersion) String() string {
	if v.Type == 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d.%d%c%d", v.Major, v.Minor, v.Patch, v.Type, v.Build)
}

// Stripped reports whether the version was blanked by the build pipeline.
func (v UnityVersion) Stripped() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0
}

// ParseUnityVersion parses "major.minor.patch[type build]". Versions with
// only major.minor are accepted.
func ParseUnityVersion(version string) (UnityVersion, error) {
	var v UnityVersion
	if version == "" {
		return v, fmt.Errorf("version string cannot be empty")
	}

	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return v, fmt.Errorf("invalid version format: %s (expected at least major.minor)", version)
	}

	var err error
	if v.Major, err = strconv.Atoi(parts[0]); err != nil {
		return v, fmt.Errorf("invalid major version: %s", parts[0])
	}
	if v.Minor, err = strconv.Atoi(parts[1]); err != nil {
		return v, fmt.Errorf("invalid minor version: %s", parts[1])
	}
	if len(parts) < 3 || parts[2] == "" {
		return v, nil
	}

	rest := parts[2]
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if v.Patch, err = strconv.Atoi(rest[:i]); err != nil {
		return v, fmt.Errorf("invalid patch version: %s", rest)
	}
	if i == len(rest) {
		return v, nil
	}

	v.Type = rest[i]
	if !strings.ContainsRune("abfpx", rune(v.Type)) {
		return v, fmt.Errorf("invalid release type %q in %s", v.Type, version)
	}
	build := rest[i+1:]
	// Chinese editor builds append a suffix such as "c1".
	if j := strings.IndexFunc(build, func(r rune) bool { return r < '0' || r > '9' }); j >= 0 {
		build = build[:j]
	}
	if v.Build, err = strconv.Atoi(build); err != nil {
		return v, fmt.Errorf("invalid build number in %s", version)
	}
	return v, nil
}

// Compare returns -1, 0 or 1 as v sorts before, equal to or after o.
func (v UnityVersion) Compare(o UnityVersion) int {
	a := []int{v.Major, v.Minor, v.Patch, int(v.Type), v.Build}
	b := []int{o.Major, o.Minor, o.Patch, int(o.Type), o.Build}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}
