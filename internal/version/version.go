// Package version reports the build version of the chat binaries.
package version

import "github.com/blang/semver/v4"

// raw is overridden at link time:
//
//	go build -ldflags "-X github.com/andy6609/roster-chat/internal/version.raw=1.2.0"
var raw = "0.3.0"

// Get parses the linked version. A malformed value reports 0.0.0+unknown.
func Get() semver.Version {
	return parse(raw)
}

func parse(s string) semver.Version {
	v, err := semver.ParseTolerant(s)
	if err != nil {
		return semver.Version{Build: []string{"unknown"}}
	}
	return v
}
