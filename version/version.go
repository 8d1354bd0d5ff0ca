package version

import "strconv"

// Server version reported during the connection handshake. Major/minor/
// maintenance follow the client compatibility matrix; Stage distinguishes
// pre-release builds.
const (
	Major       = 2
	Minor       = 1
	Maintenance = 0
	Stage       = "stable"
)

// Build metadata, overridable at link time:
//
//	go build -ldflags "-X github.com/burrowdb/burrow/version.BuildHash=..."
var (
	BuildHash      = "unknown"
	BuildTimestamp = "0"
)

// Info is the version tuple exchanged in the handshake acknowledgment.
type Info struct {
	Major          byte
	Minor          byte
	Maintenance    byte
	Stage          string
	BuildTimestamp int64
	BuildHash      []byte
}

// Current returns the version info for this build.
func Current() Info {
	ts, _ := strconv.ParseInt(BuildTimestamp, 10, 64)
	return Info{
		Major:          Major,
		Minor:          Minor,
		Maintenance:    Maintenance,
		Stage:          Stage,
		BuildTimestamp: ts,
		BuildHash:      []byte(BuildHash),
	}
}
