package provision

import (
	"fmt"
	"runtime"
)

// Platform identifies a relay release artifact.
type Platform struct {
	OS   string
	Arch string // release naming: amd64, arm64v8, armv7, armv6
}

// archMap translates Go architectures to relay release names per OS.
var archMap = map[string]map[string]string{
	"darwin":  {"amd64": "amd64", "arm64": "arm64"},
	"linux":   {"amd64": "amd64", "arm64": "arm64v8", "arm": "armv7"},
	"windows": {"amd64": "amd64"},
}

var armVariants = map[string]bool{"armv6": true, "armv7": true}

// HostPlatform resolves the release platform of the running binary.
// archOverride selects an explicit release arch (e.g. armv6 on a Pi Zero).
func HostPlatform(archOverride string) (Platform, error) {
	return ResolvePlatform(runtime.GOOS, runtime.GOARCH, archOverride)
}

// ResolvePlatform maps goos/goarch to a release platform.
func ResolvePlatform(goos, goarch, archOverride string) (Platform, error) {
	arches, ok := archMap[goos]
	if !ok {
		return Platform{}, fmt.Errorf("no relay release for os %q", goos)
	}
	if archOverride != "" {
		if goos == "linux" && goarch == "arm" && armVariants[archOverride] {
			return Platform{OS: goos, Arch: archOverride}, nil
		}
		for _, a := range arches {
			if a == archOverride {
				return Platform{OS: goos, Arch: archOverride}, nil
			}
		}
		return Platform{}, fmt.Errorf("no relay release for %s/%s", goos, archOverride)
	}
	arch, ok := arches[goarch]
	if !ok {
		return Platform{}, fmt.Errorf("no relay release for %s/%s", goos, goarch)
	}
	return Platform{OS: goos, Arch: arch}, nil
}

// Ext returns the archive extension of the release.
func (p Platform) Ext() string {
	if p.OS == "windows" {
		return "zip"
	}
	return "tar.gz"
}

// BinaryName is the relay executable's name inside the archive.
func (p Platform) BinaryName() string {
	if p.OS == "windows" {
		return "mediamtx.exe"
	}
	return "mediamtx"
}

// ArchiveName returns e.g. mediamtx_v1.0.0_darwin_amd64.tar.gz.
func (p Platform) ArchiveName(version string) string {
	return fmt.Sprintf("mediamtx_%s_%s_%s.%s", version, p.OS, p.Arch, p.Ext())
}

func (p Platform) String() string { return p.OS + "_" + p.Arch }
