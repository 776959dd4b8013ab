// Package platform identifies where the bootstrap is running.
package platform

import (
	"os"
	"runtime"
)

// OS represents a supported operating system.
type OS string

const (
	MacOS   OS = "darwin"
	Linux   OS = "linux"
	Unknown OS = "unknown"
)

// Host is the environment hosting the session.
type Host string

const (
	RenkuLab Host = "renkulab"
	Local    Host = "local"
)

// renkuMarkers are set by the RenkuLab session launcher.
var renkuMarkers = []string{
	"RENKU_SESSION",
	"RENKU_MOUNT_DIR",
	"RENKU_WORKING_DIR",
	"RENKU_USERNAME",
}

// Detect returns the current operating system.
func Detect() OS {
	switch runtime.GOOS {
	case "darwin":
		return MacOS
	case "linux":
		return Linux
	default:
		return Unknown
	}
}

// Supported reports whether verdi and rabbitmq can run on o.
func (o OS) Supported() bool {
	return o == MacOS || o == Linux
}

// IsSupported returns true if the current OS is supported.
func IsSupported() bool {
	return Detect().Supported()
}

// DetectHost reports whether the process runs inside a RenkuLab session.
func DetectHost() Host {
	return detectHost(os.Getenv)
}

func detectHost(getenv func(string) string) Host {
	for _, name := range renkuMarkers {
		if getenv(name) != "" {
			return RenkuLab
		}
	}
	return Local
}
