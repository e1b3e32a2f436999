package version

import (
	"runtime/debug"
	"strings"
	"sync"
)

const modulePath = "github.com/webull-go/webull-api-go"

var (
	goVersion     string
	moduleVersion string
	once          sync.Once
)

// Get returns the running go version and the version of this module as
// recorded in the build info. Either may be empty, e.g. in tests.
func Get() (string, string) {
	once.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		goVersion = info.GoVersion
		if info.Main.Path == modulePath {
			moduleVersion = info.Main.Version
			return
		}
		for _, dep := range info.Deps {
			if strings.HasPrefix(dep.Path, modulePath) {
				moduleVersion = dep.Version
				return
			}
		}
	})
	return goVersion, moduleVersion
}

// UserAgent is sent with the websocket upgrade request
func UserAgent() string {
	gov, modv := Get()
	if modv == "" {
		modv = "(devel)"
	}
	ua := "webull-api-go/" + modv
	if gov != "" {
		ua += " " + gov
	}
	return ua
}
