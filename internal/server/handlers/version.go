package handlers

import (
	"net/http"
	"runtime"
	"sync"
)

// VersionInfo is the body of /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
)

// SetVersionInfo records the build metadata reported by /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	versionInfo = VersionInfo{Version: version, Commit: commit, BuildDate: buildDate}
}

// VersionHandler reports build metadata.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	versionMu.RLock()
	info := versionInfo
	versionMu.RUnlock()
	info.GoVersion = runtime.Version()
	writeJSON(w, http.StatusOK, info)
}
