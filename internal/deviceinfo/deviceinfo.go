// Package deviceinfo collects best-effort run provenance (platform/arch,
// optional GPU inventory, git commit hash) recorded verbatim in the run
// manifest. Ported from original_source/src/geo_cleaner/utils_device.py and
// utils_git.py, in the idiom of rishianshu-Nucleus's small os/exec-backed
// helper functions (e.g. ucl-core's connector config loaders).
package deviceinfo

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Info is the device/runtime provenance attached to a run manifest.
type Info struct {
	Platform string   `json:"platform"`
	GoVer    string   `json:"go_version"`
	Machine  string   `json:"machine"`
	GPU      []string `json:"gpu,omitempty"`
}

// Collect gathers best-effort device info; every field degrades gracefully
// (no error return) since this is provenance, not a run precondition.
func Collect() Info {
	info := Info{
		Platform: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVer:    runtime.Version(),
		Machine:  runtime.GOARCH,
	}
	if gpu := tryCommand("nvidia-smi", "--query-gpu=name,driver_version,memory.total", "--format=csv,noheader"); gpu != "" {
		info.GPU = strings.Split(gpu, "\n")
	}
	return info
}

// GitCommitHash returns the current HEAD commit hash, or "unknown" if git
// is unavailable or the working directory is not a repository.
func GitCommitHash() string {
	out := tryCommand("git", "rev-parse", "HEAD")
	if out == "" {
		return "unknown"
	}
	return out
}

func tryCommand(name string, args ...string) string {
	cmd := exec.Command(name, args...)
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
