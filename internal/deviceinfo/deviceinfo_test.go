package deviceinfo_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nucleus/geo-linker/internal/deviceinfo"
)

func TestCollect_PopulatesPlatformAndGoVersion(t *testing.T) {
	info := deviceinfo.Collect()
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, runtime.Version(), info.GoVer)
	assert.Equal(t, runtime.GOARCH, info.Machine)
}

func TestGitCommitHash_NeverReturnsEmptyString(t *testing.T) {
	hash := deviceinfo.GitCommitHash()
	assert.NotEmpty(t, hash, "GitCommitHash must degrade to \"unknown\" rather than an empty string")
}
