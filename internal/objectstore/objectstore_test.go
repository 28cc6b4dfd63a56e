package objectstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_JoinsPrefixRunIDAndRelPath(t *testing.T) {
	s := &Store{basePrefix: "geo-linker"}
	assert.Equal(t, "geo-linker/run-1/outputs/gsm.jsonl", s.key("run-1", "outputs/gsm.jsonl"))
}

func TestKey_OmitsRelPathWhenEmpty(t *testing.T) {
	s := &Store{basePrefix: "geo-linker"}
	assert.Equal(t, "geo-linker/run-1", s.key("run-1", ""))
}

func TestKey_TrimsLeadingAndTrailingSlashes(t *testing.T) {
	s := &Store{basePrefix: ""}
	assert.Equal(t, "run-1/a.json", s.key("run-1", "a.json"))
}

func TestGetenv_FallsBackToDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("OBJECTSTORE_TEST_KEY")
	assert.Equal(t, "fallback", getenv("OBJECTSTORE_TEST_KEY", "fallback"))
}

func TestGetenv_PrefersSetValue(t *testing.T) {
	os.Setenv("OBJECTSTORE_TEST_KEY", "set-value")
	defer os.Unsetenv("OBJECTSTORE_TEST_KEY")
	assert.Equal(t, "set-value", getenv("OBJECTSTORE_TEST_KEY", "fallback"))
}

func TestNewFromEnv_RequiresEndpoint(t *testing.T) {
	os.Unsetenv("OBJECTSTORE_ENDPOINT")
	os.Unsetenv("OBJECTSTORE_BUCKET")
	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OBJECTSTORE_ENDPOINT")
}

func TestNewFromEnv_RequiresBucket(t *testing.T) {
	os.Setenv("OBJECTSTORE_ENDPOINT", "localhost:9000")
	os.Unsetenv("OBJECTSTORE_BUCKET")
	defer os.Unsetenv("OBJECTSTORE_ENDPOINT")
	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OBJECTSTORE_BUCKET")
}

func TestNewFromEnv_DefaultsPrefixAndBuildsClient(t *testing.T) {
	os.Setenv("OBJECTSTORE_ENDPOINT", "localhost:9000")
	os.Setenv("OBJECTSTORE_BUCKET", "geo-linker-test")
	os.Unsetenv("OBJECTSTORE_PREFIX")
	defer os.Unsetenv("OBJECTSTORE_ENDPOINT")
	defer os.Unsetenv("OBJECTSTORE_BUCKET")

	s, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "geo-linker-test", s.bucket)
	assert.Equal(t, "geo-linker", s.basePrefix)
}
