package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_PrefersLoadedFile(t *testing.T) {
	prev := Env
	t.Cleanup(func() { Env = prev })

	Env = map[string]string{"HP_TEST_KEY": " from-file "}
	t.Setenv("HP_TEST_KEY", "from-os")
	assert.Equal(t, "from-file", GetEnv("HP_TEST_KEY", "def"))

	Env = map[string]string{}
	assert.Equal(t, "from-os", GetEnv("HP_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("HP_TEST_MISSING", "def"))
}

func TestGetEnvBool(t *testing.T) {
	for _, v := range []string{"false", "0", "no", "OFF"} {
		t.Setenv("HP_TEST_BOOL", v)
		assert.False(t, GetEnvBool("HP_TEST_BOOL", true), v)
	}
	t.Setenv("HP_TEST_BOOL", "yes")
	assert.True(t, GetEnvBool("HP_TEST_BOOL", false))
	assert.True(t, GetEnvBool("HP_TEST_BOOL_UNSET", true))
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("HP_TEST_INT", "42")
	assert.Equal(t, int64(42), GetEnvInt64("HP_TEST_INT", 1))
	t.Setenv("HP_TEST_INT", "forty-two")
	assert.Equal(t, int64(1), GetEnvInt64("HP_TEST_INT", 1))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("HP_TEST_DUR", "1500")
	assert.Equal(t, 1500*time.Millisecond, GetEnvDuration("HP_TEST_DUR", time.Second))
	t.Setenv("HP_TEST_DUR", "2m")
	assert.Equal(t, 2*time.Minute, GetEnvDuration("HP_TEST_DUR", time.Second))
	t.Setenv("HP_TEST_DUR", "soon")
	assert.Equal(t, time.Second, GetEnvDuration("HP_TEST_DUR", time.Second))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("HP_TEST_LIST", " a, ,b ,c,")
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvList("HP_TEST_LIST"))
	assert.Nil(t, GetEnvList("HP_TEST_LIST_UNSET"))
}
