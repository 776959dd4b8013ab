package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectHost(t *testing.T) {
	env := map[string]string{}
	getenv := func(name string) string { return env[name] }

	assert.Equal(t, Local, detectHost(getenv))

	env["RENKU_MOUNT_DIR"] = "/home/jovyan/work"
	assert.Equal(t, RenkuLab, detectHost(getenv))
}

func TestSupported(t *testing.T) {
	assert.True(t, Linux.Supported())
	assert.True(t, MacOS.Supported())
	assert.False(t, Unknown.Supported())
	assert.False(t, OS("windows").Supported())
	assert.Equal(t, Detect().Supported(), IsSupported())
}
