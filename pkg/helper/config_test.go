package helper

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCfgPath(t *testing.T) {
	// panic on empty
	assert.Panics(t, func() { GetCfgPath("") })

	// absolute path returns as-is
	abs := "/tmp/test.yaml"
	assert.Equal(t, abs, GetCfgPath(abs))

	// unknown relative file falls back to /etc/meetupsync
	got := GetCfgPath("definitely-not-here.yaml")
	assert.Equal(t, filepath.Join("/etc/meetupsync", "definitely-not-here.yaml"), got)
}
