package buildinfo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetFallsBackWithoutLinkValues(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.Equal(t, "unknown", info.BuildDate)
	assert.NotEmpty(t, info.GoVersion)
}

func TestLinkValuesWin(t *testing.T) {
	oldV, oldD := Version, BuildDate
	t.Cleanup(func() { Version, BuildDate = oldV, oldD })

	Version, BuildDate = "v1.2.3", "2026-10-01"
	info := Get()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "2026-10-01", info.BuildDate)
	assert.True(t, strings.HasSuffix(Release(), "@v1.2.3"))
}
