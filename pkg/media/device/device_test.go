package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, Config{Width: 640, Height: 480, VideoBitRate: 500_000}, c)

	c = Config{Width: 1280, Height: 720, VideoBitRate: 1_500_000}.withDefaults()
	assert.Equal(t, 1280, c.Width)
	assert.Equal(t, 1_500_000, c.VideoBitRate)
}
