package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsProcessing(t *testing.T) {
	assert.True(t, NeedsProcessing("", "v2"))
	assert.True(t, NeedsProcessing("v1", "v2"))
	assert.False(t, NeedsProcessing("v2", "v2"))
}

func TestOutdated(t *testing.T) {
	type bio struct{ name, version string }
	in := []bio{{"a", "v2"}, {"b", ""}, {"c", "v1"}}
	out := Outdated(in, func(b bio) string { return b.version }, "v2")
	assert.Equal(t, []bio{{"b", ""}, {"c", "v1"}}, out)
}
