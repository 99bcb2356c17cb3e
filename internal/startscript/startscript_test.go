package startscript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSection_PreservesInsertionOrder(t *testing.T) {
	sec := NewSection("PLAYER0")
	sec.Set("Name", "Alice")
	sec.Set("Team", 0)
	sec.Set("Name", "AliceRenamed") // re-set keeps position, updates value

	var b strings.Builder
	sec.write(&b)
	out := b.String()

	nameIdx := strings.Index(out, "Name=")
	teamIdx := strings.Index(out, "Team=")
	assert.Less(t, nameIdx, teamIdx)
	assert.Contains(t, out, "Name=AliceRenamed;")
}

func TestRenderSettings_SortedDeterministicOutput(t *testing.T) {
	out := RenderSettings(map[string]string{
		"b": "2",
		"a": "1",
	})
	assert.Less(t, strings.Index(out, "a=1"), strings.Index(out, "b=2"))
}
