package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tmpl := []byte(`<span class="CCC">TTT</span>`)

	on := Render(tmpl, true)
	assert.Equal(t, `<span class="on ">ON </span>`, string(on))

	off := Render(tmpl, false)
	assert.Equal(t, `<span class="off">OFF</span>`, string(off))

	assert.Equal(t, `<span class="CCC">TTT</span>`, string(tmpl), "template must not change")
}

func TestRenderPreservesLength(t *testing.T) {
	cases := []string{
		"",
		"CC",
		"CCC",
		"CCCC",
		"TTTTTT",
		"xCCCTTTy",
		"CCCCCC TTT CC",
		"no markers here",
	}
	for _, c := range cases {
		for _, on := range []bool{true, false} {
			out := Render([]byte(c), on)
			require.Len(t, out, len(c), "template %q", c)
		}
	}
}

func TestRenderNonOverlapping(t *testing.T) {
	assert.Equal(t, "on C", string(Render([]byte("CCCC"), true)))
	assert.Equal(t, "OFFOFF", string(Render([]byte("TTTTTT"), false)))
	assert.Equal(t, "CC", string(Render([]byte("CC"), true)))
}
