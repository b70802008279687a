// Package status fills the LED markers of the status page.
package status

import "bytes"

// Placeholder tokens in the page template. Each is replaced by a value of
// the same width, so the page never changes length.
var (
	ClassToken = []byte("CCC")
	TextToken  = []byte("TTT")
)

var (
	classOn  = []byte("on ")
	classOff = []byte("off")
	textOn   = []byte("ON ")
	textOff  = []byte("OFF")
)

// Render returns a copy of template with every ClassToken and TextToken
// replaced for the given LED state. Tokens are matched left to right and
// never overlap. template is not modified.
func Render(template []byte, on bool) []byte {
	class, text := classOff, textOff
	if on {
		class, text = classOn, textOn
	}

	out := make([]byte, len(template))
	copy(out, template)

	for i := 0; i+len(ClassToken) <= len(out); {
		switch {
		case bytes.HasPrefix(template[i:], ClassToken):
			copy(out[i:], class)
			i += len(ClassToken)
		case bytes.HasPrefix(template[i:], TextToken):
			copy(out[i:], text)
			i += len(TextToken)
		default:
			i++
		}
	}
	return out
}
