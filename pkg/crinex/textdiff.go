package crinex

// TextDiff is a per-character ASCII differential codec. It keeps one
// mutable string S and supports three operations: Init sets S from a
// literal snapshot, Apply advances S by a delta, and Diff produces the
// delta that advances S to a new target value.
//
// In a delta, a space means "this column of S is unchanged"; any other
// byte replaces that column verbatim. A delta longer than the current S
// grows S with its trailing bytes copied literally -- a space in a
// position past the current length is a real space, not a no-op, since
// there is nothing there yet to leave unchanged.
type TextDiff struct {
	buf []byte
}

// NewTextDiff returns a TextDiff with an empty initial value.
func NewTextDiff() *TextDiff {
	return &TextDiff{}
}

// Init sets S to literal, discarding any previous value.
func (t *TextDiff) Init(literal string) {
	t.buf = []byte(literal)
}

// String returns the current value of S.
func (t *TextDiff) String() string {
	return string(t.buf)
}

// Len returns the current length of S.
func (t *TextDiff) Len() int {
	return len(t.buf)
}

// Apply advances S by delta and returns the new S.
func (t *TextDiff) Apply(delta string) string {
	n := len(t.buf)
	if len(delta) > n {
		grown := make([]byte, len(delta))
		copy(grown, t.buf)
		t.buf = grown
	}
	for i := 0; i < len(delta); i++ {
		if i < n && delta[i] == ' ' {
			continue
		}
		t.buf[i] = delta[i]
	}
	return string(t.buf)
}

// Diff returns the delta that would advance the current S to target,
// then sets S := target.
func (t *TextDiff) Diff(target string) string {
	delta := make([]byte, len(target))
	for i := 0; i < len(target); i++ {
		if i < len(t.buf) && t.buf[i] == target[i] {
			delta[i] = ' '
		} else {
			delta[i] = target[i]
		}
	}
	t.buf = []byte(target)
	return string(delta)
}
