// Package transcript stitches transcription fragments into one running text.
package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// ErrOutOfOrder is returned when a fragment arrives with an unexpected
// sequence number.
var ErrOutOfOrder = errors.New("fragment applied out of order")

// Fragment is the text of one dispatch. Seq starts at 1 and increases by one
// per dispatch.
type Fragment struct {
	Seq  uint64
	Text string
}

// Assembler holds the running transcript of a session.
type Assembler struct {
	mu   sync.Mutex
	text string
	next uint64
}

// New creates an empty assembler expecting Seq 1.
func New() *Assembler {
	return &Assembler{next: 1}
}

// Apply merges f into the running text and returns the result.
func (a *Assembler) Apply(f Fragment) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f.Seq != a.next {
		return a.text, fmt.Errorf("%w: expected seq %d, got %d", ErrOutOfOrder, a.next, f.Seq)
	}
	a.next++
	a.text = Merge(a.text, f.Text)
	return a.text, nil
}

// Text returns the running transcript.
func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// Reset clears the text and expects Seq 1 again.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.text = ""
	a.next = 1
}

// Merge joins fragment onto running. The fragment is trimmed and ignored if
// empty. After an empty running text or a sentence terminator the fragment
// starts with a capital letter; a single space separates the two unless
// running already ends in whitespace.
func Merge(running, fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return running
	}
	if running == "" {
		return capitalize(fragment)
	}

	if endsSentence(running) {
		fragment = capitalize(fragment)
	}
	if endsWithSpace(running) {
		return running + fragment
	}
	return running + " " + fragment
}

func endsSentence(s string) bool {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(r)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
