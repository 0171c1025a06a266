// Package transcript accumulates streamed transcript updates into text.
package transcript

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"node.town/scribe/realtime"
)

var partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

// Transcript holds the settled segments of a stream plus the tentative text
// of the segment in progress.
type Transcript struct {
	finals  []string
	partial string
}

func New() *Transcript {
	return &Transcript{}
}

// Apply folds one server message into the transcript. A partial replaces
// the tentative text; a final settles it.
func (t *Transcript) Apply(msg realtime.Message) {
	switch msg.Kind {
	case realtime.Partial:
		t.partial = msg.Text
	case realtime.Final:
		if text := strings.TrimSpace(msg.Text); text != "" {
			t.finals = append(t.finals, text)
		}
		t.partial = ""
	}
}

func (t *Transcript) Partial() string {
	return t.partial
}

func (t *Transcript) Finals() []string {
	return t.finals
}

func (t *Transcript) String() string {
	lines := append([]string{}, t.finals...)
	if t.partial != "" {
		lines = append(lines, t.partial)
	}
	return strings.Join(lines, "\n")
}

// Render is String with the tentative text dimmed.
func (t *Transcript) Render() string {
	var b strings.Builder
	for _, final := range t.finals {
		b.WriteString(final)
		b.WriteString("\n")
	}
	if t.partial != "" {
		b.WriteString(partialStyle.Render(t.partial))
	}
	return b.String()
}
