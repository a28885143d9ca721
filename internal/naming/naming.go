// Package naming generates handler and job names when the caller
// doesn't supply one. It pairs a small cosmetic theme dictionary with
// a github.com/google/uuid suffix to keep generated names readable
// while staying collision-resistant in practice.
package naming

import (
	"fmt"

	"github.com/google/uuid"
)

// Theme is a word list used to build cosmetic names. A handler's
// configuration may override DefaultTheme with its own word list.
type Theme []string

// DefaultTheme is used when a handler's configuration sets no theme.
var DefaultTheme = Theme{
	"badger", "falcon", "otter", "heron", "lynx",
	"marten", "swift", "wren", "osprey", "mole",
}

var seq int

// Generate returns a cosmetic name of the form "<word>-<shortUUID>". It
// never collides in practice because of the UUID suffix; callers still
// must check the result against the JobStore before relying on
// uniqueness, since a caller-supplied name could collide with it.
func Generate(theme Theme) string {
	if len(theme) == 0 {
		theme = DefaultTheme
	}
	seq++
	word := theme[seq%len(theme)]
	return fmt.Sprintf("%s-%s", word, shortUUID())
}

func shortUUID() string {
	id := uuid.New()
	return id.String()[:8]
}
