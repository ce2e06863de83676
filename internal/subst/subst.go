// Package subst expands per-copy placeholders in command templates.
package subst

import (
	"strconv"
	"strings"
)

// Default placeholder tokens recognised in command templates.
const (
	DefaultCopyToken = "$SPECCOPYNUM"
	DefaultBindToken = "$BIND"
)

// Params holds the values substituted for one copy of a command.
type Params struct {
	CopyToken string
	CopyNum   uint

	// BindToken is only substituted when HasBind is set.
	BindToken string
	Bind      string
	HasBind   bool
}

// Replace returns template with every occurrence of token replaced by value.
// An empty token or a template without the token yields an equal string.
func Replace(template, token, value string) string {
	if token == "" {
		return template
	}
	return strings.ReplaceAll(template, token, value)
}

// Expand applies the bind substitution, then the copy-number substitution.
// Copy numbers are written in decimal without leading zeros.
func Expand(template string, p Params) string {
	cmd := template
	if p.HasBind {
		cmd = Replace(cmd, p.BindToken, p.Bind)
	}
	return Replace(cmd, p.CopyToken, strconv.FormatUint(uint64(p.CopyNum), 10))
}
