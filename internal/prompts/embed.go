// Package prompts provides externalized prompt templates with override support.
package prompts

import "embed"

//go:embed classifier/*.md
var embeddedFS embed.FS
