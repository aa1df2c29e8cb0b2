package codegen

import (
	"regexp"

	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

// Deprecated single-brace placeholder forms written by older prompt
// revisions. The cleanup pass rewrites them to the canonical
// double-square-bracket convention before artifacts are persisted.
var (
	singleBraceParam  = regexp.MustCompile(`\{\{?\s*params\.([A-Za-z0-9_.]+)\s*\}?\}`)
	bareBracketParam  = regexp.MustCompile(`\[\s*params\.([A-Za-z0-9_.]+)\s*\]([^\]]|$)`)
	doubleBracketPass = regexp.MustCompile(`\[\[\s*params\.([A-Za-z0-9_.]+)\s*\]\]`)
)

// CleanupPlaceholders canonicalizes placeholder syntax in one HTML artifact.
func CleanupPlaceholders(html string) string {
	out := doubleBracketPass.ReplaceAllString(html, `[[params.$1]]`)
	out = singleBraceParam.ReplaceAllString(out, `[[params.$1]]`)
	out = bareBracketParam.ReplaceAllString(out, `[[params.$1]]$2`)
	return out
}

func cleanupHTMLFiles(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for name, content := range files {
		if name == types.FileQuestionHTML || name == types.FileSolutionHTML {
			out[name] = CleanupPlaceholders(content)
		} else {
			out[name] = content
		}
	}
	return out
}
