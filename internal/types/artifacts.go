package types

import "strings"

// Recognized artifact filenames under a question prefix.
const (
	FileQuestionHTML = "question.html"
	FileSolutionHTML = "solution.html"
	FileServerJS     = "server.js"
	FileServerPy     = "server.py"
	FileMetadata     = "metadata.json"
	FileRenderSpec   = "qrender.json"

	// ClientFilesPrefix holds user-uploaded assets (images) inside a
	// question prefix.
	ClientFilesPrefix = "clientFiles"
)

// CanonicalName normalizes a label for comparison and storage: trim then
// lowercase. Two labels are the same label iff their canonical forms match.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CanonicalNames maps CanonicalName over a slice, dropping empties and
// duplicates while preserving first-seen order.
func CanonicalNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		c := CanonicalName(n)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
