package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Descriptor is the content of metadata.json: the authoritative record
// inside a question prefix, sufficient to recreate the DB row during sync.
type Descriptor struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	AIGenerated bool     `json:"ai_generated"`
	IsAdaptive  bool     `json:"is_adaptive"`
	CreatedBy   string   `json:"created_by,omitempty"`
	UserID      *int64   `json:"user_id,omitempty"`
	Topics      []string `json:"topics"`
	Languages   []string `json:"languages"`
	QTypes      []string `json:"qtypes"`
}

// ParseDescriptor decodes and sanity-checks a metadata.json payload. An
// empty title is tolerated; the caller decides whether a missing ID matters.
func ParseDescriptor(raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	d.Title = strings.TrimSpace(d.Title)
	d.Topics = CanonicalNames(d.Topics)
	d.Languages = CanonicalNames(d.Languages)
	d.QTypes = CanonicalNames(d.QTypes)
	return &d, nil
}

// DescriptorFromQuestion projects a Question row into descriptor form.
func DescriptorFromQuestion(q *Question) Descriptor {
	d := Descriptor{
		ID:          q.ID.String(),
		Title:       q.Title,
		AIGenerated: q.AIGenerated,
		IsAdaptive:  q.IsAdaptive,
		CreatedBy:   q.CreatedBy,
		UserID:      q.UserID,
		Topics:      []string{},
		Languages:   []string{},
		QTypes:      []string{},
	}
	for _, t := range q.Topics {
		d.Topics = append(d.Topics, t.Name)
	}
	for _, l := range q.Languages {
		d.Languages = append(d.Languages, l.Name)
	}
	for _, qt := range q.QTypes {
		d.QTypes = append(d.QTypes, qt.Name)
	}
	return d
}

// ToJSONPretty renders structured content with the canonical two-space
// indent used for every JSON artifact written to storage.
func ToJSONPretty(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
