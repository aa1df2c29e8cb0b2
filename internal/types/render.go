package types

import (
	"fmt"
	"regexp"
	"strings"
)

// RenderSpec is the structure serialized to qrender.json. It enumerates each
// sub-question's template and inputs so a client can render the question
// without understanding the HTML.
type RenderSpec struct {
	Title        string        `json:"title"`
	SubQuestions []SubQuestion `json:"sub_questions"`
}

type SubQuestion struct {
	Template string        `json:"template"`
	Inputs   []RenderInput `json:"inputs"`
	Hints    []string      `json:"hints,omitempty"`
}

type RenderInput struct {
	Name         string         `json:"name"`
	Label        string         `json:"label"`
	Type         string         `json:"type"`                 // number | multiple_choice | string
	Comparison   string         `json:"comparison,omitempty"` // sigfig | exact
	Digits       int            `json:"digits,omitempty"`
	Units        string         `json:"units,omitempty"`
	Options      []RenderOption `json:"options,omitempty"`
	MultiCorrect bool           `json:"multi_correct,omitempty"`
}

type RenderOption struct {
	Label   string `json:"label"`
	Correct bool   `json:"correct"`
}

var snakeCaseRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate enforces the qrender contract: snake_cased unique input names,
// sigfig|exact comparison with a positive digit count for numerics, and
// exactly one correct option for single-answer multiple choice.
func (r *RenderSpec) Validate() error {
	if len(r.SubQuestions) == 0 {
		return fmt.Errorf("render spec has no sub-questions")
	}
	seen := map[string]bool{}
	for i, sq := range r.SubQuestions {
		if strings.TrimSpace(sq.Template) == "" {
			return fmt.Errorf("sub-question %d: empty template", i)
		}
		for _, in := range sq.Inputs {
			if !snakeCaseRe.MatchString(in.Name) {
				return fmt.Errorf("input %q: name must be snake_case", in.Name)
			}
			if seen[in.Name] {
				return fmt.Errorf("input %q: duplicate name within question", in.Name)
			}
			seen[in.Name] = true
			if strings.TrimSpace(in.Label) == "" {
				return fmt.Errorf("input %q: missing label", in.Name)
			}
			switch in.Type {
			case "number":
				if in.Comparison != "sigfig" && in.Comparison != "exact" {
					return fmt.Errorf("input %q: comparison must be sigfig or exact", in.Name)
				}
				if in.Digits <= 0 {
					return fmt.Errorf("input %q: digits must be positive", in.Name)
				}
			case "multiple_choice":
				if len(in.Options) == 0 {
					return fmt.Errorf("input %q: multiple choice without options", in.Name)
				}
				correct := 0
				for _, opt := range in.Options {
					if opt.Correct {
						correct++
					}
				}
				if in.MultiCorrect {
					if correct == 0 {
						return fmt.Errorf("input %q: multi-correct choice needs at least one correct option", in.Name)
					}
				} else if correct != 1 {
					return fmt.Errorf("input %q: expected exactly one correct option, got %d", in.Name, correct)
				}
			case "string":
			default:
				return fmt.Errorf("input %q: unknown type %q", in.Name, in.Type)
			}
		}
	}
	return nil
}

// Normalize fills contract defaults in place: digits default to 3 and
// numeric inputs without a comparison mode compare by sigfig.
func (r *RenderSpec) Normalize() {
	for si := range r.SubQuestions {
		for ii := range r.SubQuestions[si].Inputs {
			in := &r.SubQuestions[si].Inputs[ii]
			if in.Type == "number" {
				if in.Comparison == "" {
					in.Comparison = "sigfig"
				}
				if in.Digits <= 0 {
					in.Digits = 3
				}
			}
		}
	}
}
