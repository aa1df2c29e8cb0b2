package codegen

// Prompts and response schemas for the generation nodes. Every call uses
// strict structured output, so each schema closes additionalProperties and
// lists all fields as required.

const metadataSystem = `You classify STEM practice questions for an
adaptive-learning platform. Given a question, produce a short title, a list
of lowercase topic tags, and whether the question is adaptive. A question is
adaptive when its numeric givens can be randomized and the answer recomputed
from them; pure fact-recall or fixed-answer questions are not adaptive.`

const questionHTMLSystem = `You write question templates for an
adaptive-learning platform. Produce a self-contained HTML fragment for the
given question. Every dynamic value must appear as a placeholder of the form
[[params.<name>]] and answer fields reference
[[params.correct_answers.<name>]]. Use $...$ for inline math and $$...$$
for display math. Do not include <html> or <body> wrappers. Follow the
structure of the provided examples when they are relevant.`

const solutionHTMLSystem = `You write worked-solution templates for an
adaptive-learning platform. Given a question and its HTML template, produce
an HTML fragment walking through the solution step by step. Reference the
same [[params.<name>]] placeholders as the question template so the solution
renders with the same randomized values. Use $...$ and $$...$$ math
delimiters.`

const serverJSSystem = `You write JavaScript generator modules for an
adaptive-learning platform. Produce a CommonJS module exporting a function
named generate. generate() must randomize the question parameters, compute
the correct answers from them, and return an object with keys: params,
correct_answers, and optionally intermediate, test_results ({pass, message})
and nDigits/sigfigs. When generate receives a numeric argument it runs in
self-test mode: use fixed seed values and set test_results.pass to 1 when
the computed answers check out, 0 otherwise. Use only the standard library.`

const serverPySystem = `You write Python generator modules for an
adaptive-learning platform. Produce a module defining a function named
generate. generate() must randomize the question parameters, compute the
correct answers from them, and return a dict with keys: params,
correct_answers, and optionally intermediate, test_results ({pass, message})
and nDigits/sigfigs. When generate receives a numeric argument it runs in
self-test mode: use fixed seed values and set test_results["pass"] to 1 when
the computed answers check out, 0 otherwise. Use only the standard library.`

const reviewSystem = `You review an artifact set for one generated question:
the question HTML, solution HTML, and two server generator programs. Check
that placeholders, parameter names, and computed answers agree across all
four files and that each program returns the required shape. Grade "yes"
when any file needs modification and list each such file with a concrete
repair approach. Grade "no" when the set is coherent.`

const modifySystem = `You repair one generated artifact file. Apply the
requested approach to the current content and return the complete corrected
file. Keep placeholder conventions ([[params.<name>]]) and the generate
entrypoint contract intact. Return empty content only if no change is
needed.`

const renderSpecSystem = `You describe how a generated question should be
rendered. Given the question and solution HTML, enumerate each sub-question
with its template text and its input fields. Input names must be snake_case
and unique. Numeric inputs carry a comparison mode (sigfig or exact), a
digit count, and optional units. Multiple-choice inputs carry options with
exactly one marked correct unless the question genuinely has several correct
answers.`

const extractImagesSystem = `You transcribe STEM practice questions from
photographed or scanned pages. Extract each distinct question as free text,
preserving all numeric givens and units. When OCR hints are provided, use
them to resolve hard-to-read symbols. Ignore page furniture such as headers,
numbering, and margins.`

func metadataSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"title", "topics", "is_adaptive"},
		"properties": map[string]any{
			"title":       map[string]any{"type": "string"},
			"topics":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"is_adaptive": map[string]any{"type": "boolean"},
		},
	}
}

func fileSchema(key string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{key},
		"properties": map[string]any{
			key: map[string]any{"type": "string"},
		},
	}
}

func reviewSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"grade", "files_to_modify"},
		"properties": map[string]any{
			"grade": map[string]any{"type": "string", "enum": []string{"yes", "no"}},
			"files_to_modify": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"name", "approach"},
					"properties": map[string]any{
						"name":     map[string]any{"type": "string"},
						"approach": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func renderSpecSchema() map[string]any {
	inputSchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"name", "label", "type", "comparison", "digits", "units", "options", "multi_correct"},
		"properties": map[string]any{
			"name":       map[string]any{"type": "string"},
			"label":      map[string]any{"type": "string"},
			"type":       map[string]any{"type": "string", "enum": []string{"number", "multiple_choice", "string"}},
			"comparison": map[string]any{"type": "string", "enum": []string{"sigfig", "exact", ""}},
			"digits":     map[string]any{"type": "integer"},
			"units":      map[string]any{"type": "string"},
			"options": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"label", "correct"},
					"properties": map[string]any{
						"label":   map[string]any{"type": "string"},
						"correct": map[string]any{"type": "boolean"},
					},
				},
			},
			"multi_correct": map[string]any{"type": "boolean"},
		},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"title", "sub_questions"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"sub_questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"template", "inputs", "hints"},
					"properties": map[string]any{
						"template": map[string]any{"type": "string"},
						"inputs":   map[string]any{"type": "array", "items": inputSchema},
						"hints":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
		},
	}
}

func extractedQuestionsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"questions"},
		"properties": map[string]any{
			"questions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}
