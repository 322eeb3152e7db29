package mapping

import (
	"strconv"
	"strings"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

const (
	openMarker  = "${{"
	closeMarker = "}}"
)

// Token is one ${{ ... }} reference inside a mapping value.
type Token struct {
	Start int    // byte offset of "${{"
	End   int    // byte offset just past "}}"
	Expr  string // trimmed text between the markers
}

// Whole reports whether the token spans the entire value.
func (t Token) Whole(value string) bool {
	return t.Start == 0 && t.End == len(value)
}

// Scan returns the tokens of value in order. Unclosed, empty and nested
// tokens are INVALID_EXPRESSION errors.
func Scan(value string) ([]Token, error) {
	var tokens []Token

	i := 0
	for i < len(value) {
		idx := strings.Index(value[i:], openMarker)
		if idx == -1 {
			break
		}
		start := i + idx
		body := start + len(openMarker)

		end := strings.Index(value[body:], closeMarker)
		if end == -1 {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidExpression,
				"unclosed %s expression at offset %d", openMarker, start).
				WithDetails(map[string]any{"value": value, "offset": start})
		}
		end += body

		expr := strings.TrimSpace(value[body:end])
		if strings.Contains(expr, openMarker) {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidExpression,
				"nested %s is not allowed at offset %d", openMarker, start).
				WithDetails(map[string]any{"value": value, "offset": start})
		}
		if expr == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidExpression,
				"empty reference at offset %d", start).
				WithDetails(map[string]any{"value": value, "offset": start})
		}

		tokens = append(tokens, Token{Start: start, End: end + len(closeMarker), Expr: expr})
		i = end + len(closeMarker)
	}

	return tokens, nil
}

// HasReferences reports whether value contains a ${{ marker.
func HasReferences(value string) bool {
	return strings.Contains(value, openMarker)
}

// Kind classifies a reference.
type Kind int

const (
	KindStep Kind = iota
	KindInput
	KindPipeline
	KindEngine
)

func (k Kind) String() string {
	switch k {
	case KindStep:
		return "steps"
	case KindInput:
		return "inputs"
	case KindPipeline:
		return "pipeline"
	case KindEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// Namespaces lists the path-reference namespaces.
var Namespaces = []string{"steps", "inputs", "pipeline"}

// Reference is a parsed token expression.
type Reference struct {
	Kind Kind
	// Step is the referenced step id or zero-based position (KindStep).
	Step string
	// Path is the dot-delimited field path after the namespace (or after
	// "output" for step references). Empty selects the whole value.
	Path string
	// Engine and Source are set for engine-prefixed expressions.
	Engine string
	Source string
}

// StepIndex returns the step reference as a position when it is numeric.
func (r Reference) StepIndex() (int, bool) {
	if r.Kind != KindStep {
		return 0, false
	}
	n, err := strconv.Atoi(r.Step)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseReference classifies one token expression. Engine prefixes are
// "<name>:" where name is cel, expr or jq.
func ParseReference(expr string) (Reference, error) {
	expr = strings.TrimSpace(expr)

	if name, source, ok := strings.Cut(expr, ":"); ok && isEngineName(name) {
		source = strings.TrimSpace(source)
		if source == "" {
			return Reference{}, schema.NewErrorf(schema.ErrCodeInvalidExpression,
				"empty %s expression in ${{%s}}", name, expr).
				WithDetails(map[string]any{"expression": expr})
		}
		return Reference{Kind: KindEngine, Engine: name, Source: source}, nil
	}

	namespace, rest, _ := strings.Cut(expr, ".")
	switch namespace {
	case "steps":
		return parseStepReference(expr, rest)
	case "inputs":
		return parseFieldReference(expr, rest, KindInput, "inputs.<name>")
	case "pipeline":
		return parseFieldReference(expr, rest, KindPipeline, "pipeline.<field>")
	default:
		return Reference{}, schema.NewErrorf(schema.ErrCodeInvalidExpression,
			"unknown namespace %q in ${{%s}}; available: %s, or an engine prefix (cel:, expr:, jq:)",
			namespace, expr, strings.Join(Namespaces, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": Namespaces})
	}
}

func isEngineName(name string) bool {
	switch name {
	case "cel", "expr", "jq":
		return true
	}
	return false
}

// parseStepReference handles steps.<ref>.output[.<field>...].
func parseStepReference(expr, rest string) (Reference, error) {
	parts := strings.SplitN(rest, ".", 3) // [ref, output, path]
	if len(parts) < 2 || parts[0] == "" {
		return Reference{}, schema.NewErrorf(schema.ErrCodeInvalidExpression,
			"invalid step reference %q: expected steps.<id>.output[.<field>]", expr).
			WithDetails(map[string]any{"expression": expr})
	}
	if parts[1] != "output" {
		return Reference{}, schema.NewErrorf(schema.ErrCodeInvalidExpression,
			"invalid step reference %q: only 'output' is supported (got %q)", expr, parts[1]).
			WithDetails(map[string]any{"expression": expr})
	}

	ref := Reference{Kind: KindStep, Step: parts[0]}
	if len(parts) == 3 {
		if err := checkPath(expr, parts[2]); err != nil {
			return Reference{}, err
		}
		ref.Path = parts[2]
	}
	return ref, nil
}

func parseFieldReference(expr, rest string, kind Kind, form string) (Reference, error) {
	if rest == "" {
		return Reference{}, schema.NewErrorf(schema.ErrCodeInvalidExpression,
			"invalid %s reference %q: expected %s", kind, expr, form).
			WithDetails(map[string]any{"expression": expr})
	}
	if err := checkPath(expr, rest); err != nil {
		return Reference{}, err
	}
	return Reference{Kind: kind, Path: rest}, nil
}

func checkPath(expr, path string) error {
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return schema.NewErrorf(schema.ErrCodeInvalidExpression,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}
	}
	return nil
}
