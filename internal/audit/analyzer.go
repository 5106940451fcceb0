package audit

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// SourceSuffix is the only file suffix the analyzer understands. The rule
// engine is bound to one structural grammar.
const SourceSuffix = ".py"

var dangerousCalls = map[string]bool{
	"eval": true,
	"exec": true,
}

var queryCalls = map[string]bool{
	"execute":     true,
	"executemany": true,
}

// Analyzer parses one file's source into a syntax tree and walks it once,
// applying each detection rule independently. It never fails past its
// boundary: a parse failure is itself reported as a single error-severity
// issue and analysis stops there.
type Analyzer struct {
	lang *sitter.Language
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{lang: sitter.NewLanguage(tree_sitter_python.Language())}
}

func (a *Analyzer) IsSupportedPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), SourceSuffix)
}

// Audit runs the detection rules against one file's source text. Issues are
// appended in tree-traversal order; when a single call node matches multiple
// rules, the dynamic-execution check fires before the query-construction
// checks.
func (a *Analyzer) Audit(path string, source []byte) []Issue {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(a.lang)

	tree := parser.Parse(source, nil)
	if tree == nil {
		return []Issue{{
			File:     path,
			Severity: SeverityError,
			Message:  "Failed to parse: parser returned no tree",
		}}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return []Issue{{
			File:     path,
			Severity: SeverityError,
			Message:  parseFailureMessage(root),
		}}
	}

	ctx := &walkContext{source: source, path: path}
	engine := newRuleEngine(map[string]nodeHandler{
		"call": a.checkCall,
	})
	engine.Walk(ctx, root)

	return ctx.issues
}

func (a *Analyzer) checkCall(ctx *walkContext, node *sitter.Node) bool {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return false
	}

	if fn.Kind() == "identifier" {
		if name := ctx.text(fn); dangerousCalls[name] {
			ctx.issues = append(ctx.issues, Issue{
				File:       ctx.path,
				Line:       ctx.line(node),
				Severity:   SeverityHigh,
				Message:    fmt.Sprintf("Use of %s() can be dangerous.", name),
				Suggestion: "Avoid eval/exec; use safe parsers or restricted execution.",
			})
		}
	}

	name := resolvedCallName(ctx, fn)
	if name == "" || !queryCalls[strings.ToLower(name)] {
		return false
	}

	arg := firstPositionalArg(node)
	if arg == nil {
		return false
	}

	// The two query rules are evaluated independently on the first argument;
	// each fires if its own shape condition holds.
	if isInterpolatedString(arg) {
		ctx.issues = append(ctx.issues, Issue{
			File:       ctx.path,
			Line:       ctx.line(arg),
			Severity:   SeverityCritical,
			Message:    "SQL query constructed with interpolated f-string; possible SQL injection.",
			Suggestion: "Use parameterized queries (placeholders + parameters) instead of f-strings.",
		})
	}
	if isStringConcatenation(arg) {
		ctx.issues = append(ctx.issues, Issue{
			File:       ctx.path,
			Line:       ctx.line(arg),
			Severity:   SeverityHigh,
			Message:    "SQL query built via string concatenation; possible SQL injection.",
			Suggestion: "Use parameterized queries instead.",
		})
	}
	return false
}

// resolvedCallName returns the bare name of a call target, or the final
// attribute segment of a qualified call. Matching is purely syntactic: no
// import, alias, or variable resolution.
func resolvedCallName(ctx *walkContext, fn *sitter.Node) string {
	switch fn.Kind() {
	case "identifier":
		return ctx.text(fn)
	case "attribute":
		return ctx.text(fn.ChildByFieldName("attribute"))
	}
	return ""
}

func firstPositionalArg(call *sitter.Node) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for i := uint(0); i < args.NamedChildCount(); i++ {
		child := args.NamedChild(i)
		switch child.Kind() {
		case "keyword_argument", "comment":
			continue
		}
		return child
	}
	return nil
}

// isInterpolatedString reports whether node is a string literal built from
// literal and expression segments (an f-string with at least one brace
// expression).
func isInterpolatedString(node *sitter.Node) bool {
	if node.Kind() != "string" {
		return false
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		if node.NamedChild(i).Kind() == "interpolation" {
			return true
		}
	}
	return false
}

// isStringConcatenation reports whether node is a binary + whose either
// operand is a plain string literal.
func isStringConcatenation(node *sitter.Node) bool {
	if node.Kind() != "binary_operator" {
		return false
	}
	op := node.ChildByFieldName("operator")
	if op == nil || op.Kind() != "+" {
		return false
	}
	return isPlainString(node.ChildByFieldName("left")) || isPlainString(node.ChildByFieldName("right"))
}

func isPlainString(node *sitter.Node) bool {
	return node != nil && node.Kind() == "string" && !isInterpolatedString(node)
}

func parseFailureMessage(root *sitter.Node) string {
	if bad := firstErrorNode(root); bad != nil {
		return fmt.Sprintf("Failed to parse: syntax error at line %d, column %d",
			bad.StartPosition().Row+1, bad.StartPosition().Column+1)
	}
	return "Failed to parse: syntax error"
}

func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		if node.Child(i).HasError() {
			if found := firstErrorNode(node.Child(i)); found != nil {
				return found
			}
		}
	}
	return nil
}
