// Package nodes defines the abstract syntax tree produced by the parser and
// consumed by the optimizer and the runtime evaluator. The node set is a
// closed sum: evaluation dispatches on the concrete type.
package nodes

import "fmt"

// Position is a source location. Column is best effort; Line is authoritative
// for error reporting.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	if p.Column > 0 {
		return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
	}
	return fmt.Sprintf("line %d", p.Line)
}

// Node is implemented by every AST node.
type Node interface {
	Position() Position
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// ExprBase carries the source position of an expression node. Embedding it
// seals the Expr interface to this package's node set.
type ExprBase struct {
	Pos Position
}

func (b ExprBase) Position() Position { return b.Pos }
func (ExprBase) exprNode()            {}

// StmtBase carries the source position of a statement node.
type StmtBase struct {
	Pos Position
}

func (b StmtBase) Position() Position { return b.Pos }
func (StmtBase) stmtNode()            {}

// ---- Expressions ----

// Name resolves a variable from the context.
type Name struct {
	ExprBase
	Name string
}

// Const is a literal value known at compile time: string, int64, float64,
// bool or nil, or a []any / map[string]any produced by constant folding.
type Const struct {
	ExprBase
	Value any
}

// Tuple is a parenthesized or bare expression list; in assignment position it
// unpacks.
type Tuple struct {
	ExprBase
	Items []Expr
}

// List is a [] literal.
type List struct {
	ExprBase
	Items []Expr
}

// Pair is one key: value entry of a dict literal.
type Pair struct {
	Key   Expr
	Value Expr
}

// Dict is a {} literal.
type Dict struct {
	ExprBase
	Pairs []Pair
}

// Unary applies "-", "+" or "not" to an operand.
type Unary struct {
	ExprBase
	Op   string
	Node Expr
}

// Binary applies an arithmetic or boolean operator. The "~" operator is
// represented by Concat, not Binary.
type Binary struct {
	ExprBase
	Op    string // "+", "-", "*", "/", "//", "%", "**", "and", "or"
	Left  Expr
	Right Expr
}

// Operand is one link of a comparison chain.
type Operand struct {
	Op   string // "==", "!=", "<", "<=", ">", ">=", "in", "notin"
	Expr Expr
}

// Compare is a chained comparison: a < b <= c.
type Compare struct {
	ExprBase
	Expr Expr
	Ops  []Operand
}

// Keyword is a name=value argument at a call site.
type Keyword struct {
	Key   string
	Value Expr
}

// Call invokes a callable with positional, keyword and star arguments.
type Call struct {
	ExprBase
	Node      Expr
	Args      []Expr
	Kwargs    []Keyword
	DynArgs   Expr // *args
	DynKwargs Expr // **kwargs
}

// Filter applies a named filter to a value. Node is nil inside filter blocks
// where the block body supplies the value.
type Filter struct {
	ExprBase
	Node   Expr
	Name   string
	Args   []Expr
	Kwargs []Keyword
}

// Test applies a named test: value is [not] name(args).
type Test struct {
	ExprBase
	Node    Expr
	Name    string
	Args    []Expr
	Kwargs  []Keyword
	Negated bool
}

// Getattr is dotted access: first attribute, then item lookup.
type Getattr struct {
	ExprBase
	Node Expr
	Attr string
}

// Getitem is subscript access: first item, then attribute lookup.
type Getitem struct {
	ExprBase
	Node  Expr
	Index Expr
}

// Slice is a [start:stop:step] subscript argument.
type Slice struct {
	ExprBase
	Start Expr
	Stop  Expr
	Step  Expr
}

// Concat joins the stringified operands of the "~" operator.
type Concat struct {
	ExprBase
	Nodes []Expr
}

// CondExpr is "a if test else b"; Else may be nil.
type CondExpr struct {
	ExprBase
	Test Expr
	Then Expr
	Else Expr
}

// MarkSafe wraps an expression whose result is trusted markup.
type MarkSafe struct {
	ExprBase
	Node Expr
}

// ---- Statements ----

// Template is the root node.
type Template struct {
	StmtBase
	Name string
	Body []Stmt
}

// Text is a literal run of template data, emitted verbatim.
type Text struct {
	StmtBase
	Data string
}

// Output emits the value of a single expression, subject to finalize and
// autoescape.
type Output struct {
	StmtBase
	Node Expr
}

// If is a conditional; elif chains nest inside Else.
type If struct {
	StmtBase
	Test Expr
	Body []Stmt
	Else []Stmt
}

// For is a loop with optional inline filter, else branch and recursion.
type For struct {
	StmtBase
	Target    Expr // Name or Tuple
	Iter      Expr
	Filter    Expr
	Body      []Stmt
	Else      []Stmt
	Recursive bool
}

// Macro declares a callable template fragment.
type Macro struct {
	StmtBase
	Name     string
	Args     []string
	Defaults []Expr // right-aligned against Args
	Body     []Stmt
}

// CallBlock invokes a macro with the body bound as caller().
type CallBlock struct {
	StmtBase
	Call     *Call
	Args     []string
	Defaults []Expr
	Body     []Stmt
}

// FilterBlock pipes the rendered body through a filter chain.
type FilterBlock struct {
	StmtBase
	Filter *Filter
	Body   []Stmt
}

// Assign is {% set target = expr %}.
type Assign struct {
	StmtBase
	Target Expr
	Node   Expr
}

// AssignBlock is {% set target %}body{% endset %}, optionally filtered.
type AssignBlock struct {
	StmtBase
	Target Expr
	Filter *Filter
	Body   []Stmt
}

// Block is a named, overridable region.
type Block struct {
	StmtBase
	Name     string
	Body     []Stmt
	Scoped   bool
	Required bool
}

// Extends defers rendering to a parent template.
type Extends struct {
	StmtBase
	Template Expr
}

// Include renders another template in place.
type Include struct {
	StmtBase
	Template      Expr
	WithContext   bool
	IgnoreMissing bool
}

// Import binds another template's exported names as a module object.
type Import struct {
	StmtBase
	Template    Expr
	Target      string
	WithContext bool
}

// FromImport binds selected names from another template.
type FromImport struct {
	StmtBase
	Template    Expr
	Names       [][2]string // name, alias (alias == name when not renamed)
	WithContext bool
}

// With pushes a scope with the given bindings around its body.
type With struct {
	StmtBase
	Targets []Expr
	Values  []Expr
	Body    []Stmt
}

// Autoescape overrides the autoescape flag for its body.
type Autoescape struct {
	StmtBase
	Value Expr
	Body  []Stmt
}

// Trans is a translatable message with optional pluralization. Singular and
// Plural hold %(name)s format strings captured from the block body.
type Trans struct {
	StmtBase
	Assignments []Keyword
	CountName   string
	Singular    string
	Plural      string
	HasPlural   bool
	Trimmed     bool
}

// Do evaluates an expression for its side effects and discards the result.
type Do struct {
	StmtBase
	Node Expr
}

// Break exits the innermost loop (loop-controls extension).
type Break struct {
	StmtBase
}

// Continue skips to the next loop iteration (loop-controls extension).
type Continue struct {
	StmtBase
}

// ---- helpers ----

// CanAssign reports whether an expression may appear as an assignment or loop
// target.
func CanAssign(e Expr) bool {
	switch t := e.(type) {
	case *Name:
		return true
	case *Tuple:
		for _, item := range t.Items {
			if !CanAssign(item) {
				return false
			}
		}
		return len(t.Items) > 0
	case *Getattr:
		// namespace attribute assignment
		_, ok := t.Node.(*Name)
		return ok
	default:
		return false
	}
}

// TargetNames collects the plain names bound by an assignment target.
func TargetNames(e Expr) []string {
	switch t := e.(type) {
	case *Name:
		return []string{t.Name}
	case *Tuple:
		var names []string
		for _, item := range t.Items {
			names = append(names, TargetNames(item)...)
		}
		return names
	default:
		return nil
	}
}
