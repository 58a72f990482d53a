package expression

import (
	"sort"
	"strconv"
	"strings"
)

// Node is an expression tree node. Trees are immutable once parsed and may be
// shared between goroutines.
type Node interface {
	Pos() Position
	String() string
}

type NumberLit struct {
	Value float64
	Raw   string
	At    Position
}

type StringLit struct {
	Value string
	At    Position
}

type BoolLit struct {
	Value bool
	At    Position
}

// Ident references an input variable by name.
type Ident struct {
	Name string
	At   Position
}

type UnaryExpr struct {
	Op string // "!" or "-"
	X  Node
	At Position
}

// BinaryExpr positions point at the operator.
type BinaryExpr struct {
	Op    string
	Left  Node
	Right Node
	At    Position
}

// CondExpr is `cond ? then : else`.
type CondExpr struct {
	Cond Node
	Then Node
	Else Node
	At   Position
}

// CallExpr is a builtin function call. Name keeps the original spelling.
type CallExpr struct {
	Name string
	Args []Node
	At   Position
}

func (n *NumberLit) Pos() Position  { return n.At }
func (n *StringLit) Pos() Position  { return n.At }
func (n *BoolLit) Pos() Position    { return n.At }
func (n *Ident) Pos() Position      { return n.At }
func (n *UnaryExpr) Pos() Position  { return n.At }
func (n *BinaryExpr) Pos() Position { return n.At }
func (n *CondExpr) Pos() Position   { return n.At }
func (n *CallExpr) Pos() Position   { return n.At }

func (n *NumberLit) String() string {
	if n.Raw != "" {
		return n.Raw
	}
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

func (n *StringLit) String() string { return strconv.Quote(n.Value) }
func (n *BoolLit) String() string   { return strconv.FormatBool(n.Value) }
func (n *Ident) String() string     { return n.Name }

func (n *UnaryExpr) String() string {
	return "(" + n.Op + n.X.String() + ")"
}

func (n *BinaryExpr) String() string {
	return "(" + n.Left.String() + " " + n.Op + " " + n.Right.String() + ")"
}

func (n *CondExpr) String() string {
	return "(" + n.Cond.String() + " ? " + n.Then.String() + " : " + n.Else.String() + ")"
}

func (n *CallExpr) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return strings.ToUpper(n.Name) + "(" + strings.Join(args, ", ") + ")"
}

// Walk visits nodes depth-first, pre-order. Returning false from fn skips
// the children of that node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch t := n.(type) {
	case *UnaryExpr:
		Walk(t.X, fn)
	case *BinaryExpr:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *CondExpr:
		Walk(t.Cond, fn)
		Walk(t.Then, fn)
		Walk(t.Else, fn)
	case *CallExpr:
		for _, a := range t.Args {
			Walk(a, fn)
		}
	}
}

// Identifiers returns the distinct variable names referenced by the tree, sorted.
func Identifiers(n Node) []string {
	seen := map[string]struct{}{}
	Walk(n, func(node Node) bool {
		if id, ok := node.(*Ident); ok {
			seen[id.Name] = struct{}{}
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
