package expression

import (
	"fmt"
	"sort"
)

type IssueCode string

const (
	CodeMissingVariable    IssueCode = "missing_variable"
	CodeUnknownFunction    IssueCode = "unknown_function"
	CodeInvalidArity       IssueCode = "invalid_arity"
	CodeTypeWarning        IssueCode = "type_warning"
	CodeResultTypeMismatch IssueCode = "result_type_mismatch"
	CodeUnusedVariable     IssueCode = "unused_variable"
)

// Issue is a single validation error or warning.
type Issue struct {
	Code       IssueCode `json:"code"`
	Message    string    `json:"message"`
	Identifier string    `json:"identifier,omitempty"`
	Line       int       `json:"line,omitempty"`
	Column     int       `json:"column,omitempty"`
}

// ValidationResult is the outcome of Validate. Errors make a definition
// unsavable; warnings are advisory.
type ValidationResult struct {
	IsValid       bool     `json:"is_valid"`
	Errors        []Issue  `json:"errors"`
	Warnings      []Issue  `json:"warnings"`
	UsedVariables []string `json:"used_variables"`
}

// Validate checks a parsed expression against the declared input variables
// and the point's declared result kind. It performs no I/O.
func Validate(root Node, vars map[string]Kind, declared Kind) ValidationResult {
	v := &validator{vars: vars, errors: []Issue{}, warnings: []Issue{}}

	v.checkIdentifiers(root)
	v.checkCalls(root)
	inferred := v.infer(root)
	if known(declared) && known(inferred) && inferred != declared {
		v.warn(CodeResultTypeMismatch, root.Pos(), "", "expression yields %s but the point declares %s", inferred, declared)
	}

	used := Identifiers(root)
	usedSet := make(map[string]struct{}, len(used))
	for _, name := range used {
		usedSet[name] = struct{}{}
	}
	declaredNames := make([]string, 0, len(vars))
	for name := range vars {
		declaredNames = append(declaredNames, name)
	}
	sort.Strings(declaredNames)
	for _, name := range declaredNames {
		if _, ok := usedSet[name]; !ok {
			v.warnings = append(v.warnings, Issue{
				Code:       CodeUnusedVariable,
				Message:    fmt.Sprintf("input variable %q is declared but never used", name),
				Identifier: name,
			})
		}
	}

	return ValidationResult{
		IsValid:       len(v.errors) == 0,
		Errors:        v.errors,
		Warnings:      v.warnings,
		UsedVariables: used,
	}
}

// Analyze parses src and validates the result. A parse failure is returned
// as the error; validation problems are reported in the result.
func Analyze(src string, vars map[string]Kind, declared Kind) (Node, ValidationResult, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, ValidationResult{}, err
	}
	return root, Validate(root, vars, declared), nil
}

type validator struct {
	vars     map[string]Kind
	errors   []Issue
	warnings []Issue
}

func known(k Kind) bool {
	return k != kindAny && k != KindNull
}

func (v *validator) fail(code IssueCode, at Position, ident string, format string, args ...any) {
	v.errors = append(v.errors, Issue{Code: code, Message: fmt.Sprintf(format, args...), Identifier: ident, Line: at.Line, Column: at.Column})
}

func (v *validator) warn(code IssueCode, at Position, ident string, format string, args ...any) {
	v.warnings = append(v.warnings, Issue{Code: code, Message: fmt.Sprintf(format, args...), Identifier: ident, Line: at.Line, Column: at.Column})
}

// checkIdentifiers reports each undeclared identifier once, at its first use.
func (v *validator) checkIdentifiers(root Node) {
	reported := map[string]bool{}
	Walk(root, func(n Node) bool {
		id, ok := n.(*Ident)
		if !ok {
			return true
		}
		if _, declared := v.vars[id.Name]; !declared && !reported[id.Name] {
			reported[id.Name] = true
			v.fail(CodeMissingVariable, id.At, id.Name, "identifier %q is not a declared input variable", id.Name)
		}
		return true
	})
}

func (v *validator) checkCalls(root Node) {
	Walk(root, func(n Node) bool {
		call, ok := n.(*CallExpr)
		if !ok {
			return true
		}
		b, ok := lookupBuiltin(call.Name)
		if !ok {
			v.fail(CodeUnknownFunction, call.At, call.Name, "unknown function %s", call.Name)
			return true
		}
		if !b.acceptsArgs(len(call.Args)) {
			v.fail(CodeInvalidArity, call.At, call.Name, "%s takes %s argument(s), got %d", b.name, b.arityText(), len(call.Args))
		}
		return true
	})
}

func (v *validator) infer(n Node) Kind {
	switch t := n.(type) {
	case *NumberLit:
		return KindNumber
	case *StringLit:
		return KindString
	case *BoolLit:
		return KindBoolean
	case *Ident:
		if k, ok := v.vars[t.Name]; ok {
			return k
		}
		return kindAny
	case *UnaryExpr:
		x := v.infer(t.X)
		if t.Op == "!" {
			if known(x) && x != KindBoolean {
				v.warn(CodeTypeWarning, t.At, "", "'!' applied to %s", x)
			}
			return KindBoolean
		}
		if known(x) && x != KindNumber {
			v.warn(CodeTypeWarning, t.At, "", "unary '-' applied to %s", x)
		}
		return KindNumber
	case *BinaryExpr:
		return v.inferBinary(t)
	case *CondExpr:
		return v.inferConditional(t.At, v.infer(t.Cond), v.infer(t.Then), v.infer(t.Else))
	case *CallExpr:
		return v.inferCall(t)
	}
	return kindAny
}

func (v *validator) inferBinary(t *BinaryExpr) Kind {
	l, r := v.infer(t.Left), v.infer(t.Right)
	switch t.Op {
	case "+":
		if l == KindString && r == KindString {
			return KindString
		}
		if (l == KindString && r == KindNumber) || (l == KindNumber && r == KindString) {
			v.warn(CodeTypeWarning, t.At, "", "'+' between string and number is a type mismatch")
			return kindAny
		}
		if l == KindString || r == KindString {
			return kindAny
		}
		v.checkArithmetic(t, l, r)
		return KindNumber
	case "-", "*", "/":
		v.checkArithmetic(t, l, r)
		return KindNumber
	case "<", ">", "<=", ">=":
		for _, k := range []Kind{l, r} {
			if k == KindString {
				v.warn(CodeTypeWarning, t.At, "", "'%s' compares string operands", t.Op)
				break
			}
			if k == KindBoolean {
				v.warn(CodeTypeWarning, t.At, "", "'%s' compares boolean operands", t.Op)
				break
			}
		}
		return KindBoolean
	case "==", "!=":
		if known(l) && known(r) && l != r {
			v.warn(CodeTypeWarning, t.At, "", "'%s' compares %s with %s", t.Op, l, r)
		}
		return KindBoolean
	case "&&", "||":
		if (known(l) && l != KindBoolean) || (known(r) && r != KindBoolean) {
			v.warn(CodeTypeWarning, t.At, "", "'%s' expects boolean operands", t.Op)
		}
		return KindBoolean
	}
	return kindAny
}

func (v *validator) checkArithmetic(t *BinaryExpr, l, r Kind) {
	if (known(l) && l != KindNumber) || (known(r) && r != KindNumber) {
		v.warn(CodeTypeWarning, t.At, "", "arithmetic '%s' on non-number operands (%s, %s)", t.Op, l, r)
	}
}

func (v *validator) inferConditional(at Position, cond, then, els Kind) Kind {
	if known(cond) && cond != KindBoolean {
		v.warn(CodeTypeWarning, at, "", "condition is %s, expected boolean", cond)
	}
	if known(then) && known(els) && then != els {
		v.warn(CodeTypeWarning, at, "", "conditional branches have different types (%s, %s)", then, els)
		return kindAny
	}
	if known(then) {
		return then
	}
	return els
}

func (v *validator) inferCall(t *CallExpr) Kind {
	kinds := make([]Kind, len(t.Args))
	for i, a := range t.Args {
		kinds[i] = v.infer(a)
	}
	b, ok := lookupBuiltin(t.Name)
	if !ok || !b.acceptsArgs(len(t.Args)) {
		return kindAny
	}
	if b.name == "IF" {
		return v.inferConditional(t.At, kinds[0], kinds[1], kinds[2])
	}
	if b.argKind != kindAny {
		for i, k := range kinds {
			if known(k) && k != b.argKind {
				v.warn(CodeTypeWarning, t.Args[i].Pos(), "", "%s expects %s arguments, argument %d is %s", b.name, b.argKind, i+1, k)
			}
		}
	}
	return b.result(kinds)
}
