package expression

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

const variadic = -1

type builtin struct {
	name    string
	minArgs int
	maxArgs int
	// argKind is the kind every argument is expected to have; kindAny skips the check.
	argKind Kind
	result  func(args []Kind) Kind
	// call is nil for lazily evaluated functions (IF), which the evaluator handles itself.
	call func(at Position, args []Value) (Value, error)
}

var builtins = map[string]*builtin{}

func register(b *builtin) {
	builtins[b.name] = b
}

func returns(k Kind) func([]Kind) Kind {
	return func([]Kind) Kind { return k }
}

func init() {
	register(&builtin{name: "SUM", minArgs: 1, maxArgs: variadic, argKind: KindNumber, result: returns(KindNumber), call: aggregate("SUM", func(xs []float64) float64 {
		total := 0.0
		for _, x := range xs {
			total += x
		}
		return total
	})})
	register(&builtin{name: "AVG", minArgs: 1, maxArgs: variadic, argKind: KindNumber, result: returns(KindNumber), call: aggregate("AVG", func(xs []float64) float64 {
		total := 0.0
		for _, x := range xs {
			total += x
		}
		return total / float64(len(xs))
	})})
	register(&builtin{name: "MIN", minArgs: 1, maxArgs: variadic, argKind: KindNumber, result: returns(KindNumber), call: aggregate("MIN", func(xs []float64) float64 {
		m := xs[0]
		for _, x := range xs[1:] {
			m = math.Min(m, x)
		}
		return m
	})})
	register(&builtin{name: "MAX", minArgs: 1, maxArgs: variadic, argKind: KindNumber, result: returns(KindNumber), call: aggregate("MAX", func(xs []float64) float64 {
		m := xs[0]
		for _, x := range xs[1:] {
			m = math.Max(m, x)
		}
		return m
	})})
	register(&builtin{name: "IF", minArgs: 3, maxArgs: 3, argKind: kindAny, result: func(args []Kind) Kind {
		if len(args) == 3 && args[1] == args[2] {
			return args[1]
		}
		return kindAny
	}})
	register(&builtin{name: "ABS", minArgs: 1, maxArgs: 1, argKind: KindNumber, result: returns(KindNumber), call: unary("ABS", math.Abs)})
	register(&builtin{name: "SQRT", minArgs: 1, maxArgs: 1, argKind: KindNumber, result: returns(KindNumber), call: func(at Position, args []Value) (Value, error) {
		x, err := numberArg("SQRT", at, args[0])
		if err != nil {
			return Null(), err
		}
		if x < 0 {
			return Null(), evalErrorf(ErrRuntimeFault, at, "SQRT of negative number %v", x)
		}
		return Number(math.Sqrt(x)), nil
	}})
	register(&builtin{name: "POW", minArgs: 2, maxArgs: 2, argKind: KindNumber, result: returns(KindNumber), call: func(at Position, args []Value) (Value, error) {
		base, err := numberArg("POW", at, args[0])
		if err != nil {
			return Null(), err
		}
		exp, err := numberArg("POW", at, args[1])
		if err != nil {
			return Null(), err
		}
		return Number(math.Pow(base, exp)), nil
	}})
	register(&builtin{name: "ROUND", minArgs: 2, maxArgs: 2, argKind: KindNumber, result: returns(KindNumber), call: func(at Position, args []Value) (Value, error) {
		x, err := numberArg("ROUND", at, args[0])
		if err != nil {
			return Null(), err
		}
		places, err := numberArg("ROUND", at, args[1])
		if err != nil {
			return Null(), err
		}
		if places != math.Trunc(places) || places < 0 || places > 15 {
			return Null(), evalErrorf(ErrRuntimeFault, at, "ROUND places must be an integer between 0 and 15, got %v", places)
		}
		return Number(roundFloat(x, int(places))), nil
	}})
	register(&builtin{name: "ISNULL", minArgs: 1, maxArgs: 1, argKind: kindAny, result: returns(KindBoolean), call: func(_ Position, args []Value) (Value, error) {
		return Boolean(args[0].IsNull()), nil
	}})
	register(&builtin{name: "NUM", minArgs: 1, maxArgs: 1, argKind: kindAny, result: returns(KindNumber), call: toNumber})
	register(&builtin{name: "STR", minArgs: 1, maxArgs: 1, argKind: kindAny, result: returns(KindString), call: func(at Position, args []Value) (Value, error) {
		if args[0].IsNull() {
			return Null(), evalErrorf(ErrTypeMismatch, at, "STR of null")
		}
		return String(args[0].String()), nil
	}})
}

func lookupBuiltin(name string) (*builtin, bool) {
	b, ok := builtins[strings.ToUpper(name)]
	return b, ok
}

// FunctionNames lists the builtin functions in alphabetical order.
func FunctionNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *builtin) arityText() string {
	switch {
	case b.maxArgs == variadic:
		return "at least " + strconv.Itoa(b.minArgs)
	case b.minArgs == b.maxArgs:
		return "exactly " + strconv.Itoa(b.minArgs)
	default:
		return strconv.Itoa(b.minArgs) + " to " + strconv.Itoa(b.maxArgs)
	}
}

func (b *builtin) acceptsArgs(n int) bool {
	return n >= b.minArgs && (b.maxArgs == variadic || n <= b.maxArgs)
}

func numberArg(fn string, at Position, v Value) (float64, error) {
	if v.Kind() != KindNumber {
		return 0, evalErrorf(ErrTypeMismatch, at, "%s expects number arguments, got %s", fn, v.Kind())
	}
	return v.Num(), nil
}

func aggregate(fn string, reduce func([]float64) float64) func(Position, []Value) (Value, error) {
	return func(at Position, args []Value) (Value, error) {
		xs := make([]float64, len(args))
		for i, a := range args {
			x, err := numberArg(fn, at, a)
			if err != nil {
				return Null(), err
			}
			xs[i] = x
		}
		return Number(reduce(xs)), nil
	}
}

func unary(fn string, f func(float64) float64) func(Position, []Value) (Value, error) {
	return func(at Position, args []Value) (Value, error) {
		x, err := numberArg(fn, at, args[0])
		if err != nil {
			return Null(), err
		}
		return Number(f(x)), nil
	}
}

func toNumber(at Position, args []Value) (Value, error) {
	v := args[0]
	switch v.Kind() {
	case KindNumber:
		return v, nil
	case KindBoolean:
		if v.Bool() {
			return Number(1), nil
		}
		return Number(0), nil
	case KindString:
		n, err := ParseLiteral(v.Str(), KindNumber)
		if err != nil {
			return Null(), evalErrorf(ErrTypeMismatch, at, "NUM cannot convert %q to number", v.Str())
		}
		return n, nil
	default:
		return Null(), evalErrorf(ErrTypeMismatch, at, "NUM of null")
	}
}
