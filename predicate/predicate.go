// Package predicate compiles boolean tuple conditions from expression
// source strings. Conditions are carried across the worker boundary as
// their source text and compiled where they run, so a breakpoint
// assignment payload stays plain data.
package predicate

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/GoCodeAlone/dataflow/tuple"
)

// Predicate is a compiled boolean condition over a tuple.
type Predicate struct {
	source  string
	program *vm.Program
}

// Compile parses and type-checks the expression source. The expression
// sees tuple fields as top-level identifiers (e.g. "value > 100") and
// must produce a boolean.
func Compile(source string) (*Predicate, error) {
	if source == "" {
		return nil, fmt.Errorf("empty predicate expression")
	}
	program, err := expr.Compile(source, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", source, err)
	}
	return &Predicate{source: source, program: program}, nil
}

// Source returns the original expression text.
func (p *Predicate) Source() string {
	return p.source
}

// Eval applies the predicate to a tuple. Evaluation failures (missing
// fields used in arithmetic, type mismatches) are returned as errors,
// never panics; callers treat a failed evaluation as non-matching.
func (p *Predicate) Eval(t tuple.Tuple) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("evaluate predicate %q: panic: %v", p.source, r)
		}
	}()

	out, err := expr.Run(p.program, map[string]any(t))
	if err != nil {
		return false, fmt.Errorf("evaluate predicate %q: %w", p.source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("predicate %q returned %T, want bool", p.source, out)
	}
	return b, nil
}
