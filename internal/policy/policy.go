// Package policy evaluates the CEL predicates a delegation token attaches
// to a capability chain (spec §4.3 step 6) against the attributes of the
// incoming request.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and caches CEL programs over a single "request"
// variable, the way the teacher's rules.Engine compiles one program per
// collection/operation rule.
type Evaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator builds the CEL environment every predicate is compiled
// against: a single dynamically-typed "request" map built from the
// incoming HTTP request (method, path, headers, query).
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates expr as a boolean CEL predicate; a valid program is
// cached like one compiled during evaluation.
func (e *Evaluator) Compile(expr string) error {
	_, err := e.compile(expr)
	return err
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid predicate %q: %w", expr, issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building program for %q: %w", expr, err)
	}

	e.mu.Lock()
	e.programs[expr] = program
	e.mu.Unlock()

	return program, nil
}

// EvalAll requires every predicate to evaluate true against request; the
// first failing or erroring predicate short-circuits with an error
// describing which predicate failed, matching spec §4.3's "every predicate
// in the chain must hold."
func (e *Evaluator) EvalAll(predicates []string, request map[string]any) error {
	if request == nil {
		request = map[string]any{}
	}

	for _, expr := range predicates {
		program, err := e.compile(expr)
		if err != nil {
			return err
		}

		result, _, err := program.Eval(map[string]any{"request": request})
		if err != nil {
			return fmt.Errorf("evaluating predicate %q: %w", expr, err)
		}

		ok, isBool := result.Value().(bool)
		if !isBool {
			return fmt.Errorf("predicate %q did not evaluate to a boolean", expr)
		}
		if !ok {
			return fmt.Errorf("predicate %q did not hold", expr)
		}
	}

	return nil
}
