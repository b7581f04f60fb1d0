// Package rules evaluates CEL expressions against documents. The write
// path uses it for derived fields: a collection registers an expression
// per target field and the processor computes each field's value from
// the incoming document before it reaches storage.
package rules

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"

	"github.com/kartikbazzad/bundoc/dberr"
)

// Engine compiles and caches CEL programs. Compilation is expensive and
// expressions repeat on every write, so programs are cached per
// expression string for the engine's lifetime.
type Engine struct {
	env      *cel.Env
	prgCache sync.Map // expression string → cel.Program
}

// NewEngine builds an engine whose expressions see a single variable:
// `doc`, the incoming document as a map.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("doc", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		return nil, dberr.New(dberr.Plugin, "initialize expression environment", err)
	}
	return &Engine{env: env}, nil
}

// program returns the compiled program for expression, compiling and
// caching it on first use.
func (e *Engine) program(expression string) (cel.Program, error) {
	if val, ok := e.prgCache.Load(expression); ok {
		return val.(cel.Program), nil
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, dberr.New(dberr.Validation, "compile expression "+expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, dberr.New(dberr.Validation, "build expression program", err)
	}
	e.prgCache.Store(expression, prg)
	return prg, nil
}

// Eval evaluates expression with doc bound to the given map and returns
// the result as a native Go value.
func (e *Engine) Eval(expression string, doc map[string]interface{}) (interface{}, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(map[string]interface{}{"doc": doc})
	if err != nil {
		return nil, dberr.New(dberr.Validation, "evaluate expression "+expression, err)
	}
	return out.Value(), nil
}
