package rules

import (
	"sync"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/value"
)

// derivation is one registered derived field.
type derivation struct {
	field      string
	expression string
}

// Processor computes derived fields in the before-write processor chain:
// each registered (field, expression) pair is evaluated against the
// incoming document and the result written to the field before the
// primary-map put. Derivations run in registration order, and a later
// derivation sees the fields earlier ones produced.
type Processor struct {
	engine *Engine
	mu     sync.RWMutex
	derive []derivation
}

// NewProcessor returns a processor with no derivations registered.
func NewProcessor() (*Processor, error) {
	engine, err := NewEngine()
	if err != nil {
		return nil, err
	}
	return &Processor{engine: engine}, nil
}

// Derive registers (or replaces) the expression computing field. The
// expression is compiled eagerly so a bad expression fails here, not on
// the first write.
func (p *Processor) Derive(field, expression string) error {
	if field == "" {
		return dberr.Validationf("derived field name must not be empty")
	}
	if _, err := p.engine.program(expression); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, d := range p.derive {
		if d.field == field {
			p.derive[i].expression = expression
			return nil
		}
	}
	p.derive = append(p.derive, derivation{field: field, expression: expression})
	return nil
}

// ProcessBeforeWrite evaluates every derivation against doc and sets the
// results in place. An evaluation error aborts the write.
func (p *Processor) ProcessBeforeWrite(doc *value.Document) (*value.Document, error) {
	p.mu.RLock()
	derive := make([]derivation, len(p.derive))
	copy(derive, p.derive)
	p.mu.RUnlock()

	for _, d := range derive {
		out, err := p.engine.Eval(d.expression, doc.ToNative())
		if err != nil {
			return nil, err
		}
		v, err := value.FromNative(out)
		if err != nil {
			return nil, dberr.New(dberr.Validation, "derived field "+d.field, err)
		}
		doc.PutPath(d.field, v)
	}
	return doc, nil
}
