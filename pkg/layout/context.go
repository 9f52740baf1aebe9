package layout

import (
	"fmt"
	"sync"

	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// BuilderContext is a scoped name→descriptor lookup threaded explicitly
// through construction helpers that need to reference a descriptor being
// built elsewhere (mutually-referential or incrementally-assembled
// layouts). It carries no pack/unpack state of its own.
type BuilderContext struct {
	parent *BuilderContext
	named  map[string]Descriptor
}

// NewBuilderContext returns an empty root context.
func NewBuilderContext() *BuilderContext {
	return &BuilderContext{named: make(map[string]Descriptor)}
}

// Child returns a nested context that falls back to c for names it does
// not itself define, without mutating c.
func (c *BuilderContext) Child() *BuilderContext {
	return &BuilderContext{parent: c, named: make(map[string]Descriptor)}
}

// Define binds name to d in this context.
func (c *BuilderContext) Define(name string, d Descriptor) {
	c.named[name] = d
}

// Lookup resolves name in this context, falling back to enclosing
// contexts.
func (c *BuilderContext) Lookup(name string) (Descriptor, error) {
	for cur := c; cur != nil; cur = cur.parent {
		if d, ok := cur.named[name]; ok {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q", errs.ErrUnknownKey, name)
}

var (
	lookupStackMu sync.Mutex
	lookupStack   []*BuilderContext
)

// PushLookup pushes c onto the process-wide scoped lookup stack, for
// single-threaded construction scripts that would rather not thread a
// BuilderContext explicitly through every helper call. Pop it on every
// exit path, including error returns, with PopLookup.
func PushLookup(c *BuilderContext) {
	lookupStackMu.Lock()
	defer lookupStackMu.Unlock()
	lookupStack = append(lookupStack, c)
}

// PopLookup pops the most recently pushed context. It panics if the stack
// is empty, since that indicates a PushLookup/PopLookup mismatch in the
// caller.
func PopLookup() {
	lookupStackMu.Lock()
	defer lookupStackMu.Unlock()
	if len(lookupStack) == 0 {
		panic("layout: PopLookup called with an empty lookup stack")
	}
	lookupStack = lookupStack[:len(lookupStack)-1]
}

// CurrentLookup returns the top of the process-wide scoped lookup stack,
// or ok=false if nothing has been pushed.
func CurrentLookup() (*BuilderContext, bool) {
	lookupStackMu.Lock()
	defer lookupStackMu.Unlock()
	if len(lookupStack) == 0 {
		return nil, false
	}
	return lookupStack[len(lookupStack)-1], true
}
