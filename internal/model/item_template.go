package model

import (
	"sync"

	"github.com/udisondev/spawnerd/internal/ledger"
)

// ItemTemplate — описание вида предмета: размер стака и цена продажи.
type ItemTemplate struct {
	Kind     string
	MaxStack int32
	Price    float64 // sell price per unit, 0 = not sellable
}

// Catalog is the item kind registry. Safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]ItemTemplate
}

// NewCatalog creates a catalog from templates.
func NewCatalog(templates ...ItemTemplate) *Catalog {
	c := &Catalog{templates: make(map[string]ItemTemplate, len(templates))}
	for _, t := range templates {
		c.Register(t)
	}
	return c
}

// Register adds or replaces a template.
func (c *Catalog) Register(t ItemTemplate) {
	if t.MaxStack <= 0 {
		t.MaxStack = ledger.DefaultMaxStack
	}
	c.mu.Lock()
	c.templates[t.Kind] = t
	c.mu.Unlock()
}

// Template returns the template for kind.
func (c *Catalog) Template(kind string) (ItemTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[kind]
	return t, ok
}

// MaxStack returns the max stack size for kind, DefaultMaxStack if unknown.
func (c *Catalog) MaxStack(kind string) int32 {
	if t, ok := c.Template(kind); ok {
		return t.MaxStack
	}
	return ledger.DefaultMaxStack
}

// Signature builds a ledger signature using the catalog's stack size.
func (c *Catalog) Signature(kind string, meta map[string]string) ledger.Signature {
	return ledger.NewSignature(kind, c.MaxStack(kind), meta)
}

// Price returns the unit sell price of a signature and whether it is sellable.
func (c *Catalog) Price(sig ledger.Signature) (float64, bool) {
	t, ok := c.Template(sig.Kind)
	if !ok || t.Price <= 0 {
		return 0, false
	}
	return t.Price, true
}

// Len returns number of registered templates.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}
