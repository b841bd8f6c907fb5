package product

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory StockStore for local runs and tests.
type MemStore struct {
	mu       sync.RWMutex
	products map[string]*Product
	variants map[string]*Variant
}

func NewMemStore() *MemStore {
	return &MemStore{
		products: make(map[string]*Product),
		variants: make(map[string]*Variant),
	}
}

func (s *MemStore) PutProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.products[p.ID] = &cp
}

func (s *MemStore) PutVariant(v Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := v
	s.variants[v.ID] = &cp
}

func (s *MemStore) GetByID(_ context.Context, id string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) GetVariant(_ context.Context, id string) (*Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, fmt.Errorf("%w: variant %s", ErrNotFound, id)
	}
	cp := *v
	return &cp, nil
}

func (s *MemStore) DecrementStock(_ context.Context, productID string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	p.Stock = Clamp(p.Stock, qty)
	return p.Stock, nil
}

func (s *MemStore) DecrementVariantStock(_ context.Context, variantID string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[variantID]
	if !ok {
		return 0, fmt.Errorf("%w: variant %s", ErrNotFound, variantID)
	}
	v.Stock = Clamp(v.Stock, qty)
	return v.Stock, nil
}

// Snapshot returns a copy of all products and variants. The memory order
// repository uses it to roll back a failed delivery.
func (s *MemStore) Snapshot() (map[string]Product, map[string]Variant) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps := make(map[string]Product, len(s.products))
	for k, v := range s.products {
		ps[k] = *v
	}
	vs := make(map[string]Variant, len(s.variants))
	for k, v := range s.variants {
		vs[k] = *v
	}
	return ps, vs
}

// Restore replaces the store contents with a Snapshot.
func (s *MemStore) Restore(ps map[string]Product, vs map[string]Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = make(map[string]*Product, len(ps))
	for k, v := range ps {
		cp := v
		s.products[k] = &cp
	}
	s.variants = make(map[string]*Variant, len(vs))
	for k, v := range vs {
		cp := v
		s.variants[k] = &cp
	}
}
