package engine

import (
	"sync"

	"grid_bot/internal/models"
	"grid_bot/internal/ordertag"
)

// Registry ордера, выставленные текущим запуском. Живёт только в памяти.
type Registry struct {
	mu   sync.RWMutex
	ids  map[string]struct{}
	tags map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		ids:  make(map[string]struct{}),
		tags: make(map[string]struct{}),
	}
}

func (r *Registry) Register(o models.Order, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID != "" {
		r.ids[o.ID] = struct{}{}
	}
	if tag == "" {
		tag = ordertag.FromOrder(o)
	}
	if tag != "" {
		r.tags[tag] = struct{}{}
	}
}

func (r *Registry) Knows(o models.Order) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.ids[o.ID]; ok && o.ID != "" {
		return true
	}
	if tag := ordertag.FromOrder(o); tag != "" {
		_, ok := r.tags[tag]
		return ok
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Mine ордер выставлен этим запуском или несёт наш префикс.
func (r *Registry) Mine(o models.Order) bool {
	return r.Knows(o) || ordertag.Owned(o)
}
