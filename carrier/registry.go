package carrier

import (
	"runtime"
	"sync"
	"weak"
)

// Registry maps foreign objects of type T to carrier fields by identity.
// Entries disappear once the object is garbage collected.
// Safe for concurrent use by multiple goroutines.
type Registry[T any] struct {
	mu     sync.Mutex
	fields map[weak.Pointer[T]]*Field
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{fields: make(map[weak.Pointer[T]]*Field)}
}

// For returns the Field attached to obj, creating it on first use.
func (r *Registry[T]) For(obj *T) *Field {
	if obj == nil {
		return nil
	}

	key := weak.Make(obj)

	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.fields[key]; ok {
		return f
	}

	f := &Field{}
	r.fields[key] = f
	runtime.AddCleanup(obj, r.forget, key)

	return f
}

// Lookup returns the Field attached to obj without creating one.
func (r *Registry[T]) Lookup(obj *T) (*Field, bool) {
	if obj == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.fields[weak.Make(obj)]

	return f, ok
}

// Resolve implements Resolver for values of type *T.
func (r *Registry[T]) Resolve(v any) (*Field, bool) {
	obj, ok := v.(*T)
	if !ok {
		return nil, false
	}

	return r.Lookup(obj)
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.fields)
}

func (r *Registry[T]) forget(key weak.Pointer[T]) {
	r.mu.Lock()
	delete(r.fields, key)
	r.mu.Unlock()
}
