// Package service implements the per-request service instance lifecycle
// and the ambient session object handed to every request.
package service

import (
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// Factory produces an instance handle for a given service type per
// request, and releases it once the pipeline is done with it. The
// default implementation instantiates a fresh value per invocation;
// callers may supply a factory that pools or injects dependencies.
type Factory interface {
	New(serviceName string, t reflect.Type) (reflect.Value, error)
	Release(serviceName string, instance reflect.Value)
}

// DefaultFactory instantiates a fresh zero value of t via reflect.New
// for every request and discards it on Release.
type DefaultFactory struct{}

func (DefaultFactory) New(_ string, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()), nil
	}
	return reflect.New(t).Elem(), nil
}

func (DefaultFactory) Release(string, reflect.Value) {}

// PooledFactory caches one instance per service name, tagging each with
// a uuid assigned at first construction, for services that are safe to
// share across requests.
type PooledFactory struct {
	mu   sync.Mutex
	pool map[string]reflect.Value
	ids  map[string]uuid.UUID
}

// NewPooledFactory returns a Factory that builds each distinct service
// name exactly once and reuses the same instance for every subsequent
// request.
func NewPooledFactory() *PooledFactory {
	return &PooledFactory{
		pool: make(map[string]reflect.Value),
		ids:  make(map[string]uuid.UUID),
	}
}

func (f *PooledFactory) New(serviceName string, t reflect.Type) (reflect.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if v, ok := f.pool[serviceName]; ok {
		return v, nil
	}

	var v reflect.Value
	if t.Kind() == reflect.Ptr {
		v = reflect.New(t.Elem())
	} else {
		v = reflect.New(t).Elem()
	}
	f.pool[serviceName] = v
	f.ids[serviceName] = uuid.New()
	return v, nil
}

func (f *PooledFactory) Release(string, reflect.Value) {
	// Pooled instances outlive any single request; nothing to release.
}

// InstanceID returns the pool-assigned id for a service name, mostly
// useful for structured log lines that want a stable correlation token
// per pooled instance.
func (f *PooledFactory) InstanceID(serviceName string) (uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.ids[serviceName]
	return id, ok
}
