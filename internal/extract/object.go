package extract

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Method is a native method on an Instance. self is the instance itself.
type Method func(ctx context.Context, self *Instance, args []any) (any, error)

// Instance is a generic Object: a bag of fields plus named methods.
// Native classes and the CUE/HCL extractors all produce Instances.
type Instance struct {
	class   string
	mu      sync.RWMutex
	fields  map[string]any
	methods map[string]Method
}

// NewInstance returns an instance of class with the given fields and methods.
func NewInstance(class string, fields map[string]any, methods map[string]Method) *Instance {
	if fields == nil {
		fields = map[string]any{}
	}
	if methods == nil {
		methods = map[string]Method{}
	}
	return &Instance{class: class, fields: fields, methods: methods}
}

// Class implements Object.
func (o *Instance) Class() string {
	return o.class
}

// Attr implements Object. Only fields are returned; methods go through
// Invoke.
func (o *Instance) Attr(name string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.fields[name]
	return v, ok
}

// Set writes a field.
func (o *Instance) Set(name string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fields[name] = value
}

// Fields returns a copy of the fields.
func (o *Instance) Fields() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.fields)
}

// Attrs implements Object: field and method names, sorted.
func (o *Instance) Attrs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := slices.Collect(maps.Keys(o.fields))
	for m := range o.methods {
		if _, dup := o.fields[m]; !dup {
			names = append(names, m)
		}
	}
	slices.Sort(names)
	return names
}

// HasMethod reports whether the instance has a method called name.
func (o *Instance) HasMethod(name string) bool {
	_, ok := o.methods[name]
	return ok
}

// Invoke implements Object.
func (o *Instance) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	fn, ok := o.methods[method]
	if !ok {
		return nil, fmt.Errorf("%s has no method %q", o.class, method)
	}
	return fn(ctx, o, args)
}
