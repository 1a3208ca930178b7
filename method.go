package shimz

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoMethod is returned when calling a method that is not defined.
var ErrNoMethod = errors.New("no such method")

// Method is the uniform shape of an interceptable method: the receiver, the
// raw argument list and a single return value.
type Method func(recv any, args ...any) any

// Wrapper decorates a Method. It receives the original and returns the
// replacement.
type Wrapper func(original Method) Method

// Target is anything whose methods can be replaced by name.
type Target interface {
	Method(name string) (Method, bool)
	SetMethod(name string, m Method)
}

// MethodSet is a named, replaceable method table. Embed it in a type to make
// that type a Target.
type MethodSet struct {
	methods map[string]Method
	mu      sync.RWMutex
}

// Define sets the implementation of a method.
func (s *MethodSet) Define(name string, m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.methods == nil {
		s.methods = make(map[string]Method)
	}
	s.methods[name] = m
}

// Method returns the current implementation of name.
func (s *MethodSet) Method(name string) (Method, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.methods[name]
	return m, ok && m != nil
}

// SetMethod replaces the implementation of name.
func (s *MethodSet) SetMethod(name string, m Method) {
	s.Define(name, m)
}

// Call invokes name with recv as the receiver.
func (s *MethodSet) Call(recv any, name string, args ...any) (any, error) {
	m, ok := s.Method(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNoMethod)
	}
	return m(recv, args...), nil
}

// Names returns the defined method names.
func (s *MethodSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	return names
}
