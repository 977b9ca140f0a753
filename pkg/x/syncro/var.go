package syncro

import (
	"sync"
)

// Var stores a single variable and allows synchronized access
type Var[T any] struct {
	value T
	lock  sync.RWMutex
}

// Set sets the value
func (sv *Var[T]) Set(value T) {
	sv.lock.Lock()
	defer sv.lock.Unlock()
	sv.value = value
}

// Get retrieves the value
func (sv *Var[T]) Get() T {
	sv.lock.RLock()
	defer sv.lock.RUnlock()
	return sv.value
}

// Swap stores value and returns the value it replaced
func (sv *Var[T]) Swap(value T) T {
	sv.lock.Lock()
	defer sv.lock.Unlock()
	old := sv.value
	sv.value = value
	return old
}

// WorkWith calls a function to work with the data under lock
func (sv *Var[T]) WorkWith(f func(*T)) {
	sv.lock.Lock()
	defer sv.lock.Unlock()
	f(&sv.value)
}

// WorkWithReadOnly calls a function to work with the data under lock.  You are on the honor system not to change it.
func (sv *Var[T]) WorkWithReadOnly(f func(T)) {
	sv.lock.RLock()
	defer sv.lock.RUnlock()
	f(sv.value)
}
