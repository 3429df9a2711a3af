package aio

// State is a type that implements [Event].
//
// A State carries a value. Calling the Set or Update method of a State,
// in a [Task] function, updates the value and resumes any [Coroutine]
// that is watching the State.
//
// A State must not be shared by more than one [Loop].
type State[T any] struct {
	Signal
	value T
}

// NewState creates a new [State] carrying v.
func NewState[T any](v T) *State[T] {
	return &State[T]{value: v}
}

// Get retrieves the value of s.
func (s *State[T]) Get() T {
	return s.value
}

// Set updates the value of s and resumes any [Coroutine] that is
// watching s.
//
// One should only call this method in a [Task] function or a loop
// callback.
func (s *State[T]) Set(v T) {
	s.value = v
	s.Notify()
}

// Update updates the value of s with f and resumes any [Coroutine] that
// is watching s.
//
// One should only call this method in a [Task] function or a loop
// callback.
func (s *State[T]) Update(f func(v T) T) {
	s.Set(f(s.value))
}
