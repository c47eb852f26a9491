package helpers

import "context"

type Nothing struct{}

// Result carries either a value or an error through a channel.
type Result[T any] struct {
	value T
	err   error
}

func NewValueResult[T any](value T) Result[T] {
	return Result[T]{
		value: value,
	}
}

func NewErrorResult[T any](err error) Result[T] {
	return Result[T]{
		err: err,
	}
}

func (r Result[T]) Value() (T, error) {
	return r.value, r.err
}

func (r Result[T]) Error() error {
	return r.err
}

func (r Result[T]) Ok() bool {
	return r.err == nil
}

func (r Result[T]) ValueOr(v T) T {
	if r.err != nil {
		return v
	}
	return r.value
}

// SendResult delivers r on c unless ctx is done first. It reports whether r was sent.
func SendResult[T any](ctx context.Context, c chan<- Result[T], r Result[T]) bool {
	select {
	case <-ctx.Done():
		return false
	case c <- r:
		return true
	}
}

// Collect drains c, concatenating values with join, and stops at the first error.
func Collect[T any](c <-chan Result[T], join func(acc T, v T) T) (T, error) {
	var acc T
	for r := range c {
		v, err := r.Value()
		if err != nil {
			// drain so the producer can exit
			for range c {
			}
			return acc, err
		}
		acc = join(acc, v)
	}
	return acc, nil
}
