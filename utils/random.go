package utils

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// RandomInt returns a uniform integer in [0, n).
func RandomInt(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("random: n must be positive")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Choice picks one element of items uniformly.
func Choice[T any](items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, errors.New("random: empty choice")
	}
	i, err := RandomInt(len(items))
	if err != nil {
		return zero, err
	}
	return items[i], nil
}
