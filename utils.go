package waveviewer

import (
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Float | constraints.Integer
}

func Filter[T any](slice []T, predicate func(T) bool) []T {
	filtered := make([]T, 0, len(slice))
	for _, elem := range slice {
		if predicate(elem) {
			filtered = append(filtered, elem)
		}
	}
	return filtered
}

func Min[T Number](a T, b T) T {
	if a > b {
		return b
	}

	return a
}

func Max[T Number](a T, b T) T {
	if a < b {
		return b
	}

	return a
}

// Extent returns the smallest and largest element of values. ok is false for
// an empty slice, in which case lo and hi are zero.
func Extent[T Number](values []T) (lo T, hi T, ok bool) {
	if len(values) == 0 {
		return lo, hi, false
	}

	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = Min(lo, v)
		hi = Max(hi, v)
	}

	return lo, hi, true
}

// Map applies f to every element of slice.
func Map[T any, U any](slice []T, f func(T) U) []U {
	mapped := make([]U, len(slice))
	for i, elem := range slice {
		mapped[i] = f(elem)
	}
	return mapped
}
