package graph

// Value-level merge helpers for building state reducers.

// KeepFirst retains the existing value unless it is unset.
func KeepFirst[T comparable](current, update T) T {
	var zero T
	if current != zero {
		return current
	}
	return update
}

// KeepNew overwrites with the incoming value when it is set.
func KeepNew[T comparable](current, update T) T {
	var zero T
	if update != zero {
		return update
	}
	return current
}

// Append concatenates the incoming list onto the existing one.
func Append[T any](current, update []T) []T {
	if len(update) == 0 {
		return current
	}
	out := make([]T, 0, len(current)+len(update))
	out = append(out, current...)
	return append(out, update...)
}

// MergeFiles unions two file maps; incoming entries win per key.
func MergeFiles(current, update map[string]string) map[string]string {
	if len(update) == 0 {
		return current
	}
	out := make(map[string]string, len(current)+len(update))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}
