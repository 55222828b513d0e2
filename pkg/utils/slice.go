package utils

import "strings"

func ToLowerStringSlice(arr []string) []string {
	res := make([]string, 0, len(arr))
	for _, item := range arr {
		res = append(res, strings.ToLower(item))
	}
	return res
}

// Dedup keeps the first occurrence of each item, preserving order.
func Dedup[T comparable](arr []T) []T {
	seen := make(map[T]struct{}, len(arr))
	res := make([]T, 0, len(arr))
	for _, item := range arr {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		res = append(res, item)
	}
	return res
}
