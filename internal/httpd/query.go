package httpd

import (
	"errors"
	"strings"
)

var (
	ErrNoQuery          = errors.New("request has no query string")
	ErrQueryKeyNotFound = errors.New("query key not found")
	ErrQueryTruncated   = errors.New("query value does not fit")
)

// QueryKeyValue returns the raw value of key in an "a=1&b=2" query. Values
// are not URL-decoded. max counts a trailing terminator the way a fixed
// buffer would, so a value needs len(value) < max to fit.
func QueryKeyValue(query, key string, max int) (string, error) {
	for _, pair := range strings.Split(query, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if k != key {
			continue
		}
		if len(v) >= max {
			return "", ErrQueryTruncated
		}
		return v, nil
	}
	return "", ErrQueryKeyNotFound
}
