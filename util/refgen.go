package util

import (
	"math/rand"
	"sync"
	"time"
)

var (
	mu sync.Mutex
	r  = rand.New(rand.NewSource(time.Now().UnixNano()))
)

const allowedChars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateRequestID returns a short random opaque identifier. Safe for
// concurrent submissions.
func GenerateRequestID(length int) string {
	if length <= 0 {
		length = 8
	}
	b := make([]byte, length)
	mu.Lock()
	for i := range b {
		b[i] = allowedChars[r.Intn(len(allowedChars))]
	}
	mu.Unlock()
	return string(b)
}
