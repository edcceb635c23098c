package db

import (
	"errors"
	"io"
	"strings"
	"syscall"
)

var retryableErrs = []error{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	io.EOF,
}

var retryableSubstrings = []string{
	"connection reset by peer",
	"connection refused",
}

func RetryableError(err error) bool {
	if err == nil {
		return false
	}

	for _, retryableErr := range retryableErrs {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	for _, substring := range retryableSubstrings {
		if strings.Contains(err.Error(), substring) {
			return true
		}
	}

	return false
}
