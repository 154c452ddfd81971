package database

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"An error occurred: " + ThrowConflict, ErrConflict},
		{"Failed to commit transaction due to a read or write conflict", ErrConflict},
		{"Transaction conflict: retry", ErrConflict},
		{"Database record `sect:abc` already exists", ErrDuplicate},
		{"Database index `uniq_member` already contains 'u1'", ErrDuplicate},
		{"An error occurred: " + ThrowLimitExceeded, ErrLimitExceeded},
		{"An error occurred: " + ThrowNotFound, ErrNotFound},
		{"Parse error: unexpected token", ErrQuery},
	}

	for _, tt := range tests {
		if got := classifyError(tt.msg); !errors.Is(got, tt.want) {
			t.Errorf("classifyError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
