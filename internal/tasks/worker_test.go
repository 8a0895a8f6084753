package tasks

import (
	"context"
	"fmt"
	"testing"

	"github.com/yourusername/invoice-imposer/internal/apperr"
)

func TestClassifyErrorKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline exceeded", context.DeadlineExceeded, ErrorKindTimeout},
		{"bad input", apperr.New(apperr.CodeBadInput, "bad", nil), ErrorKindBadInput},
		{"oversize", apperr.New(apperr.CodeOversize, "big", nil), ErrorKindOversize},
		{"wrapped bad input", fmt.Errorf("compose: %w", apperr.New(apperr.CodeBadInput, "bad", nil)), ErrorKindBadInput},
		{"unclassified", fmt.Errorf("boom"), ErrorKindInternal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classifyErrorKind(c.err); got != c.want {
				t.Errorf("classifyErrorKind(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
