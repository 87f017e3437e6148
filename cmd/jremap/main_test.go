package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"jremap/internal/container"
	"jremap/internal/rename"
	"jremap/internal/storage"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"inconsistent mapping", &rename.InconsistentMappingError{ID: "t1.m0:()V", Reason: "dangling reference"}, exitInconsistent},
		{"wrapped inconsistent mapping", fmt.Errorf("remap v2: %w", rename.ErrInconsistentMapping), exitInconsistent},
		{"malformed container", &container.MalformedError{Entry: "a.class", Offset: 4, Err: errors.New("unexpected end of data")}, exitMalformed},
		{"wrapped malformed container", fmt.Errorf("in.jar: %w", &container.MalformedError{Err: errors.New("bad zip")}), exitMalformed},
		{"missing version", fmt.Errorf("load v1: %w", storage.ErrNotFound), exitError},
		{"cancelled", context.Canceled, exitError},
		{"other", errors.New("boom"), exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
