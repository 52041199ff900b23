package panicerr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall(t *testing.T) {
	sentinel := errors.New("plain failure")

	tests := []struct {
		name    string
		fn      func() error
		wantErr string
	}{
		{name: "ok", fn: func() error { return nil }},
		{name: "error", fn: func() error { return sentinel }, wantErr: "plain failure"},
		{name: "panic", fn: func() error { panic("session expired") }, wantErr: "session expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Call(tt.fn)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCallContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	err := CallContext(ctx, func(ctx context.Context) error {
		if ctx.Value(key{}) != "v" {
			return errors.New("context not propagated")
		}
		panic(errors.New("nested"))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovered panic")

	assert.NoError(t, Safe(func() error { return nil })())
}
