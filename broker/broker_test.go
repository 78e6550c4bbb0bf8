package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth", ErrAuth, false},
		{"wrapped auth", fmt.Errorf("call: %w", ErrAuth), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"timeout", timeoutErr{}, true},
		{"http 500", &APIError{Status: 500, Body: "boom"}, true},
		{"http 429", &APIError{Status: 429}, true},
		{"http 400", &APIError{Status: 400, Body: "bad units"}, false},
		{"http 404", &APIError{Status: 404}, false},
		{"generic transport", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Transient(tc.err))
		})
	}
}
