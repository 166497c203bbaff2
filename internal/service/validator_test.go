package service_test

import (
	"testing"

	"github.com/multidoc/gateway/internal/model"
	"github.com/multidoc/gateway/internal/service"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario      string
		authenticated bool
		payload       service.RunPayload
		err           error
	}{
		{"unauthenticated", false, service.RunPayload{Prompt: ptr("hello")}, model.ErrUnauthorized},
		{"unauthenticated without prompt", false, service.RunPayload{}, model.ErrUnauthorized},
		{"missing prompt", true, service.RunPayload{LambdaChat: true}, model.ErrBadRequest},
		{"empty prompt", true, service.RunPayload{Prompt: ptr("")}, model.ErrBadRequest},
		{"blank prompt", true, service.RunPayload{Prompt: ptr(" \t\n")}, model.ErrBadRequest},
		{"ok", true, service.RunPayload{Prompt: ptr("  hello "), LambdaChat: true}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			req, err := service.Validate(tc.authenticated, "admin", tc.payload)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "  hello ", req.Prompt)
			require.True(t, req.ModeFlag)
			require.Equal(t, "admin", req.Caller)
		})
	}
}
