package service

import (
	"fmt"
	"strings"

	"github.com/multidoc/gateway/internal/model"
)

// RunPayload is the body of a run request.
type RunPayload struct {
	Prompt     *string `json:"prompt"`
	LambdaChat bool    `json:"lambdaChat"`
}

// Validate turns a run request into an InvocationRequest. Authentication is
// checked before the payload. The prompt is passed on untrimmed.
func Validate(authenticated bool, caller string, payload RunPayload) (model.InvocationRequest, error) {
	if !authenticated {
		return model.InvocationRequest{}, model.ErrUnauthorized
	}
	if payload.Prompt == nil || strings.TrimSpace(*payload.Prompt) == "" {
		return model.InvocationRequest{}, fmt.Errorf("%w: no prompt provided", model.ErrBadRequest)
	}
	return model.InvocationRequest{
		Prompt:   *payload.Prompt,
		ModeFlag: payload.LambdaChat,
		Caller:   caller,
	}, nil
}
