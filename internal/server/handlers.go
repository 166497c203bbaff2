package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/multidoc/gateway/internal/model"
	"github.com/multidoc/gateway/internal/service"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, messageResponse{
			Status:  statusError,
			Message: "Invalid request body",
		})
		return
	}
	if req.Username == "" || !s.deps.Verifier.Verify(ctx, req.Username, req.Password) {
		slog.InfoContext(ctx, "login failed", "username", req.Username)
		writeJSON(ctx, w, http.StatusUnauthorized, messageResponse{
			Status:  statusError,
			Message: "Invalid credentials",
		})
		return
	}

	sess, err := s.deps.Sessions.Login(ctx, req.Username)
	if err != nil {
		slog.ErrorContext(ctx, "creating session failed", "username", req.Username, "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, messageResponse{
			Status:  statusError,
			Message: "Failed to create session",
		})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.Expires,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	slog.InfoContext(ctx, "logged in", "username", req.Username)
	writeJSON(ctx, w, http.StatusOK, messageResponse{
		Status:  statusSuccess,
		Message: "Logged in successfully",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.deps.Sessions.Logout(ctx, c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(ctx, w, http.StatusOK, messageResponse{
		Status:  statusSuccess,
		Message: "Logged out successfully",
	})
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	_, ok := s.session(r)
	writeJSON(r.Context(), w, http.StatusOK, checkAuthResponse{LoggedIn: ok})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := caller(ctx)

	var payload service.RunPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, runResponse{
			Status: statusError,
			Error:  "Invalid JSON body: " + err.Error(),
		})
		return
	}

	req, err := service.Validate(ok, user, payload)
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
			Status: statusError,
			Error:  "Unauthorized. Please log in.",
		})
		return
	case errors.Is(err, model.ErrBadRequest):
		writeJSON(ctx, w, http.StatusBadRequest, runResponse{
			Status: statusError,
			Error:  "No prompt provided",
		})
		return
	case err != nil:
		writeJSON(ctx, w, http.StatusInternalServerError, runResponse{
			Status: statusError,
			Error:  "An unexpected error occurred: " + err.Error(),
		})
		return
	}

	invCtx, cancel := s.invocationContext(r)
	defer cancel()
	res := s.deps.Invoker.Invoke(invCtx, req)
	status, body := runResult(res)
	writeJSON(ctx, w, status, body)
}

// runResult maps an invocation outcome to the HTTP status and body.
func runResult(res model.InvocationResult) (int, runResponse) {
	switch res.Outcome {
	case model.OutcomeSuccess:
		return http.StatusOK, runResponse{
			Status: statusSuccess,
			Output: res.Stdout,
			Error:  res.Stderr,
		}
	case model.OutcomeNonZeroExit:
		return http.StatusInternalServerError, runResponse{
			Status:     statusError,
			Output:     res.Stdout,
			Error:      res.Stderr,
			ReturnCode: res.ExitCode,
		}
	case model.OutcomeTimeout, model.OutcomeLaunchFailure, model.OutcomeInternalError:
		return http.StatusInternalServerError, runResponse{
			Status: statusError,
			Error:  res.ErrorMessage,
		}
	default:
		return http.StatusInternalServerError, runResponse{
			Status: statusError,
			Error:  fmt.Sprintf("An unexpected error occurred: unknown outcome %q", res.Outcome),
		}
	}
}

// decodeJSON decodes a single JSON value from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}
