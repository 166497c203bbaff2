package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/multidoc/gateway/internal/model"

	"golang.org/x/crypto/bcrypt"
)

// Verifier checks a username and password pair.
type Verifier interface {
	Verify(ctx context.Context, username, password string) bool
}

// StaticVerifier verifies against a fixed list of users with bcrypt hashed passwords.
type StaticVerifier struct {
	hashes map[string][]byte
}

func NewStaticVerifier(users []model.User) (*StaticVerifier, error) {
	hashes := make(map[string][]byte, len(users))
	var errs []error
	for idx, u := range users {
		if u.Username == "" {
			errs = append(errs, fmt.Errorf("auth.users[%d]: empty username", idx))
			continue
		}
		if _, ok := hashes[u.Username]; ok {
			errs = append(errs, fmt.Errorf("auth.users[%d]: duplicate username %q", idx, u.Username))
			continue
		}
		hash := []byte(u.PasswordHash)
		if _, err := bcrypt.Cost(hash); err != nil {
			errs = append(errs, fmt.Errorf("auth.users[%d]: password_hash of %q: %w", idx, u.Username, err))
			continue
		}
		hashes[u.Username] = hash
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &StaticVerifier{hashes: hashes}, nil
}

// Verify reports whether password matches the hash of username. Unknown users
// cost the same bcrypt comparison as known ones.
func (v *StaticVerifier) Verify(_ context.Context, username, password string) bool {
	hash, ok := v.hashes[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// Len returns the number of configured users.
func (v *StaticVerifier) Len() int {
	return len(v.hashes)
}

// HashPassword returns the bcrypt hash to be put into auth.users[].password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

var dummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("gateway"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
})
