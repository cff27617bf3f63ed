package cart

import (
	"errors"

	apperrors "github.com/waqas385/wacommerce/pkg/errors"
)

var (
	// ErrSignInRequired is returned by every mutation and load attempted
	// while nobody is signed in. It is distinct from remote failures so the
	// presentation layer can route the user to sign-in instead of showing
	// an error toast.
	ErrSignInRequired = apperrors.Unauthorized("sign in to manage your cart")

	// ErrRemoteWrite wraps a failed write to the remote cart store. The
	// optimistic local change has already been rolled back by the time a
	// caller sees this.
	ErrRemoteWrite = errors.New("remote cart write failed")

	// ErrRemoteRead wraps a failed load from the remote cart store or the
	// product catalog. Previously loaded lines are kept as-is.
	ErrRemoteRead = errors.New("remote cart read failed")
)
