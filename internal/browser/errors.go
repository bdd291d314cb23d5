package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned by Execute once the pool has shut down.
	ErrPoolClosed = errors.New("browser pool is shut down")

	// ErrWorkerClosed is returned when a task reaches a disposed worker.
	ErrWorkerClosed = errors.New("browser worker is closed")
)

// Kind tells why a pool could not serve a task right now.
type Kind int

const (
	// KindBusy means every worker stayed busy for the whole queue timeout.
	KindBusy Kind = iota + 1
	// KindLocked means another process holds the profile.
	KindLocked
)

func (k Kind) String() string {
	switch k {
	case KindBusy:
		return "busy"
	case KindLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// UnavailableError signals "try again later or elsewhere", as opposed to a
// hard failure. Callers can fall back to another pool.
type UnavailableError struct {
	Kind      Kind
	Pool      string
	ProfileID string
	Active    int
	Idle      int
}

func (e *UnavailableError) Error() string {
	switch e.Kind {
	case KindBusy:
		return fmt.Sprintf("%s pool busy: %d active, %d idle", e.Pool, e.Active, e.Idle)
	case KindLocked:
		return fmt.Sprintf("profile %q is locked by another process", e.ProfileID)
	default:
		return fmt.Sprintf("%s pool unavailable", e.Pool)
	}
}

// IsBusy reports whether err is a pool-exhaustion signal.
func IsBusy(err error) bool {
	return isKind(err, KindBusy)
}

// IsLocked reports whether err is a profile-locked signal.
func IsLocked(err error) bool {
	return isKind(err, KindLocked)
}

// IsUnavailable reports whether err is busy or locked.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

func isKind(err error, k Kind) bool {
	var ue *UnavailableError
	return errors.As(err, &ue) && ue.Kind == k
}
