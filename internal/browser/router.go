package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neboloop/browserpool/internal/profile"
)

// ProfileType selects the pool a task runs on.
type ProfileType string

const (
	ProfileEphemeral ProfileType = "ephemeral"
	ProfileMaster    ProfileType = "master"
)

// ParseProfileType accepts "ephemeral" (the default when blank) and
// "master", case-insensitively.
func ParseProfileType(s string) (ProfileType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ProfileEphemeral):
		return ProfileEphemeral, nil
	case string(ProfileMaster):
		return ProfileMaster, nil
	default:
		return "", fmt.Errorf("%w: unknown profile type %q", profile.ErrInvalidID, s)
	}
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithFallback makes master tasks that find the master pool busy or
// locked run on the ephemeral pool instead.
func WithFallback(enabled bool) RouterOption {
	return func(r *Router) {
		r.fallback = enabled
	}
}

// WithRouterLogger sets the router logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// Router validates a caller's profile request and dispatches it to the
// ephemeral or master pool.
type Router struct {
	profiles  *profile.Validator
	masterID  string
	ephemeral *Pool
	master    *Pool
	fallback  bool
	logger    *slog.Logger
}

// NewRouter creates a router. master may be nil when no master profile is
// configured; master tasks then fail validation.
func NewRouter(profiles *profile.Validator, masterID string, ephemeral, master *Pool, opts ...RouterOption) (*Router, error) {
	if ephemeral == nil {
		return nil, fmt.Errorf("router: ephemeral pool is required")
	}
	if master != nil {
		id, err := profiles.Normalize(masterID)
		if err != nil {
			return nil, fmt.Errorf("router: master profile: %w", err)
		}
		masterID = id
	}

	r := &Router{
		profiles:  profiles,
		masterID:  masterID,
		ephemeral: ephemeral,
		master:    master,
		logger:    slog.Default().With("component", "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Execute runs task for the given profile. Validation happens before any
// pool is touched. Master tasks require profileID to name the master
// profile (a blank id means the configured default).
func (r *Router) Execute(ctx context.Context, profileID, profileType string, task Task) (any, error) {
	pt, err := ParseProfileType(profileType)
	if err != nil {
		return nil, err
	}
	id, err := r.profiles.Normalize(profileID)
	if err != nil {
		return nil, err
	}

	if pt == ProfileEphemeral {
		return r.ephemeral.Execute(ctx, task)
	}

	if r.master == nil {
		return nil, fmt.Errorf("%w: no master profile configured", profile.ErrInvalidID)
	}
	if id != r.masterID {
		return nil, fmt.Errorf("%w: %q is not the master profile", profile.ErrInvalidID, id)
	}

	result, err := r.master.Execute(ctx, task)
	if err != nil && r.fallback && IsUnavailable(err) {
		r.logger.Info("master unavailable, falling back to ephemeral pool", "profile", id, "reason", err)
		return r.ephemeral.Execute(ctx, task)
	}
	return result, err
}

// Stats returns the stats of every pool.
func (r *Router) Stats() []Stats {
	stats := []Stats{r.ephemeral.Stats()}
	if r.master != nil {
		stats = append(stats, r.master.Stats())
	}
	return stats
}

// Ephemeral returns the ephemeral pool.
func (r *Router) Ephemeral() *Pool { return r.ephemeral }

// Shutdown shuts down both pools.
func (r *Router) Shutdown() {
	if r.master != nil {
		r.master.Shutdown()
	}
	r.ephemeral.Shutdown()
}
