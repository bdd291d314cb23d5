package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/playwright-community/playwright-go"

	"github.com/neboloop/browserpool/internal/snapshot"
)

// Cookie is a browser cookie in storage-state form.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"` // "Strict", "Lax", "None"
}

// StorageItem is one localStorage entry.
type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginState is the localStorage of one origin.
type OriginState struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

// State is the serialized login state of a profile: the JSON persisted as
// a snapshot.
type State struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// ParseState decodes a snapshot state blob.
func ParseState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode storage state: %w", err)
	}
	return &s, nil
}

// CaptureState reads the context's cookies and localStorage and encodes
// them as a snapshot state blob.
func CaptureState(bctx BrowserContext) ([]byte, error) {
	pw, err := bctx.StorageState()
	if err != nil {
		return nil, fmt.Errorf("read storage state: %w", err)
	}

	s := State{Cookies: []Cookie{}, Origins: []OriginState{}}
	for _, c := range pw.Cookies {
		sameSite := ""
		if c.SameSite != nil {
			sameSite = string(*c.SameSite)
		}
		s.Cookies = append(s.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
			SameSite: sameSite,
		})
	}
	for _, o := range pw.Origins {
		items := make([]StorageItem, 0, len(o.LocalStorage))
		for _, kv := range o.LocalStorage {
			items = append(items, StorageItem{Name: kv.Name, Value: kv.Value})
		}
		s.Origins = append(s.Origins, OriginState{Origin: o.Origin, LocalStorage: items})
	}
	return json.Marshal(s)
}

// ApplyState adds the state's cookies to bctx and installs an init script
// that restores each origin's localStorage on first visit.
func ApplyState(bctx BrowserContext, s *State) error {
	if len(s.Cookies) > 0 {
		cookies := make([]playwright.OptionalCookie, 0, len(s.Cookies))
		for _, c := range s.Cookies {
			oc, err := c.optional()
			if err != nil {
				continue
			}
			cookies = append(cookies, oc)
		}
		if err := bctx.AddCookies(cookies); err != nil {
			return fmt.Errorf("add cookies: %w", err)
		}
	}

	if len(s.Origins) > 0 {
		script, err := localStorageScript(s.Origins)
		if err != nil {
			return err
		}
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
			return fmt.Errorf("add localStorage script: %w", err)
		}
	}
	return nil
}

func (c Cookie) optional() (playwright.OptionalCookie, error) {
	if c.Name == "" {
		return playwright.OptionalCookie{}, fmt.Errorf("cookie name is required")
	}
	// Must have either URL or domain+path
	hasURL := c.URL != ""
	hasDomainPath := c.Domain != "" && c.Path != ""
	if !hasURL && !hasDomainPath {
		return playwright.OptionalCookie{}, fmt.Errorf("cookie %s requires url, or domain+path", c.Name)
	}

	var sameSite *playwright.SameSiteAttribute
	switch c.SameSite {
	case "Strict":
		sameSite = playwright.SameSiteAttributeStrict
	case "None":
		sameSite = playwright.SameSiteAttributeNone
	case "Lax", "":
		sameSite = playwright.SameSiteAttributeLax
	}

	oc := playwright.OptionalCookie{
		Name:     c.Name,
		Value:    c.Value,
		SameSite: sameSite,
	}
	if c.Domain != "" {
		oc.Domain = playwright.String(c.Domain)
	}
	if c.Path != "" {
		oc.Path = playwright.String(c.Path)
	}
	if c.URL != "" {
		oc.URL = playwright.String(c.URL)
	}
	if c.Expires > 0 {
		oc.Expires = playwright.Float(c.Expires)
	}
	if c.HTTPOnly {
		oc.HttpOnly = playwright.Bool(true)
	}
	if c.Secure {
		oc.Secure = playwright.Bool(true)
	}
	return oc, nil
}

func localStorageScript(origins []OriginState) (string, error) {
	byOrigin := make(map[string]map[string]string, len(origins))
	for _, o := range origins {
		items := make(map[string]string, len(o.LocalStorage))
		for _, kv := range o.LocalStorage {
			items[kv.Name] = kv.Value
		}
		byOrigin[o.Origin] = items
	}
	data, err := json.Marshal(byOrigin)
	if err != nil {
		return "", fmt.Errorf("encode localStorage: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const items = (%s)[location.origin];
  if (!items) return;
  try {
    for (const [k, v] of Object.entries(items)) {
      if (localStorage.getItem(k) === null) localStorage.setItem(k, v);
    }
  } catch (e) {}
})();`, data), nil
}

// SnapshotSeeder restores a profile's published login state into new
// workers. Use Seed as PoolOptions.OnWorkerStart.
type SnapshotSeeder struct {
	Store     *snapshot.Store
	ProfileID string
	Logger    *slog.Logger
}

// Seed applies the latest published snapshot to the worker's context.
// Failures are logged and never prevent the worker from starting.
func (s *SnapshotSeeder) Seed(ctx context.Context, w *Worker) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default().With("component", "seeder")
	}
	logger = logger.With("source", s.ProfileID, "worker", w.ProfileID())

	h, data, err := s.Store.Load(s.ProfileID)
	if err != nil {
		logger.Debug("no snapshot to seed from", "error", err)
		return nil
	}
	if h.Version == 0 {
		return nil
	}

	state, err := ParseState(data)
	if err != nil {
		logger.Warn("snapshot unreadable", "version", h.Version, "error", err)
		return nil
	}
	if err := ApplyState(w.Context(), state); err != nil {
		logger.Warn("failed to seed worker", "version", h.Version, "error", err)
		return nil
	}
	logger.Info("worker seeded from snapshot", "version", h.Version, "cookies", len(state.Cookies), "origins", len(state.Origins))
	return nil
}
