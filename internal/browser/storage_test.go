package browser

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/browserpool/internal/profile"
	"github.com/neboloop/browserpool/internal/snapshot"
)

func TestCaptureState(t *testing.T) {
	bctx := &fakeContext{state: &playwright.StorageState{
		Cookies: []playwright.Cookie{{
			Name: "sid", Value: "abc", Domain: ".example.com", Path: "/",
			Expires: 1700000000, HttpOnly: true, Secure: true,
			SameSite: playwright.SameSiteAttributeLax,
		}},
		Origins: []playwright.Origin{{
			Origin:       "https://example.com",
			LocalStorage: []playwright.NameValue{{Name: "token", Value: "t1"}},
		}},
	}}

	data, err := CaptureState(bctx)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"cookies":[{"name":"sid","value":"abc","domain":".example.com","path":"/","expires":1700000000,"httpOnly":true,"secure":true,"sameSite":"Lax"}],
		"origins":[{"origin":"https://example.com","localStorage":[{"name":"token","value":"t1"}]}]
	}`, string(data))
}

func TestCaptureStateEmpty(t *testing.T) {
	data, err := CaptureState(&fakeContext{})
	require.NoError(t, err)
	require.JSONEq(t, snapshot.EmptyState, string(data))
}

func TestApplyState(t *testing.T) {
	s, err := ParseState([]byte(`{
		"cookies":[
			{"name":"sid","value":"abc","domain":".example.com","path":"/","sameSite":"Strict","secure":true},
			{"name":"","value":"dropped","domain":"x","path":"/"},
			{"name":"nohost","value":"dropped"}
		],
		"origins":[{"origin":"https://example.com","localStorage":[{"name":"k","value":"v"}]}]
	}`))
	require.NoError(t, err)

	bctx := &fakeContext{}
	require.NoError(t, ApplyState(bctx, s))

	require.Len(t, bctx.cookies, 1)
	c := bctx.cookies[0]
	require.Equal(t, "sid", c.Name)
	require.Equal(t, ".example.com", *c.Domain)
	require.Equal(t, playwright.SameSiteAttributeStrict, c.SameSite)
	require.True(t, *c.Secure)
	require.Nil(t, c.HttpOnly)

	require.Len(t, bctx.initScripts, 1)
	require.Contains(t, bctx.initScripts[0], `"https://example.com":{"k":"v"}`)
	require.Contains(t, bctx.initScripts[0], "location.origin")
}

func TestParseStateInvalid(t *testing.T) {
	_, err := ParseState([]byte("not json"))
	require.Error(t, err)
}

func TestSnapshotSeeder(t *testing.T) {
	v, err := profile.NewValidator(t.TempDir(), "master", "")
	require.NoError(t, err)
	store := snapshot.New(v, snapshot.WithLogger(quietLogger()))
	require.NoError(t, store.EnsureInitialized("master"))

	seeder := &SnapshotSeeder{Store: store, ProfileID: "master", Logger: quietLogger()}
	newTestWorker := func() (*Worker, *fakeContext) {
		bctx := &fakeContext{}
		return newWorker("slave_1_1", t.TempDir(), &Instance{Context: bctx, Process: &fakeProcess{}}, nil, false, quietLogger()), bctx
	}

	// Version 0 has nothing worth seeding.
	w, bctx := newTestWorker()
	require.NoError(t, seeder.Seed(context.Background(), w))
	require.Empty(t, bctx.cookies)
	require.Empty(t, bctx.initScripts)

	state, err := json.Marshal(State{
		Cookies: []Cookie{{Name: "sid", Value: "1", URL: "https://example.com"}},
		Origins: []OriginState{},
	})
	require.NoError(t, err)
	require.True(t, store.TryPublish(context.Background(), "master", 0, state))

	w, bctx = newTestWorker()
	require.NoError(t, seeder.Seed(context.Background(), w))
	require.Len(t, bctx.cookies, 1)
	require.Equal(t, "https://example.com", *bctx.cookies[0].URL)
	require.Empty(t, bctx.initScripts)
}

func TestSnapshotSeederMissingSnapshot(t *testing.T) {
	v, err := profile.NewValidator(t.TempDir(), "master", "")
	require.NoError(t, err)
	seeder := &SnapshotSeeder{Store: snapshot.New(v), ProfileID: "master", Logger: quietLogger()}

	bctx := &fakeContext{}
	w := newWorker("slave_1_1", t.TempDir(), &Instance{Context: bctx, Process: &fakeProcess{}}, nil, false, quietLogger())
	require.NoError(t, seeder.Seed(context.Background(), w))
	require.Empty(t, bctx.cookies)
}
