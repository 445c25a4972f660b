package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cellar/internal/shared"
)

type staticSource struct {
	grants map[int64][]string
	calls  int
	err    error
}

func (s *staticSource) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.grants[userID], nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, actor string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	Authenticate(h).ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAny(t *testing.T) {
	src := &staticSource{grants: map[int64][]string{
		7: {"Inventory.View"},
		8: {"inventory.move"},
	}}
	mw := Middleware{Source: src}
	h := mw.RequireAny("inventory.view", "inventory.override")(okHandler())

	require.Equal(t, http.StatusNoContent, serve(h, "7"))
	require.Equal(t, http.StatusForbidden, serve(h, "8"))
	require.Equal(t, http.StatusUnauthorized, serve(h, ""))
	require.Equal(t, http.StatusUnauthorized, serve(h, "abc"))
	require.Equal(t, http.StatusUnauthorized, serve(h, "-3"))
}

func TestRequireAll(t *testing.T) {
	src := &staticSource{grants: map[int64][]string{
		7: {"inventory.view", "inventory.override"},
		8: {"inventory.view"},
	}}
	h := Middleware{Source: src}.RequireAll("inventory.view", "inventory.override")(okHandler())

	require.Equal(t, http.StatusNoContent, serve(h, "7"))
	require.Equal(t, http.StatusForbidden, serve(h, "8"))
}

func TestRequireAnySourceFailure(t *testing.T) {
	h := Middleware{Source: &staticSource{err: errors.New("db down")}}.RequireAny("inventory.view")(okHandler())
	require.Equal(t, http.StatusInternalServerError, serve(h, "7"))
}

func TestAuthenticateStoresActor(t *testing.T) {
	var got int64
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = shared.ActorFromContext(r.Context())
	})
	serve(h, "42")
	require.Equal(t, int64(42), got)
}

func TestCacheMemoisesPermissions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	src := &staticSource{grants: map[int64][]string{5: {"inventory.override"}}}
	cache := NewCache(src, client, time.Minute, nil)
	ctx := context.Background()

	ok, err := cache.HasPermission(ctx, 5, "INVENTORY.OVERRIDE")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = cache.HasPermission(ctx, 5, "inventory.view")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, src.calls)

	require.NoError(t, cache.Invalidate(ctx, 5))
	_, err = cache.EffectivePermissions(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)

	mr.FastForward(2 * time.Minute)
	_, err = cache.EffectivePermissions(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 3, src.calls)
}

func TestCacheFallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	src := &staticSource{grants: map[int64][]string{5: {"inventory.view"}}}
	perms, err := NewCache(src, client, time.Minute, nil).EffectivePermissions(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.view"}, perms)
}

func TestMyPermissions(t *testing.T) {
	src := &staticSource{grants: map[int64][]string{9: {"inventory.view"}}}
	h := NewPermissionsHandler(nil, nil, Middleware{Source: src})
	req := httptest.NewRequest(http.MethodGet, "/me/permissions", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), 9))
	rec := httptest.NewRecorder()
	h.myPermissions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID      int64    `json:"user_id"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(9), body.UserID)
	require.Equal(t, []string{"inventory.view"}, body.Permissions)
}
