package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
)

var (
	testHashKey    = []byte("0123456789abcdef0123456789abcdef")
	testEncryptKey = []byte("fedcba9876543210fedcba9876543210")
)

func newTestStore(t *testing.T, backend Backend) *Store {
	t.Helper()
	store, err := NewStore(backend, Options{
		HashKey:    testHashKey,
		EncryptKey: testEncryptKey,
		TTL:        time.Hour,
		Insecure:   true,
	}, nil)
	require.NoError(t, err)
	return store
}

// roundTrip copies the cookies set on rec onto a fresh request.
func roundTrip(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestNewStore_Validation(t *testing.T) {
	backend := NewMemoryBackend(10, time.Minute)

	_, err := NewStore(nil, Options{HashKey: testHashKey, EncryptKey: testEncryptKey}, nil)
	assert.ErrorIs(t, err, autherr.ErrConfiguration)

	_, err = NewStore(backend, Options{EncryptKey: testEncryptKey}, nil)
	assert.ErrorIs(t, err, autherr.ErrConfiguration)

	_, err = NewStore(backend, Options{HashKey: testHashKey, EncryptKey: []byte("short")}, nil)
	assert.ErrorIs(t, err, autherr.ErrConfiguration)

	store, err := NewStore(backend, Options{HashKey: testHashKey, EncryptKey: testEncryptKey}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultCookieName, store.CookieName())
}

func TestStore_CleanSessionSetsNoCookie(t *testing.T) {
	store := newTestStore(t, NewMemoryBackend(10, time.Minute))
	ctx := context.Background()

	sess, err := store.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.True(t, sess.IsNew())

	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(ctx, rec, sess))
	assert.Empty(t, rec.Result().Cookies())
	assert.Empty(t, sess.ID())
}

func TestStore_SaveAndReload(t *testing.T) {
	store := newTestStore(t, NewMemoryBackend(10, time.Minute))
	ctx := context.Background()

	sess, err := store.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sess.Set("flow", flowValue{State: "s1", Target: "/dashboard"}))

	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(ctx, rec, sess))
	require.Len(t, rec.Result().Cookies(), 1)
	assert.NotEmpty(t, sess.ID())
	assert.False(t, sess.Dirty())

	reloaded, err := store.Load(ctx, roundTrip(rec))
	require.NoError(t, err)
	assert.False(t, reloaded.IsNew())
	assert.Equal(t, sess.ID(), reloaded.ID())

	var got flowValue
	ok, err := reloaded.Get("flow", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", got.State)
}

func TestStore_ExistingSessionDoesNotResetCookie(t *testing.T) {
	store := newTestStore(t, NewMemoryBackend(10, time.Minute))
	ctx := context.Background()

	sess := New()
	require.NoError(t, sess.Set("k", "v"))
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(ctx, rec, sess))

	reloaded, err := store.Load(ctx, roundTrip(rec))
	require.NoError(t, err)
	require.NoError(t, reloaded.Set("k", "v2"))

	rec2 := httptest.NewRecorder()
	require.NoError(t, store.Save(ctx, rec2, reloaded))
	assert.Empty(t, rec2.Result().Cookies())
}

func TestStore_TamperedCookieYieldsNewSession(t *testing.T) {
	store := newTestStore(t, NewMemoryBackend(10, time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "not-a-signed-value"})

	sess, err := store.Load(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, sess.IsNew())
	assert.Zero(t, sess.Len())
}

func TestStore_ForgottenSessionYieldsNewSession(t *testing.T) {
	backend := NewMemoryBackend(10, time.Minute)
	store := newTestStore(t, backend)
	ctx := context.Background()

	sess := New()
	require.NoError(t, sess.Set("k", "v"))
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(ctx, rec, sess))
	require.NoError(t, backend.Delete(ctx, sess.ID()))

	reloaded, err := store.Load(ctx, roundTrip(rec))
	require.NoError(t, err)
	assert.True(t, reloaded.IsNew())
}

func TestStore_Destroy(t *testing.T) {
	backend := NewMemoryBackend(10, time.Minute)
	store := newTestStore(t, backend)
	ctx := context.Background()

	sess := New()
	require.NoError(t, sess.Set("k", "v"))
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(ctx, rec, sess))

	rec2 := httptest.NewRecorder()
	require.NoError(t, store.Destroy(ctx, rec2, sess))

	_, err := backend.Load(ctx, sess.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	// A destroyed session is never written back.
	rec3 := httptest.NewRecorder()
	require.NoError(t, sess.Set("k", "again"))
	require.NoError(t, store.Save(ctx, rec3, sess))
	_, err = backend.Load(ctx, sess.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RedisBackendFailureIsUpstream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := newTestStore(t, NewRedisBackendWithClient(client, DefaultRedisKeyPrefix))
	ctx := context.Background()

	sess := New()
	require.NoError(t, sess.Set("k", "v"))
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(ctx, rec, sess))

	mr.Close()
	_, err := store.Load(ctx, roundTrip(rec))
	assert.ErrorIs(t, err, autherr.ErrUpstream)
}

func TestStore_RegenerateIssuesNewIDAndDropsOld(t *testing.T) {
	backend := NewMemoryBackend(10, time.Minute)
	store := newTestStore(t, backend)
	ctx := context.Background()

	sess := New()
	require.NoError(t, sess.Set("k", "v"))
	require.NoError(t, store.Save(ctx, httptest.NewRecorder(), sess))
	oldID := sess.ID()

	sess.Regenerate()
	assert.True(t, sess.IsNew())
	assert.True(t, sess.Dirty())

	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(ctx, rec, sess))
	assert.NotEqual(t, oldID, sess.ID())
	assert.Len(t, rec.Result().Cookies(), 1)

	_, err := backend.Load(ctx, oldID)
	assert.ErrorIs(t, err, ErrNotFound)

	reloaded, err := store.Load(ctx, roundTrip(rec))
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), reloaded.ID())
	var got string
	ok, err := reloaded.Get("k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestStore_RegenerateUnsavedSession(t *testing.T) {
	store := newTestStore(t, NewMemoryBackend(10, time.Minute))

	sess := New()
	sess.Regenerate()
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(context.Background(), rec, sess))
	assert.NotEmpty(t, sess.ID())
	assert.Len(t, rec.Result().Cookies(), 1)
}
