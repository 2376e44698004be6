package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSessionHTTPDriver(t *testing.T) {
	s, err := OpenSession(context.Background(), SessionConfig{Driver: DriverHTTP}, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Listing)
	assert.NotNil(t, s.Detail)
	assert.NotSame(t, s.Listing, s.Detail)
}

func TestSessionLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.SessionEndpoint = "http://127.0.0.1:9222"
	cfg := SessionConfig{Driver: DriverHTTP, Browser: opts, LockDir: dir}

	first, err := OpenSession(context.Background(), cfg, quietLogger())
	require.NoError(t, err)

	_, err = OpenSession(context.Background(), cfg, quietLogger())
	assert.ErrorIs(t, err, ErrSessionBusy)

	other := *opts
	other.SessionEndpoint = "http://127.0.0.1:9333"
	second, err := OpenSession(context.Background(), SessionConfig{Driver: DriverHTTP, Browser: &other, LockDir: dir}, quietLogger())
	require.NoError(t, err, "a different endpoint has its own lock")
	require.NoError(t, second.Close())

	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "close is idempotent")

	third, err := OpenSession(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, third.Close())
}

func TestOpenSessionReleasesLockOnFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.SessionEndpoint = "9222"
	cfg := SessionConfig{Driver: "selenium", Browser: opts, LockDir: t.TempDir()}

	_, err := OpenSession(context.Background(), cfg, quietLogger())
	assert.ErrorIs(t, err, ErrUnknownDriver)

	cfg.Driver = DriverHTTP
	s, err := OpenSession(context.Background(), cfg, quietLogger())
	require.NoError(t, err, "lock must be released after a failed open")
	require.NoError(t, s.Close())
}

func TestLockPath(t *testing.T) {
	opts := DefaultOptions()
	opts.SessionEndpoint = "http://127.0.0.1:9222"

	assert.Equal(t, "/tmp/locks/session-http_127.0.0.1_9222.lock", LockPath("/tmp/locks", SessionConfig{Browser: opts}))
	assert.Equal(t, "/tmp/locks/session-local-http.lock", LockPath("/tmp/locks", SessionConfig{Driver: DriverHTTP}))
}
