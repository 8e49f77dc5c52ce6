package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeContext struct{ closed int }

func (f *fakeContext) Navigate(ctx context.Context, url string) (string, error) {
	return "<html></html>", nil
}
func (f *fakeContext) Cookies(origin string) (string, error) { return "", nil }
func (f *fakeContext) Close() error {
	f.closed++
	return nil
}

type fakeEngine struct {
	started  int
	stopped  int
	contexts int
	startErr error
}

func (f *fakeEngine) Start(ctx context.Context) error {
	f.started++
	return f.startErr
}
func (f *fakeEngine) NewContext(opts ContextOptions) (Context, error) {
	f.contexts++
	return &fakeContext{}, nil
}
func (f *fakeEngine) Stop() error {
	f.stopped++
	return errors.New("stop exploded")
}

func TestPoolStartsLazilyOnce(t *testing.T) {
	engine := &fakeEngine{}
	pool := NewPool(engine)
	require.Zero(t, engine.started)

	_, err := pool.NewContext(context.Background(), ContextOptions{})
	require.NoError(t, err)
	_, err = pool.NewContext(context.Background(), ContextOptions{})
	require.NoError(t, err)

	require.Equal(t, 1, engine.started)
	require.Equal(t, 2, engine.contexts)
}

func TestPoolCloseTolerant(t *testing.T) {
	engine := &fakeEngine{}
	pool := NewPool(engine)
	_, err := pool.NewContext(context.Background(), ContextOptions{})
	require.NoError(t, err)

	// Stop errors are swallowed and double close is a no-op.
	pool.Close()
	pool.Close()
	require.Equal(t, 1, engine.stopped)

	_, err = pool.NewContext(context.Background(), ContextOptions{})
	require.Error(t, err)
}

func TestPoolCloseBeforeStart(t *testing.T) {
	engine := &fakeEngine{}
	pool := NewPool(engine)
	pool.Close()
	require.Zero(t, engine.stopped)
}

func TestFingerprintPresets(t *testing.T) {
	fp, err := FingerprintByName("desktop-chrome")
	require.NoError(t, err)
	require.Contains(t, fp.UserAgent, "Chrome")
	require.Equal(t, 1920, fp.Viewport.Width)
	require.NotEmpty(t, fp.ExtraHeaders["Accept-Language"])

	_, err = FingerprintByName("does-not-exist")
	require.Error(t, err)

	require.NotEmpty(t, RandomFingerprint().UserAgent)
}
