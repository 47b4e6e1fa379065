package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browsergrid/handoff/session"
	"github.com/browsergrid/handoff/types"
)

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return New("run1", session.NewMemoryStore(), Config{}, nil)
}

// --- Request ---

func TestRequestCreatesPendingSession(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	sess, err := c.Request(ctx, RequestOptions{
		Category: types.CategoryCaptcha,
		Reason:   "CAPTCHA detected",
		Timeout:  time.Minute,
	})
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "run1", sess.RunID)
	assert.Equal(t, types.StatusPending, sess.Status)
	assert.Equal(t, types.CategoryCaptcha, sess.Category)
	assert.Equal(t, "CAPTCHA detected", sess.Reason)
	require.NotNil(t, sess.TimeoutAt)
	assert.WithinDuration(t, time.Now().Add(time.Minute), *sess.TimeoutAt, 5*time.Second)

	// Default instructions are filled in from the category template.
	assert.Contains(t, sess.Instructions, "CAPTCHA")
}

func TestRequestDefaults(t *testing.T) {
	c := newCoordinator(t)

	sess, err := c.Request(context.Background(), RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.CategoryOther, sess.Category)
	assert.Equal(t, "human intervention requested", sess.Reason)
	require.NotNil(t, sess.TimeoutAt)
	assert.WithinDuration(t, time.Now().Add(DefaultTimeout), *sess.TimeoutAt, 5*time.Second)
}

func TestRequestSelectorInInstructions(t *testing.T) {
	c := newCoordinator(t)

	sess, err := c.Request(context.Background(), RequestOptions{
		Category: types.CategoryTwoFactor,
		Selector: "#otp-code",
	})
	require.NoError(t, err)
	assert.Contains(t, sess.Instructions, "#otp-code")
}

func TestRequestIdempotentWhileOpen(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	first, err := c.Request(ctx, RequestOptions{Reason: "CAPTCHA detected", Timeout: time.Minute})
	require.NoError(t, err)

	// A second detection while the session is open returns the same session
	// and does not reset its deadline.
	second, err := c.Request(ctx, RequestOptions{Reason: "another trigger", Timeout: time.Hour})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reason, second.Reason)
	assert.Equal(t, *first.TimeoutAt, *second.TimeoutAt)
}

func TestRequestIdempotentUnderConcurrency(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	const n = 32
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := c.Request(ctx, RequestOptions{Reason: fmt.Sprintf("trigger %d", i)})
			require.NoError(t, err)
			ids[i] = sess.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i], "all concurrent requests must share one session")
	}

	sessions, err := c.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

// --- Scenario: resolve then reject later transitions ---

func TestResolveThenCancelRejected(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	sess, err := c.Request(ctx, RequestOptions{
		Category: types.CategoryCaptcha,
		Reason:   "CAPTCHA detected",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, sess.Status)

	require.NoError(t, c.Resolve(ctx, sess.ID, json.RawMessage(`{"solved":true}`)))

	status, err := c.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, status)

	err = c.Cancel(ctx, sess.ID, "changed my mind")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))

	// The committed state is untouched by the rejected transition.
	status, err = c.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, status)
}

func TestResolveDeliversResolutionToWaiter(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	sess, err := c.Request(ctx, RequestOptions{Reason: "CAPTCHA detected"})
	require.NoError(t, err)

	type awaitResult struct {
		out *Outcome
		err error
	}
	resultCh := make(chan awaitResult, 1)
	go func() {
		out, err := c.Await(ctx, sess.ID)
		resultCh <- awaitResult{out, err}
	}()

	// Give the waiter time to park before resolving.
	require.Eventually(t, func() bool {
		return c.RunStatus() == types.StatusPending
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Resolve(ctx, sess.ID, json.RawMessage(`{"solved":true}`)))

	res := <-resultCh
	require.NoError(t, res.err)
	require.NotNil(t, res.out)
	assert.Equal(t, types.StatusCompleted, res.out.Status)
	assert.Nil(t, res.out.Err)
	assert.JSONEq(t, `{"solved":true}`, string(res.out.Resolution))
}

// --- Acknowledge ---

func TestAcknowledge(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	sess, err := c.Request(ctx, RequestOptions{Reason: "2FA required"})
	require.NoError(t, err)

	require.NoError(t, c.Acknowledge(ctx, sess.ID))
	assert.Equal(t, types.StatusInProgress, c.RunStatus())

	// Acknowledging twice is a no-op.
	require.NoError(t, c.Acknowledge(ctx, sess.ID))
	assert.Equal(t, types.StatusInProgress, c.RunStatus())

	// Resolution is still legal from in_progress.
	require.NoError(t, c.Resolve(ctx, sess.ID, nil))

	err = c.Acknowledge(ctx, sess.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))
}

// --- Timeout scenario ---

func TestTimeoutDeliveredToWaiter(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	sess, err := c.Request(ctx, RequestOptions{
		Reason:  "CAPTCHA detected",
		Timeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	outCh := make(chan *Outcome, 1)
	go func() {
		out, err := c.Await(ctx, sess.ID)
		require.NoError(t, err)
		outCh <- out
	}()

	// No human acts; the deadline elapses and the next poll expires it.
	require.Eventually(t, func() bool {
		return c.PollAndExpire(ctx)
	}, time.Second, 10*time.Millisecond)

	out := <-outCh
	assert.Equal(t, types.StatusTimeout, out.Status)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrInterventionTimeout, out.Err.Code)
	assert.True(t, out.Err.Retryable)

	// A late human resolution is rejected.
	err = c.Resolve(ctx, sess.ID, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))
}

func TestPollAndExpireBeforeDeadline(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	_, err := c.Request(ctx, RequestOptions{Timeout: time.Hour})
	require.NoError(t, err)

	assert.False(t, c.PollAndExpire(ctx))
	assert.Equal(t, types.StatusPending, c.RunStatus())
}

func TestPollAndExpireNoOpenSession(t *testing.T) {
	c := newCoordinator(t)
	assert.False(t, c.PollAndExpire(context.Background()))
}

// --- Run cancellation scenario ---

func TestCancelRunUnblocksWaiter(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	sess, err := c.Request(ctx, RequestOptions{Reason: "2FA required"})
	require.NoError(t, err)
	require.NoError(t, c.Acknowledge(ctx, sess.ID))

	outCh := make(chan *Outcome, 1)
	go func() {
		out, err := c.Await(ctx, sess.ID)
		require.NoError(t, err)
		outCh <- out
	}()

	require.Eventually(t, func() bool {
		return c.RunStatus() == types.StatusInProgress
	}, time.Second, 10*time.Millisecond)

	c.CancelRun(ctx, "operator abort")

	out := <-outCh
	assert.Equal(t, types.StatusFailed, out.Status)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrRunCancelled, out.Err.Code)

	// The run refuses new interventions afterwards.
	_, err = c.Request(ctx, RequestOptions{Reason: "again"})
	require.Error(t, err)
	assert.Equal(t, types.ErrRunCancelled, types.GetErrorCode(err))
	assert.True(t, c.Cancelled())

	loaded, err := c.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "operator abort", loaded.CancelReason)
}

func TestCancelRunWithoutOpenSession(t *testing.T) {
	c := newCoordinator(t)
	c.CancelRun(context.Background(), "teardown")
	assert.True(t, c.Cancelled())

	// Idempotent.
	c.CancelRun(context.Background(), "teardown again")
	assert.True(t, c.Cancelled())
}

// --- Await edge cases ---

func TestAwaitTerminalSessionReturnsImmediately(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	sess, err := c.Request(ctx, RequestOptions{Reason: "CAPTCHA detected"})
	require.NoError(t, err)
	require.NoError(t, c.Resolve(ctx, sess.ID, json.RawMessage(`{"ok":true}`)))

	out, err := c.Await(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, out.Status)
	assert.JSONEq(t, `{"ok":true}`, string(out.Resolution))
}

func TestAwaitUnknownSession(t *testing.T) {
	c := newCoordinator(t)
	_, err := c.Await(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))
}

func TestAwaitContextCancelled(t *testing.T) {
	c := newCoordinator(t)
	sess, err := c.Request(context.Background(), RequestOptions{Reason: "CAPTCHA detected"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Await(ctx, sess.ID)
		errCh <- err
	}()

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

// --- Status reads ---

func TestStatusReads(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	assert.Equal(t, types.StatusUnknown, c.RunStatus())

	_, err := c.Status(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))

	sess, err := c.Request(ctx, RequestOptions{Reason: "CAPTCHA detected"})
	require.NoError(t, err)

	status, err := c.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)
	assert.Equal(t, types.StatusPending, c.RunStatus())

	require.NoError(t, c.Resolve(ctx, sess.ID, nil))
	assert.Equal(t, types.StatusUnknown, c.RunStatus(), "idle again after terminal transition")
}

// --- Cancel (human) ---

func TestHumanCancel(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	sess, err := c.Request(ctx, RequestOptions{Reason: "ambiguous form"})
	require.NoError(t, err)

	require.NoError(t, c.Cancel(ctx, sess.ID, "cannot complete"))

	loaded, err := c.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, loaded.Status)
	assert.Equal(t, "cannot complete", loaded.CancelReason)

	out, err := c.Await(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrInterventionFailed, out.Err.Code)
}

// --- Races between resolve, cancel, and expiry ---

func TestConcurrentTerminalWritersExactlyOneWins(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		c := newCoordinator(t)
		sess, err := c.Request(ctx, RequestOptions{
			Reason:  "CAPTCHA detected",
			Timeout: time.Nanosecond, // already expired: expiry can race the human
		})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 3)
		wg.Add(3)
		go func() { defer wg.Done(); errs[0] = c.Resolve(ctx, sess.ID, nil) }()
		go func() { defer wg.Done(); errs[1] = c.Cancel(ctx, sess.ID, "abort") }()
		go func() {
			defer wg.Done()
			if !c.PollAndExpire(ctx) {
				errs[2] = types.NewError(types.ErrInvalidState, "lost the race")
			}
		}()
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))
			}
		}
		assert.Equal(t, 1, winners, "exactly one transition must commit")

		loaded, err := c.Session(ctx, sess.ID)
		require.NoError(t, err)
		assert.True(t, loaded.Status.Terminal())
	}
}

// --- Transition handlers ---

func TestTransitionHandlers(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []types.Status
	c.OnTransition(func(sess *types.Session) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, sess.Status)
	})

	sess, err := c.Request(ctx, RequestOptions{Reason: "CAPTCHA detected"})
	require.NoError(t, err)
	require.NoError(t, c.Acknowledge(ctx, sess.ID))
	require.NoError(t, c.Resolve(ctx, sess.ID, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t,
		[]types.Status{types.StatusPending, types.StatusInProgress, types.StatusCompleted},
		seen)
}

// --- Store failure on request ---

type failingStore struct {
	session.Store
	saveErr error
}

func (s *failingStore) Save(ctx context.Context, sess *types.Session) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Store.Save(ctx, sess)
}

func TestRequestStoreSaveError(t *testing.T) {
	store := &failingStore{Store: session.NewMemoryStore(), saveErr: fmt.Errorf("redis gone")}
	c := New("run1", store, Config{}, nil)

	_, err := c.Request(context.Background(), RequestOptions{Reason: "CAPTCHA detected"})
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreUnavailable, types.GetErrorCode(err))

	// No half-open session left behind.
	assert.Equal(t, types.StatusUnknown, c.RunStatus())
}
