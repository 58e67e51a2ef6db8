package future

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveOnce(t *testing.T) {
	t.Parallel()
	f := New[int]()
	if _, err := f.Result(); !errors.Is(err, ErrPending) {
		t.Fatalf("Result before settle err = %v, want ErrPending", err)
	}
	if !f.Resolve(1) {
		t.Fatal("first Resolve reported false")
	}
	if f.Resolve(2) || f.Reject(errors.New("late")) {
		t.Fatal("second settle reported true")
	}
	v, err := f.Result()
	if err != nil || v != 1 {
		t.Fatalf("Result = (%d, %v), want (1, nil)", v, err)
	}
	select {
	case <-f.Done():
	default:
		t.Fatal("Done not closed after Resolve")
	}
}

func TestRejectNil(t *testing.T) {
	t.Parallel()
	f := Rejected[string](nil)
	if _, err := f.Result(); !errors.Is(err, ErrNilRejection) {
		t.Fatalf("err = %v, want ErrNilRejection", err)
	}
}

func TestThenRunsInOrderBeforeSettleReturns(t *testing.T) {
	t.Parallel()
	f := New[string]()
	var seen []string
	f.Then(func(v string, err error) { seen = append(seen, "a:"+v) })
	f.Then(func(v string, err error) { seen = append(seen, "b:"+v) })

	f.Resolve("x")
	if len(seen) != 2 || seen[0] != "a:x" || seen[1] != "b:x" {
		t.Fatalf("continuations = %v, want [a:x b:x]", seen)
	}

	// Registered after settlement: runs immediately.
	f.Then(func(v string, err error) { seen = append(seen, "c:"+v) })
	if len(seen) != 3 {
		t.Fatalf("late continuation did not run: %v", seen)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want DeadlineExceeded", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Reject(errors.New("boom"))
	}()
	_, err := f.Wait(context.Background())
	if err == nil || err.Error() != "boom" {
		t.Fatalf("Wait err = %v, want boom", err)
	}
}

func TestSettle(t *testing.T) {
	t.Parallel()
	ok := New[int]()
	ok.Settle(3, nil)
	if v, err := ok.Result(); v != 3 || err != nil {
		t.Fatalf("Result = (%d, %v), want (3, nil)", v, err)
	}
	bad := New[int]()
	bad.Settle(3, errors.New("nope"))
	if v, err := bad.Result(); v != 0 || err == nil {
		t.Fatalf("Result = (%d, %v), want (0, error)", v, err)
	}
}
