package job

import (
	"context"
	"testing"
	"time"
)

func TestEmptyDirectoryArmsImmediately(t *testing.T) {
	j := New("dir-1")
	j.Arm()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := j.Notified(ctx); err != nil {
		t.Fatalf("expected an empty, armed job to notify immediately: %v", err)
	}
	if st := j.Status(); st.State != Indexed {
		t.Fatalf("expected Indexed status, got %+v", st)
	}
}

func TestArmBeforeLastJobDroppedWaitsForDrain(t *testing.T) {
	j := New("dir-1")
	j.NewJob()
	j.NewJob()
	j.Arm()

	if st := j.Status(); st.State != Indexing || st.Outstanding != 2 {
		t.Fatalf("expected Indexing with 2 outstanding, got %+v", st)
	}

	j.JobDropped()
	if st := j.Status(); st.State != Indexing || st.Outstanding != 1 {
		t.Fatalf("expected Indexing with 1 outstanding, got %+v", st)
	}

	done := make(chan struct{})
	go func() {
		j.Notified(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Notified fired before the second JobDropped")
	case <-time.After(50 * time.Millisecond):
	}

	j.JobDropped()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notified did not fire after outstanding reached zero")
	}
}

func TestNotifyFiresAtMostOnce(t *testing.T) {
	j := New("dir-1")
	j.Arm()

	for i := 0; i < 3; i++ {
		if err := j.Notified(context.Background()); err != nil {
			t.Fatalf("Notified call %d returned error: %v", i, err)
		}
	}
}

func TestJobDroppedNeverGoesNegative(t *testing.T) {
	j := New("dir-1")
	j.JobDropped()
	j.Arm()

	if st := j.Status(); st.State != Indexed {
		t.Fatalf("expected outstanding clamped to zero, got %+v", st)
	}
}

func TestNotifiedRespectsContextCancellation(t *testing.T) {
	j := New("dir-1")
	j.NewJob()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := j.Notified(ctx); err == nil {
		t.Fatal("expected Notified to return an error once the context is cancelled")
	}
}
