package lazy

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOpportunisticMemoizesFirstSuccess(t *testing.T) {
	calls := 0
	l := NewOpportunistic(func() (int, error) {
		calls++
		return 42, nil
	})

	for i := 0; i < 3; i++ {
		v, err := l.Get()
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if v != 42 {
			t.Fatalf("Get() = %d, want 42", v)
		}
	}
	if calls != 1 {
		t.Errorf("initializer ran %d times, want 1", calls)
	}
}

func TestOpportunisticRetriesAfterFailure(t *testing.T) {
	calls := 0
	l := NewOpportunistic(func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	for i := 0; i < 2; i++ {
		if _, err := l.Get(); err == nil {
			t.Fatal("Get() should fail while initializer fails")
		}
	}
	v, err := l.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != "ok" {
		t.Errorf("Get() = %q, want ok", v)
	}
	if calls != 3 {
		t.Errorf("initializer ran %d times, want 3", calls)
	}
}

func TestOpportunisticTTLReinitializes(t *testing.T) {
	now := time.Unix(1000, 0)
	calls := 0
	l := NewOpportunistic(func() (int, error) {
		calls++
		return calls, nil
	}).ReinitializeAfter(time.Minute)
	l.now = func() time.Time { return now }

	if v, _ := l.Get(); v != 1 {
		t.Fatalf("first Get() = %d, want 1", v)
	}
	now = now.Add(30 * time.Second)
	if v, _ := l.Get(); v != 1 {
		t.Fatalf("Get() before TTL = %d, want cached 1", v)
	}
	now = now.Add(31 * time.Second)
	if v, _ := l.Get(); v != 2 {
		t.Fatalf("Get() after TTL = %d, want reinitialized 2", v)
	}
}

func TestOpportunisticConcurrentGet(t *testing.T) {
	l := NewOpportunistic(func() (int, error) {
		return 7, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := l.Get(); err != nil || v != 7 {
				t.Errorf("Get() = %d, %v", v, err)
			}
		}()
	}
	wg.Wait()
}

func TestPessimisticCachesFailure(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	l := NewPessimistic(func() (int, error) {
		calls++
		return 0, boom
	})

	for i := 0; i < 3; i++ {
		if _, err := l.Get(); !errors.Is(err, boom) {
			t.Fatalf("Get() error = %v, want boom", err)
		}
	}
	if calls != 1 {
		t.Errorf("initializer ran %d times, want 1 (failure cached)", calls)
	}

	l.Reset()
	if _, err := l.Get(); !errors.Is(err, boom) {
		t.Fatalf("Get() after Reset error = %v, want boom", err)
	}
	if calls != 2 {
		t.Errorf("initializer ran %d times after Reset, want 2", calls)
	}
}

func TestPessimisticSingleInitializer(t *testing.T) {
	var calls int
	block := make(chan struct{})
	l := NewPessimistic(func() (int, error) {
		calls++
		<-block
		return 9, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := l.Get(); err != nil || v != 9 {
				t.Errorf("Get() = %d, %v", v, err)
			}
		}()
	}
	close(block)
	wg.Wait()

	if calls != 1 {
		t.Errorf("initializer ran %d times, want 1", calls)
	}
}

func TestPessimisticTTLDiscardsCachedError(t *testing.T) {
	now := time.Unix(2000, 0)
	calls := 0
	l := NewPessimistic(func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("first attempt fails")
		}
		return 5, nil
	}).ReinitializeAfter(time.Second)
	l.now = func() time.Time { return now }

	if _, err := l.Get(); err == nil {
		t.Fatal("first Get() should fail")
	}
	if _, err := l.Get(); err == nil {
		t.Fatal("cached failure should persist before TTL")
	}
	now = now.Add(2 * time.Second)
	v, err := l.Get()
	if err != nil {
		t.Fatalf("Get() after TTL error = %v", err)
	}
	if v != 5 {
		t.Errorf("Get() after TTL = %d, want 5", v)
	}
}
