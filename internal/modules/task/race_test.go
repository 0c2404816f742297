// README: Concurrency tests for the claim critical section (run with -race). DB-backed.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"shinua/internal/auth"
	"shinua/internal/config"
)

func TestConcurrentClaimExactlyOneWinner(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	ctx := context.Background()

	drivers := make([]auth.Context, 10)
	for i := range drivers {
		drivers[i] = auth.Context{UserID: fmt.Sprintf("race-driver-%d", i)}
		seedUser(t, env, drivers[i])
	}

	created := mustCreate(t, env, dispatcher, createCmd())

	errs := make(chan error, len(drivers))
	start := make(chan struct{})
	var wg sync.WaitGroup

	for _, d := range drivers {
		wg.Add(1)
		go func(actor auth.Context) {
			defer wg.Done()
			<-start
			_, err := env.svc.Claim(ctx, actor, created.ID, "")
			errs <- err
		}(d)
	}

	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 winning claim, got %d", success)
	}

	x, err := env.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if x.TaskStatus != StatusAssigned || x.DriverID == "" {
		t.Fatalf("after race: status=%s driver=%q", x.TaskStatus, x.DriverID)
	}

	// Exactly one assignment entry in the ledger.
	changes, err := env.svc.History(ctx, dispatcher, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	assigned := 0
	for _, c := range changes {
		if c.What == ActionAssigned {
			assigned++
		}
	}
	if assigned != 1 {
		t.Fatalf("ledger has %d assignment entries, want 1", assigned)
	}
}

func TestConcurrentClaimVsRelease(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	other := auth.Context{UserID: "race-other"}
	seedUser(t, env, other)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())
	if _, err := env.svc.Claim(ctx, driver, created.ID, ""); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- env.svc.Release(ctx, driver, created.ID, "משחרר")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := env.svc.Claim(ctx, other, created.ID, "")
		errs <- err
	}()

	wg.Wait()
	close(errs)

	for err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrNotYourTask) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Whatever the interleaving, the row ends in a coherent state: either
	// reopened with no driver, or assigned to exactly one of the two.
	x, err := env.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	switch x.TaskStatus {
	case StatusActive:
		if x.DriverID != "" {
			t.Fatalf("active with driver %q", x.DriverID)
		}
	case StatusAssigned:
		if x.DriverID != driver.UserID && x.DriverID != other.UserID {
			t.Fatalf("assigned to unknown driver %q", x.DriverID)
		}
	default:
		t.Fatalf("unexpected status %s", x.TaskStatus)
	}
}
