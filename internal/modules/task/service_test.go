// README: Task service tests (save pipeline, claim protocol, visibility). DB-backed.
package task

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"shinua/internal/auth"
	"shinua/internal/config"
	"shinua/internal/infra"
	"shinua/internal/sms"
	"shinua/internal/types"
	"shinua/internal/updates"

	"shinua/internal/modules/images"
	"shinua/internal/modules/user"
)

type testEnv struct {
	svc   *Service
	store *Store
	users *user.Store
	bus   *updates.MemoryBus
	site  config.Site
}

func setupTestService(t *testing.T, site config.Site) *testEnv {
	t.Helper()

	dsn := os.Getenv("SHINUA_TEST_DSN")
	if dsn == "" {
		t.Skip("SHINUA_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := infra.RunMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE task_status_changes, task_images, tasks, users"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	users := user.NewStore(db)
	store := NewStore(db)
	bus := updates.NewMemoryBus()
	svc := NewService(store, users, images.NewStore(db), bus, sms.LogSender{}, nil, site)
	return &testEnv{svc: svc, store: store, users: users, bus: bus, site: site}
}

func seedUser(t *testing.T, env *testEnv, a auth.Context) {
	t.Helper()
	err := env.users.Insert(context.Background(), &user.User{
		ID:         types.ID(a.UserID),
		Phone:      a.Phone,
		Name:       a.Name,
		Dispatcher: a.Dispatcher,
		Trainee:    a.Trainee,
		Admin:      a.Admin,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", a.UserID, err)
	}
}

func createCmd() CreateCommand {
	return CreateCommand{
		Title:              "הסעה לבית חולים",
		EventDate:          time.Now().Add(24 * time.Hour),
		StartTime:          "08:30",
		RelevantHours:      12,
		Address:            "הרצל 1, תל אביב",
		AddressApiResult:   resolvedResult("תל אביב"),
		ToAddress:          "החלוץ 2, חיפה",
		ToAddressApiResult: resolvedResult("חיפה"),
		Phone1:             "0501234567",
	}
}

func mustCreate(t *testing.T, env *testEnv, actor auth.Context, cmd CreateCommand) *Task {
	t.Helper()
	created, err := env.svc.Create(context.Background(), actor, cmd)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created
}

func assertTaskStatus(t *testing.T, env *testEnv, id types.ID, want Status) {
	t.Helper()
	x, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if x.TaskStatus != want {
		t.Fatalf("status = %s, want %s", x.TaskStatus, want)
	}
}

func TestCreateByDispatcherGoesActive(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)

	created := mustCreate(t, env, dispatcher, createCmd())
	if created.TaskStatus != StatusActive {
		t.Fatalf("status = %s, want active", created.TaskStatus)
	}
	if created.ExternalID == "" {
		t.Fatal("external id not assigned")
	}
	if created.CreateUserID != dispatcher.UserID {
		t.Fatalf("create user = %q", created.CreateUserID)
	}

	// Creation writes one ledger row and publishes it.
	changes, err := env.svc.History(context.Background(), dispatcher, created.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(changes) != 1 || changes[0].What != ActionCreated {
		t.Fatalf("ledger after create: %+v", changes)
	}
	if events := env.bus.Events(); len(events) != 1 || events[0].Action != ActionCreated {
		t.Fatalf("bus events after create: %+v", events)
	}
}

func TestCreateByNonDispatcherForcedToDraft(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, driver)

	created := mustCreate(t, env, driver, createCmd())
	if created.TaskStatus != StatusDraft {
		t.Fatalf("status = %s, want draft", created.TaskStatus)
	}
}

func TestCreateAnonymousUsesDesignatedSubmitter(t *testing.T) {
	site := config.Site{AnonymousSubmitterPhone: "0500000000"}
	env := setupTestService(t, site)
	submitter := auth.Context{UserID: "anon-submitter", Phone: "0500000000"}
	seedUser(t, env, submitter)

	created := mustCreate(t, env, anonymous, createCmd())
	if created.TaskStatus != StatusDraft {
		t.Fatalf("status = %s, want draft", created.TaskStatus)
	}
	if created.CreateUserID != submitter.UserID {
		t.Fatalf("create user = %q, want designated submitter", created.CreateUserID)
	}
}

func TestCreateAnonymousFailsWithoutSubmitterUser(t *testing.T) {
	env := setupTestService(t, config.Site{AnonymousSubmitterPhone: "0500000000"})

	_, err := env.svc.Create(context.Background(), anonymous, createCmd())
	if !errors.Is(err, ErrSubmitterMissing) {
		t.Fatalf("err = %v, want ErrSubmitterMissing", err)
	}
}

func TestCreateFillsRequesterFromActor(t *testing.T) {
	env := setupTestService(t, config.Site{})
	disp := auth.Context{UserID: "disp-req", Phone: "0521111111", Name: "דנה", Dispatcher: true}
	seedUser(t, env, disp)

	created := mustCreate(t, env, disp, createCmd())
	if created.RequesterPhone1 != disp.Phone || created.RequesterPhone1Description != disp.Name {
		t.Fatalf("requester defaults: %q %q", created.RequesterPhone1, created.RequesterPhone1Description)
	}
}

func TestExternalIDsAreSequentialAndUnique(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		created := mustCreate(t, env, dispatcher, createCmd())
		if seen[created.ExternalID] {
			t.Fatalf("duplicate external id %q", created.ExternalID)
		}
		seen[created.ExternalID] = true
	}
}

func TestClaimFlow(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())

	info, err := env.svc.Claim(ctx, driver, created.ID, "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// A successful claim unlocks the contact projection.
	if len(info.Origin) == 0 || info.Origin[0].Phone != "0501234567" {
		t.Fatalf("contact info after claim: %+v", info)
	}
	assertTaskStatus(t, env, created.ID, StatusAssigned)

	x, err := env.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if x.DriverID != driver.UserID {
		t.Fatalf("driver = %q", x.DriverID)
	}

	// Second claim of the same task fails as a conflict.
	other := auth.Context{UserID: "driver2"}
	seedUser(t, env, other)
	if _, err := env.svc.Claim(ctx, other, created.ID, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("second claim err = %v, want ErrConflict", err)
	}
}

func TestClaimForAnotherDriverRequiresDispatcher(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	other := auth.Context{UserID: "driver2"}
	seedUser(t, env, other)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())

	if _, err := env.svc.Claim(ctx, driver, created.ID, other.UserID); !errors.Is(err, ErrAssignForbidden) {
		t.Fatalf("err = %v, want ErrAssignForbidden", err)
	}
	if _, err := env.svc.Claim(ctx, dispatcher, created.ID, "no-such-user"); !errors.Is(err, ErrTargetUserMissing) {
		t.Fatalf("err = %v, want ErrTargetUserMissing", err)
	}
	if _, err := env.svc.Claim(ctx, dispatcher, created.ID, other.UserID); err != nil {
		t.Fatalf("dispatcher claim for driver: %v", err)
	}
	x, err := env.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if x.DriverID != other.UserID {
		t.Fatalf("driver = %q, want %q", x.DriverID, other.UserID)
	}
}

func TestClaimConcurrentAssignmentLimit(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	for i := 0; i < maxConcurrentAssignments; i++ {
		created := mustCreate(t, env, dispatcher, createCmd())
		if _, err := env.svc.Claim(ctx, driver, created.ID, ""); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	extra := mustCreate(t, env, dispatcher, createCmd())
	if _, err := env.svc.Claim(ctx, driver, extra.ID, ""); !errors.Is(err, ErrTooManyAssigned) {
		t.Fatalf("err = %v, want ErrTooManyAssigned", err)
	}

	// Dispatcher claims on the driver's behalf bypass the limit.
	if _, err := env.svc.Claim(ctx, dispatcher, extra.ID, driver.UserID); err != nil {
		t.Fatalf("dispatcher bypass: %v", err)
	}
}

func TestClaimHourlyRateLimitCountsLedgerEntries(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	// Claim and release repeatedly: held count stays low, but each claim
	// leaves a ledger entry the hourly window counts.
	for i := 0; i < maxClaimsPerWindow; i++ {
		created := mustCreate(t, env, dispatcher, createCmd())
		if _, err := env.svc.Claim(ctx, driver, created.ID, ""); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if err := env.svc.Release(ctx, driver, created.ID, "התחרטתי"); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}

	extra := mustCreate(t, env, dispatcher, createCmd())
	if _, err := env.svc.Claim(ctx, driver, extra.ID, ""); !errors.Is(err, ErrTooManyClaims) {
		t.Fatalf("err = %v, want ErrTooManyClaims", err)
	}
}

func TestReleaseReopensTask(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())
	if _, err := env.svc.Claim(ctx, driver, created.ID, ""); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Release(ctx, driver, created.ID, "לא אספיק"); err != nil {
		t.Fatalf("release: %v", err)
	}
	x, err := env.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if x.TaskStatus != StatusActive || x.DriverID != "" {
		t.Fatalf("after release: status=%s driver=%q", x.TaskStatus, x.DriverID)
	}

	changes, err := env.svc.History(ctx, dispatcher, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if changes[0].What != ActionDriverCancelled {
		t.Fatalf("latest ledger entry = %q", changes[0].What)
	}
}

func TestStrangerCannotOperateOnAnothersTask(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	seedUser(t, env, stranger)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())
	if _, err := env.svc.Claim(ctx, driver, created.ID, ""); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.MarkCompleted(ctx, stranger, created.ID, ""); !errors.Is(err, ErrNotYourTask) {
		t.Fatalf("err = %v, want ErrNotYourTask", err)
	}
}

func TestResolutionsNeedNotes(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())
	if _, err := env.svc.Claim(ctx, driver, created.ID, ""); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.MarkNotRelevant(ctx, driver, created.ID, ""); !errors.Is(err, ErrNotesRequired) {
		t.Fatalf("not relevant without notes: %v", err)
	}
	if err := env.svc.MarkOtherProblem(ctx, driver, created.ID, ""); !errors.Is(err, ErrNotesRequired) {
		t.Fatalf("problem without notes: %v", err)
	}
	if err := env.svc.MarkCompleted(ctx, driver, created.ID, ""); err != nil {
		t.Fatalf("complete needs no notes: %v", err)
	}
	assertTaskStatus(t, env, created.ID, StatusCompleted)
}

func TestUndoStatusClickRestoresAssignment(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())
	if _, err := env.svc.Claim(ctx, driver, created.ID, ""); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.MarkCompleted(ctx, driver, created.ID, "הגענו"); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.UndoStatusClick(ctx, driver, created.ID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	x, err := env.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if x.TaskStatus != StatusAssigned || x.DriverID != driver.UserID {
		t.Fatalf("after undo: status=%s driver=%q", x.TaskStatus, x.DriverID)
	}
}

func TestDispatcherOverrides(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())
	if _, err := env.svc.Claim(ctx, driver, created.ID, ""); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.MarkCompleted(ctx, driver, created.ID, "בוצע"); err != nil {
		t.Fatal(err)
	}

	// Driver cannot run dispatcher overrides.
	if err := env.svc.ReturnToDriver(ctx, driver, created.ID); !errors.Is(err, ErrDispatcherOnly) {
		t.Fatalf("err = %v, want ErrDispatcherOnly", err)
	}

	if err := env.svc.ReturnToDriver(ctx, dispatcher, created.ID); err != nil {
		t.Fatalf("return to driver: %v", err)
	}
	x, err := env.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if x.TaskStatus != StatusAssigned || x.DriverID != driver.UserID {
		t.Fatalf("after return to driver: status=%s driver=%q", x.TaskStatus, x.DriverID)
	}

	if err := env.svc.ReturnToActive(ctx, dispatcher, created.ID); err != nil {
		t.Fatalf("return to active: %v", err)
	}
	x, err = env.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if x.TaskStatus != StatusActive || x.DriverID != "" {
		t.Fatalf("after return to active: status=%s driver=%q", x.TaskStatus, x.DriverID)
	}
}

func TestApproveDraftLabelsLedger(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	created := mustCreate(t, env, driver, createCmd()) // non-dispatcher -> draft
	if err := env.svc.ReturnToActive(ctx, dispatcher, created.ID); err != nil {
		t.Fatalf("approve draft: %v", err)
	}
	assertTaskStatus(t, env, created.ID, StatusActive)

	changes, err := env.svc.History(ctx, dispatcher, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if changes[0].What != ActionDraftApproved {
		t.Fatalf("latest ledger entry = %q, want draft approval", changes[0].What)
	}
}

func TestListVisibility(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	active := mustCreate(t, env, dispatcher, createCmd())
	draft := mustCreate(t, env, driver, createCmd())

	all, err := env.svc.List(ctx, dispatcher)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("dispatcher sees %d tasks, want 2", len(all))
	}

	visible, err := env.svc.List(ctx, driver)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].ID != active.ID {
		t.Fatalf("driver list: %+v", visible)
	}

	// The draft's creator is not a trainee, so even they don't see it.
	if _, err := env.svc.Get(ctx, driver, draft.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("draft visible to non-trainee creator: %v", err)
	}
}

func TestListRedactsContactFields(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	cmd := createCmd()
	cmd.InternalComments = "הערה פנימית"
	mustCreate(t, env, dispatcher, cmd)

	visible, err := env.svc.List(ctx, driver)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 {
		t.Fatalf("driver sees %d tasks", len(visible))
	}
	x := visible[0]
	if x.Phone1 != "" || x.RequesterPhone1 != "" {
		t.Fatalf("contact fields leaked: %+v", x)
	}
	if x.InternalComments != "" || x.CreateUserID != "" {
		t.Fatalf("privileged fields leaked: %+v", x)
	}

	full, err := env.svc.List(ctx, dispatcher)
	if err != nil {
		t.Fatal(err)
	}
	if full[0].Phone1 == "" || full[0].InternalComments == "" {
		t.Fatalf("dispatcher view over-redacted: %+v", full[0])
	}
}

func TestUpdateAuthzAndValidUntilRecompute(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())

	if _, err := env.svc.Update(ctx, driver, created.ID, UpdateCommand{}); !errors.Is(err, ErrUpdateForbidden) {
		t.Fatalf("non-dispatcher update: %v", err)
	}

	hours := 6
	updated, err := env.svc.Update(ctx, dispatcher, created.ID, UpdateCommand{RelevantHours: &hours})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := CalcValidUntil(updated.EventDate, updated.StartTime, 6)
	if !updated.ValidUntil.Equal(want) {
		t.Fatalf("validUntil = %v, want %v", updated.ValidUntil, want)
	}
}

func TestUpdateIgnoresStickyFields(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())

	empty := ""
	if _, err := env.svc.Update(ctx, dispatcher, created.ID, UpdateCommand{CreateUserID: &empty, DriverID: &empty}); err != nil {
		t.Fatalf("update: %v", err)
	}
	x, err := env.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if x.CreateUserID != dispatcher.UserID {
		t.Fatalf("create user was cleared: %q", x.CreateUserID)
	}
}

func TestHistoryIsPrivileged(t *testing.T) {
	env := setupTestService(t, config.Site{})
	seedUser(t, env, dispatcher)
	seedUser(t, env, driver)
	ctx := context.Background()

	created := mustCreate(t, env, dispatcher, createCmd())
	if _, err := env.svc.History(ctx, driver, created.ID); !errors.Is(err, ErrUpdateForbidden) {
		t.Fatalf("driver history access: %v", err)
	}
}

func TestDraftSMSGoesToDispatchers(t *testing.T) {
	recorder := &recordingSender{}
	env := setupTestService(t, config.Site{SendSMSOnNewDraft: true, Origin: "https://example.org"})
	env.svc.sender = recorder
	disp := auth.Context{UserID: "disp-sms", Phone: "0529999999", Dispatcher: true}
	seedUser(t, env, disp)
	seedUser(t, env, driver)

	mustCreate(t, env, driver, createCmd())

	if len(recorder.sent) != 1 || recorder.sent[0].to != disp.Phone {
		t.Fatalf("sms fan-out: %+v", recorder.sent)
	}
}

type recordingSender struct {
	sent []struct{ to, text string }
}

func (r *recordingSender) SendMessage(_ context.Context, to, text string) error {
	r.sent = append(r.sent, struct{ to, text string }{to, text})
	return nil
}
