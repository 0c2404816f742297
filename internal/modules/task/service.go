// README: Task service: save pipeline, claim protocol and dispatcher overrides.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shinua/internal/auth"
	"shinua/internal/config"
	"shinua/internal/geo"
	"shinua/internal/maps"
	"shinua/internal/phone"
	"shinua/internal/sms"
	"shinua/internal/types"
	"shinua/internal/updates"

	"shinua/internal/modules/user"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrAuthRequired      = errors.New("sign-in required")
	ErrConflict          = errors.New("מתנדב אחר כבר לקח משימה זו")
	ErrNotYourTask       = errors.New("נסיעה זו לא משוייכת לך")
	ErrAssignForbidden   = errors.New("אינך רשאי לשייך לנהג אחר")
	ErrTargetUserMissing = errors.New("משתמש לא קיים")
	ErrTooManyAssigned   = errors.New("ניתן להרשם במקביל לעד 5 נסיעות")
	ErrTooManyClaims     = errors.New("ניתן להרשם לעד 7 נסיעות בשעה")
	ErrNotesRequired     = errors.New("אנא הזן הערות, שנדע מה קרה")
	ErrNoDriver          = errors.New("לא נמצא נהג")
	ErrDispatcherOnly    = errors.New("פעולה זו מיועדת למוקדנים בלבד")
	ErrUpdateForbidden   = errors.New("אינך רשאי לעדכן נסיעה זו")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSubmitterMissing is a configuration error: the designated anonymous
	// submitter user does not exist, so unauthenticated creation must fail.
	ErrSubmitterMissing = errors.New("לא ניתן להוסיף בקשות חדשות")
)

const (
	maxConcurrentAssignments = 5
	maxClaimsPerWindow       = 7
	claimWindow              = time.Hour

	defaultRelevantHours = 12
	inlineImageMarker    = "data:image/"
)

// UserDirectory is the slice of the user store the task core depends on.
type UserDirectory interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
	FindByPhone(ctx context.Context, phone string) (*user.User, error)
	Exists(ctx context.Context, id types.ID) (bool, error)
	ListDispatchers(ctx context.Context) ([]*user.User, error)
}

// ImageStore persists inline image payloads and returns reference ids.
type ImageStore interface {
	Save(ctx context.Context, payload string) (string, error)
}

type Service struct {
	store    *Store
	users    UserDirectory
	images   ImageStore
	bus      updates.Bus
	sender   sms.Sender
	geocoder maps.Geocoder
	site     config.Site
}

func NewService(store *Store, users UserDirectory, images ImageStore, bus updates.Bus, sender sms.Sender, geocoder maps.Geocoder, site config.Site) *Service {
	return &Service{store: store, users: users, images: images, bus: bus, sender: sender, geocoder: geocoder, site: site}
}

type CreateCommand struct {
	Title         string
	Description   string
	Category      string
	Urgency       Urgency
	EventDate     time.Time
	StartTime     string
	RelevantHours int

	Address            string
	AddressApiResult   *geo.Result
	ToAddress          string
	ToAddressApiResult *geo.Result

	Phone1                     string
	Phone1Description          string
	Phone2                     string
	Phone2Description          string
	ToPhone1                   string
	ToPhone1Description        string
	ToPhone2                   string
	ToPhone2Description        string
	RequesterPhone1            string
	RequesterPhone1Description string

	ImageID                 string
	InternalComments        string
	ResponsibleDispatcherID string
}

// Create builds and persists a new task. Anonymous callers are attached to
// the designated submitter user; non-dispatcher creations are forced to
// draft regardless of anything the client sent.
func (s *Service) Create(ctx context.Context, actor auth.Context, cmd CreateCommand) (*Task, error) {
	now := time.Now()

	createUserID := actor.UserID
	if !actor.Authenticated() {
		submitter, err := s.users.FindByPhone(ctx, s.site.AnonymousSubmitterPhone)
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrSubmitterMissing
		}
		if err != nil {
			return nil, err
		}
		createUserID = string(submitter.ID)
	}

	t := &Task{
		ID:                         types.NewID(),
		Title:                      cmd.Title,
		Description:                cmd.Description,
		Category:                   cmd.Category,
		Urgency:                    cmd.Urgency,
		TaskStatus:                 StatusActive,
		StatusChangeDate:           now,
		EventDate:                  cmd.EventDate,
		StartTime:                  cmd.StartTime,
		RelevantHours:              cmd.RelevantHours,
		Address:                    cmd.Address,
		AddressApiResult:           cmd.AddressApiResult,
		ToAddress:                  cmd.ToAddress,
		ToAddressApiResult:         cmd.ToAddressApiResult,
		Phone1:                     cmd.Phone1,
		Phone1Description:          cmd.Phone1Description,
		Phone2:                     cmd.Phone2,
		Phone2Description:          cmd.Phone2Description,
		ToPhone1:                   cmd.ToPhone1,
		ToPhone1Description:        cmd.ToPhone1Description,
		ToPhone2:                   cmd.ToPhone2,
		ToPhone2Description:        cmd.ToPhone2Description,
		RequesterPhone1:            cmd.RequesterPhone1,
		RequesterPhone1Description: cmd.RequesterPhone1Description,
		ImageID:                    cmd.ImageID,
		InternalComments:           cmd.InternalComments,
		CreateUserID:               createUserID,
		ResponsibleDispatcherID:    cmd.ResponsibleDispatcherID,
		CreatedAt:                  now,
	}
	if !actor.Dispatcher {
		t.TaskStatus = StatusDraft
	}
	if t.Category == "" {
		t.Category = s.site.DefaultCategory
	}
	if t.Urgency == "" {
		t.Urgency = UrgencyNormal
	}
	if t.EventDate.IsZero() {
		t.EventDate = now
	}
	if t.StartTime == "" {
		t.StartTime = now.Format("15:04")
	}
	if t.RelevantHours == 0 {
		t.RelevantHours = defaultRelevantHours
	}
	if t.RequesterPhone1 == "" && actor.Authenticated() {
		t.RequesterPhone1 = actor.Phone
		t.RequesterPhone1Description = actor.Name
	}
	t.ValidUntil = CalcValidUntil(t.EventDate, t.StartTime, t.RelevantHours)

	extID, err := s.store.NextExternalID(ctx)
	if err != nil {
		return nil, err
	}
	t.ExternalID = extID

	if strings.Contains(t.ImageID, inlineImageMarker) {
		imageID, err := s.images.Save(ctx, t.ImageID)
		if err != nil {
			return nil, fmt.Errorf("store image: %w", err)
		}
		t.ImageID = imageID
	}

	if err := s.resolveAddresses(ctx, t); err != nil {
		return nil, err
	}
	if err := Validate(t, s.site, true); err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return nil, err
	}

	if err := s.appendStatusChange(ctx, createUserID, t, ActionCreated, ""); err != nil {
		return nil, err
	}
	if t.TaskStatus == StatusDraft && s.site.SendSMSOnNewDraft {
		s.notifyDispatchersOfDraft(ctx, t)
	}
	return t, nil
}

type UpdateCommand struct {
	Title         *string
	Description   *string
	Category      *string
	Urgency       *Urgency
	EventDate     *time.Time
	StartTime     *string
	RelevantHours *int

	// Setting an address implies supplying its fresh geocode result.
	Address            *string
	AddressApiResult   *geo.Result
	ToAddress          *string
	ToAddressApiResult *geo.Result

	Phone1                     *string
	Phone1Description          *string
	Phone2                     *string
	Phone2Description          *string
	ToPhone1                   *string
	ToPhone1Description        *string
	ToPhone2                   *string
	ToPhone2Description        *string
	RequesterPhone1            *string
	RequesterPhone1Description *string

	ImageID                 *string
	InternalComments        *string
	ResponsibleDispatcherID *string

	// CreateUserID and DriverID are sticky: attempts to clear (or change)
	// them through an ordinary update are ignored; only protocol operations
	// reassign them.
	CreateUserID *string
	DriverID     *string
}

// Update applies field-level edits. Draft tasks may be edited by trainees
// and dispatchers; anything else is dispatcher-only.
func (s *Service) Update(ctx context.Context, actor auth.Context, id types.ID, cmd UpdateCommand) (*Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.TaskStatus == StatusDraft {
		if !actor.Privileged() {
			return nil, ErrUpdateForbidden
		}
	} else if !actor.Dispatcher {
		return nil, ErrUpdateForbidden
	}

	schedChanged := false
	if cmd.Title != nil {
		t.Title = *cmd.Title
	}
	if cmd.Description != nil {
		t.Description = *cmd.Description
	}
	if cmd.Category != nil {
		t.Category = *cmd.Category
	}
	if cmd.Urgency != nil {
		t.Urgency = *cmd.Urgency
	}
	if cmd.EventDate != nil && !cmd.EventDate.Equal(t.EventDate) {
		t.EventDate = *cmd.EventDate
		schedChanged = true
	}
	if cmd.StartTime != nil && *cmd.StartTime != t.StartTime {
		t.StartTime = *cmd.StartTime
		schedChanged = true
	}
	if cmd.RelevantHours != nil && *cmd.RelevantHours != t.RelevantHours {
		t.RelevantHours = *cmd.RelevantHours
		schedChanged = true
	}
	if cmd.Address != nil {
		t.Address = *cmd.Address
		t.AddressApiResult = cmd.AddressApiResult
	}
	if cmd.ToAddress != nil {
		t.ToAddress = *cmd.ToAddress
		t.ToAddressApiResult = cmd.ToAddressApiResult
	}
	if CanEditContactInfo(actor, t, false) {
		applyContactUpdates(t, cmd)
	}
	if cmd.ImageID != nil {
		t.ImageID = *cmd.ImageID
	}
	if cmd.InternalComments != nil && actor.Privileged() {
		t.InternalComments = *cmd.InternalComments
	}
	if cmd.ResponsibleDispatcherID != nil {
		t.ResponsibleDispatcherID = *cmd.ResponsibleDispatcherID
	}

	if schedChanged {
		t.ValidUntil = CalcValidUntil(t.EventDate, t.StartTime, t.RelevantHours)
	}
	if strings.Contains(t.ImageID, inlineImageMarker) {
		imageID, err := s.images.Save(ctx, t.ImageID)
		if err != nil {
			return nil, fmt.Errorf("store image: %w", err)
		}
		t.ImageID = imageID
	}

	if err := s.resolveAddresses(ctx, t); err != nil {
		return nil, err
	}
	if err := Validate(t, s.site, false); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// resolveAddresses fills in missing geocode results server-side. Clients
// normally attach results from their own lookup; this covers plain-text
// submissions (the public form, imports).
func (s *Service) resolveAddresses(ctx context.Context, t *Task) error {
	if s.geocoder == nil {
		return nil
	}
	if t.Address != "" && !t.AddressApiResult.Resolved() {
		r, err := s.geocoder.Geocode(ctx, t.Address)
		if err != nil {
			return fmt.Errorf("geocode origin: %w", err)
		}
		t.AddressApiResult = r
	}
	if t.ToAddress != "" && !t.ToAddressApiResult.Resolved() {
		r, err := s.geocoder.Geocode(ctx, t.ToAddress)
		if err != nil {
			return fmt.Errorf("geocode destination: %w", err)
		}
		t.ToAddressApiResult = r
	}
	return nil
}

func applyContactUpdates(t *Task, cmd UpdateCommand) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&t.Phone1, cmd.Phone1)
	set(&t.Phone1Description, cmd.Phone1Description)
	set(&t.Phone2, cmd.Phone2)
	set(&t.Phone2Description, cmd.Phone2Description)
	set(&t.ToPhone1, cmd.ToPhone1)
	set(&t.ToPhone1Description, cmd.ToPhone1Description)
	set(&t.ToPhone2, cmd.ToPhone2)
	set(&t.ToPhone2Description, cmd.ToPhone2Description)
	set(&t.RequesterPhone1, cmd.RequesterPhone1)
	set(&t.RequesterPhone1Description, cmd.RequesterPhone1Description)
}

// Get loads a task the actor is allowed to see, with contact details and
// privileged fields redacted per role.
func (s *Service) Get(ctx context.Context, actor auth.Context, id types.ID) (*Task, error) {
	if !actor.Authenticated() {
		return nil, ErrAuthRequired
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Visible(actor, t, time.Now()) {
		return nil, ErrNotFound
	}
	s.redact(actor, t)
	return t, nil
}

// List returns the tasks visible to the actor, redacted per role.
func (s *Service) List(ctx context.Context, actor auth.Context) ([]*Task, error) {
	if !actor.Authenticated() {
		return nil, ErrAuthRequired
	}
	tasks, err := s.store.List(ctx, VisibilityFilter(actor, time.Now()))
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		s.redact(actor, t)
	}
	return tasks, nil
}

func (s *Service) redact(actor auth.Context, t *Task) {
	RedactContactInfo(actor, t)
	if !actor.Privileged() {
		t.InternalComments = ""
	}
	if !actor.Dispatcher {
		t.CreateUserID = ""
	}
}

// Claim attaches a driver to an unassigned task. Self-claims are rate
// limited; dispatchers may claim on behalf of a named driver. The store's
// conditional write decides races: exactly one concurrent claimer wins.
func (s *Service) Claim(ctx context.Context, actor auth.Context, id types.ID, targetUserID string) (phone.ContactInfo, error) {
	var none phone.ContactInfo
	if !actor.Authenticated() {
		return none, ErrAuthRequired
	}

	assignUserID := actor.UserID
	if targetUserID != "" {
		exists, err := s.users.Exists(ctx, types.ID(targetUserID))
		if err != nil {
			return none, err
		}
		if !exists {
			return none, ErrTargetUserMissing
		}
		if targetUserID != actor.UserID && !actor.Dispatcher {
			return none, ErrAssignForbidden
		}
		assignUserID = targetUserID
	} else {
		assigned, err := s.store.CountAssignedToDriver(ctx, actor.UserID)
		if err != nil {
			return none, err
		}
		if assigned >= maxConcurrentAssignments {
			return none, ErrTooManyAssigned
		}
		recent, err := s.store.CountRecentChangesByDriver(ctx, actor.UserID, ActionAssigned, time.Now().Add(-claimWindow))
		if err != nil {
			return none, err
		}
		if recent >= maxClaimsPerWindow {
			return none, ErrTooManyClaims
		}
	}

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return none, err
	}
	if t.DriverID != "" {
		return none, ErrConflict
	}
	if !CanTransition(t.TaskStatus, StatusAssigned) {
		return none, ErrInvalidTransition
	}

	now := time.Now()
	ok, err := s.store.Claim(ctx, t.ID, assignUserID, now)
	if err != nil {
		return none, err
	}
	if !ok {
		return none, ErrConflict
	}
	t.DriverID = assignUserID
	t.TaskStatus = StatusAssigned
	t.StatusChangeDate = now

	if err := s.appendStatusChange(ctx, actor.UserID, t, ActionAssigned, ""); err != nil {
		return none, err
	}
	return ContactInfo(actor, t), nil
}

// Release detaches the driver and reopens the task for claiming.
func (s *Service) Release(ctx context.Context, actor auth.Context, id types.ID, notes string) error {
	return s.transition(ctx, actor, id, transitionArgs{
		to:          StatusActive,
		clearDriver: true,
		notes:       notes,
		action:      ActionDriverCancelled,
	})
}

// MarkNotRelevant resolves the task as no longer needed. Notes required.
func (s *Service) MarkNotRelevant(ctx context.Context, actor auth.Context, id types.ID, notes string) error {
	if notes == "" {
		return ErrNotesRequired
	}
	return s.transition(ctx, actor, id, transitionArgs{
		to:    StatusNotRelevant,
		notes: notes,
	})
}

// MarkOtherProblem flags the task with a problem the driver cannot resolve.
// Notes required.
func (s *Service) MarkOtherProblem(ctx context.Context, actor auth.Context, id types.ID, notes string) error {
	if notes == "" {
		return ErrNotesRequired
	}
	return s.transition(ctx, actor, id, transitionArgs{
		to:    StatusOtherProblem,
		notes: notes,
	})
}

// MarkCompleted resolves the task successfully.
func (s *Service) MarkCompleted(ctx context.Context, actor auth.Context, id types.ID, notes string) error {
	return s.transition(ctx, actor, id, transitionArgs{
		to:    StatusCompleted,
		notes: notes,
	})
}

// UndoStatusClick resets an accidental status tap back to assigned without
// touching the driver.
func (s *Service) UndoStatusClick(ctx context.Context, actor auth.Context, id types.ID) error {
	return s.transition(ctx, actor, id, transitionArgs{
		to:        StatusAssigned,
		keepNotes: true,
		action:    ActionClickedByMistake,
	})
}

// ReturnToDriver puts a resolved task back in the attached driver's hands.
func (s *Service) ReturnToDriver(ctx context.Context, actor auth.Context, id types.ID) error {
	if !actor.Dispatcher {
		return ErrDispatcherOnly
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.DriverID == "" {
		return ErrNoDriver
	}
	return s.commitTransition(ctx, actor, t, StatusAssigned, t.DriverID, NoteByDispatcher, ActionReturnedToDriver)
}

// ReturnToActive detaches the driver and reopens the task. Approving a
// draft goes through here as well and is labelled accordingly.
func (s *Service) ReturnToActive(ctx context.Context, actor auth.Context, id types.ID) error {
	if !actor.Dispatcher {
		return ErrDispatcherOnly
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	action := ActionReturnedToActive
	if t.TaskStatus == StatusDraft {
		action = ActionDraftApproved
	}
	return s.commitTransition(ctx, actor, t, StatusActive, "", NoteByDispatcher, action)
}

// MarkDraft pulls a task back out of circulation.
func (s *Service) MarkDraft(ctx context.Context, actor auth.Context, id types.ID) error {
	if !actor.Dispatcher {
		return ErrDispatcherOnly
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.commitTransition(ctx, actor, t, StatusDraft, "", NoteByDispatcher, ActionMarkedDraft)
}

// History returns the task's ledger, newest first. Dispatchers and trainees
// only.
func (s *Service) History(ctx context.Context, actor auth.Context, id types.ID) ([]*StatusChange, error) {
	if !actor.Privileged() {
		return nil, ErrUpdateForbidden
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListStatusChanges(ctx, id)
}

// GetContactInfo returns the gated phone projection for a task.
func (s *Service) GetContactInfo(ctx context.Context, actor auth.Context, id types.ID) (phone.ContactInfo, error) {
	if !actor.Authenticated() {
		return phone.ContactInfo{}, ErrAuthRequired
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return phone.ContactInfo{}, err
	}
	return ContactInfo(actor, t), nil
}

type transitionArgs struct {
	to          Status
	clearDriver bool
	keepNotes   bool
	notes       string
	action      string
}

// transition implements the driver-or-dispatcher operations: reload, check
// authorization and the state machine edge, write, append to the ledger.
func (s *Service) transition(ctx context.Context, actor auth.Context, id types.ID, args transitionArgs) error {
	if !actor.Authenticated() {
		return ErrAuthRequired
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.DriverID != actor.UserID && !actor.Dispatcher {
		return ErrNotYourTask
	}
	driverID := t.DriverID
	if args.clearDriver {
		driverID = ""
	}
	notes := args.notes
	if args.keepNotes {
		notes = t.StatusNotes
	}
	action := args.action
	if action == "" {
		action = args.to.Caption()
	}
	return s.commitTransition(ctx, actor, t, args.to, driverID, notes, action)
}

func (s *Service) commitTransition(ctx context.Context, actor auth.Context, t *Task, to Status, driverID, notes, action string) error {
	if !CanTransition(t.TaskStatus, to) {
		return ErrInvalidTransition
	}
	now := time.Now()
	if err := s.store.SetAssignment(ctx, t.ID, driverID, to, notes, now); err != nil {
		return err
	}
	t.DriverID = driverID
	t.TaskStatus = to
	t.StatusNotes = notes
	t.StatusChangeDate = now
	return s.appendStatusChange(ctx, actor.UserID, t, action, notes)
}

// appendStatusChange writes one immutable ledger row and then publishes the
// fan-out event. Publish failures are the bus's problem, never the caller's.
func (s *Service) appendStatusChange(ctx context.Context, actorID string, t *Task, what, notes string) error {
	c := &StatusChange{
		ID:           types.NewID(),
		TaskID:       t.ID,
		What:         what,
		EventStatus:  t.TaskStatus,
		Notes:        notes,
		DriverID:     t.DriverID,
		CreateUserID: actorID,
		CreatedAt:    time.Now(),
	}
	if err := s.store.AppendStatusChange(ctx, c); err != nil {
		return fmt.Errorf("append status change: %w", err)
	}
	s.bus.Publish(ctx, updates.StatusEvent{
		Status:  string(t.TaskStatus),
		Message: what + " - " + t.ShortDescription(),
		UserID:  actorID,
		Action:  what,
	})
	return nil
}

func (s *Service) notifyDispatchersOfDraft(ctx context.Context, t *Task) {
	dispatchers, err := s.users.ListDispatchers(ctx)
	if err != nil {
		slog.Warn("draft sms: list dispatchers", "err", err)
		return
	}
	text := "נוספה טיוטא: " + t.ShortDescription() + "\n\n" + s.site.Origin + "/טיוטות"
	for _, d := range dispatchers {
		if err := s.sender.SendMessage(ctx, d.Phone, text); err != nil {
			slog.Warn("draft sms: send failed", "err", err, "to", d.Phone)
		}
	}
}
