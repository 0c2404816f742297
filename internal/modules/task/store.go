// README: Task store backed by PostgreSQL; holds the claim critical section.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shinua/internal/geo"
	"shinua/internal/types"
)

// psql is the shared statement builder configured for Postgres placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

var taskColumns = []string{
	"id", "external_id", "title", "description", "category", "urgency",
	"task_status", "status_change_date", "status_notes",
	"event_date", "start_time", "relevant_hours", "valid_until",
	"address", "address_api_result", "to_address", "to_address_api_result",
	"phone1", "phone1_description", "phone2", "phone2_description",
	"to_phone1", "to_phone1_description", "to_phone2", "to_phone2_description",
	"requester_phone1", "requester_phone1_description",
	"image_id", "internal_comments",
	"driver_id", "create_user_id", "responsible_dispatcher_id", "created_at",
}

func (s *Store) Insert(ctx context.Context, t *Task) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO tasks (
            id, external_id, title, description, category, urgency,
            task_status, status_change_date, status_notes,
            event_date, start_time, relevant_hours, valid_until,
            address, address_api_result, to_address, to_address_api_result,
            phone1, phone1_description, phone2, phone2_description,
            to_phone1, to_phone1_description, to_phone2, to_phone2_description,
            requester_phone1, requester_phone1_description,
            image_id, internal_comments,
            driver_id, create_user_id, responsible_dispatcher_id, created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6,
            $7, $8, $9,
            $10, $11, $12, $13,
            $14, $15, $16, $17,
            $18, $19, $20, $21,
            $22, $23, $24, $25,
            $26, $27,
            $28, $29,
            $30, $31, $32, $33
        )`,
		string(t.ID), t.ExternalID, t.Title, t.Description, t.Category, string(t.Urgency),
		string(t.TaskStatus), t.StatusChangeDate, t.StatusNotes,
		t.EventDate, t.StartTime, t.RelevantHours, t.ValidUntil,
		t.Address, geoJSON(t.AddressApiResult), t.ToAddress, geoJSON(t.ToAddressApiResult),
		t.Phone1, t.Phone1Description, t.Phone2, t.Phone2Description,
		t.ToPhone1, t.ToPhone1Description, t.ToPhone2, t.ToPhone2Description,
		t.RequesterPhone1, t.RequesterPhone1Description,
		t.ImageID, t.InternalComments,
		t.DriverID, t.CreateUserID, t.ResponsibleDispatcherID, t.CreatedAt,
	)
	return err
}

// Update rewrites the editable fields. The assignment columns (driver_id,
// task_status, status_change_date) are written only by protocol operations.
func (s *Store) Update(ctx context.Context, t *Task) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE tasks
        SET title = $1, description = $2, category = $3, urgency = $4,
            event_date = $5, start_time = $6, relevant_hours = $7, valid_until = $8,
            address = $9, address_api_result = $10, to_address = $11, to_address_api_result = $12,
            phone1 = $13, phone1_description = $14, phone2 = $15, phone2_description = $16,
            to_phone1 = $17, to_phone1_description = $18, to_phone2 = $19, to_phone2_description = $20,
            requester_phone1 = $21, requester_phone1_description = $22,
            image_id = $23, internal_comments = $24,
            responsible_dispatcher_id = $25
        WHERE id = $26`,
		t.Title, t.Description, t.Category, string(t.Urgency),
		t.EventDate, t.StartTime, t.RelevantHours, t.ValidUntil,
		t.Address, geoJSON(t.AddressApiResult), t.ToAddress, geoJSON(t.ToAddressApiResult),
		t.Phone1, t.Phone1Description, t.Phone2, t.Phone2Description,
		t.ToPhone1, t.ToPhone1Description, t.ToPhone2, t.ToPhone2Description,
		t.RequesterPhone1, t.RequesterPhone1Description,
		t.ImageID, t.InternalComments,
		t.ResponsibleDispatcherID,
		string(t.ID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Task, error) {
	query, args, err := psql.Select(taskColumns...).From("tasks").Where(sq.Eq{"id": string(id)}).ToSql()
	if err != nil {
		return nil, err
	}
	return scanTask(s.db.QueryRow(ctx, query, args...))
}

// List returns the tasks matching the visibility predicate, most recently
// touched first.
func (s *Store) List(ctx context.Context, where sq.Sqlizer) ([]*Task, error) {
	query, args, err := psql.Select(taskColumns...).
		From("tasks").
		Where(where).
		OrderBy("status_change_date DESC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Claim attaches a driver iff no driver is attached yet. The conditional
// WHERE is the critical section that prevents double assignment; a false
// return means another actor won the race.
func (s *Store) Claim(ctx context.Context, id types.ID, driverID string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE tasks
        SET driver_id = $1,
            task_status = $2,
            status_change_date = $3
        WHERE id = $4 AND driver_id = ''`,
		driverID, string(StatusAssigned), now, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetAssignment writes the assignment columns after a protocol operation.
func (s *Store) SetAssignment(ctx context.Context, id types.ID, driverID string, status Status, notes string, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE tasks
        SET driver_id = $1,
            task_status = $2,
            status_notes = $3,
            status_change_date = $4
        WHERE id = $5`,
		driverID, string(status), notes, now, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextExternalID allocates the next value of the shared sequence. The
// sequence increment is atomic under concurrent inserts.
func (s *Store) NextExternalID(ctx context.Context) (string, error) {
	row := s.db.QueryRow(ctx, "SELECT nextval('task_seq')")
	var n int64
	if err := row.Scan(&n); err != nil {
		return "", fmt.Errorf("next external id: %w", err)
	}
	return strconv.FormatInt(n, 10), nil
}

// CountAssignedToDriver counts tasks currently held by the driver in
// assigned status (the concurrent-assignment rate limit input).
func (s *Store) CountAssignedToDriver(ctx context.Context, driverID string) (int, error) {
	row := s.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM tasks
        WHERE driver_id = $1 AND task_status = $2`,
		driverID, string(StatusAssigned),
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// AppendStatusChange inserts one immutable ledger row.
func (s *Store) AppendStatusChange(ctx context.Context, c *StatusChange) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO task_status_changes (
            id, task_id, what, event_status, notes, driver_id, create_user_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(c.ID), string(c.TaskID), c.What, string(c.EventStatus), c.Notes,
		c.DriverID, c.CreateUserID, c.CreatedAt,
	)
	return err
}

// CountRecentChangesByDriver counts ledger entries for a driver with the
// given action label since the cutoff (the hourly claim rate limit input).
func (s *Store) CountRecentChangesByDriver(ctx context.Context, driverID, what string, since time.Time) (int, error) {
	row := s.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM task_status_changes
        WHERE driver_id = $1 AND what = $2 AND created_at > $3`,
		driverID, what, since,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListStatusChanges returns a task's ledger, newest first.
func (s *Store) ListStatusChanges(ctx context.Context, taskID types.ID) ([]*StatusChange, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, task_id, what, event_status, notes, driver_id, create_user_id, created_at
        FROM task_status_changes
        WHERE task_id = $1
        ORDER BY created_at DESC`,
		string(taskID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.TaskID, &c.What, &c.EventStatus, &c.Notes, &c.DriverID, &c.CreateUserID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var addressResult, toAddressResult []byte
	err := row.Scan(
		&t.ID, &t.ExternalID, &t.Title, &t.Description, &t.Category, &t.Urgency,
		&t.TaskStatus, &t.StatusChangeDate, &t.StatusNotes,
		&t.EventDate, &t.StartTime, &t.RelevantHours, &t.ValidUntil,
		&t.Address, &addressResult, &t.ToAddress, &toAddressResult,
		&t.Phone1, &t.Phone1Description, &t.Phone2, &t.Phone2Description,
		&t.ToPhone1, &t.ToPhone1Description, &t.ToPhone2, &t.ToPhone2Description,
		&t.RequesterPhone1, &t.RequesterPhone1Description,
		&t.ImageID, &t.InternalComments,
		&t.DriverID, &t.CreateUserID, &t.ResponsibleDispatcherID, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.AddressApiResult = parseGeoJSON(addressResult)
	t.ToAddressApiResult = parseGeoJSON(toAddressResult)
	return &t, nil
}

func geoJSON(r *geo.Result) []byte {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

func parseGeoJSON(b []byte) *geo.Result {
	if len(b) == 0 {
		return nil
	}
	var r geo.Result
	if err := json.Unmarshal(b, &r); err != nil {
		return nil
	}
	return &r
}
