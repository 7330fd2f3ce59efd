package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/kart-io/msgbus/pkg/recipient"
)

// RecipientStore reads recipients and group membership from postgres and
// carries the write path used by the identity sync job.
type RecipientStore struct {
	DB *sql.DB
}

// NewRecipientStore creates a recipient store over an open pool.
func NewRecipientStore(db *sql.DB) *RecipientStore {
	return &RecipientStore{DB: db}
}

// GetByIDs returns the recipients with the given ids; missing ids are omitted.
func (s *RecipientStore) GetByIDs(ctx context.Context, ids []int64) ([]*recipient.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, name, is_group, COALESCE(employee_id, ''), COALESCE(email, ''),
		       COALESCE(im_handle, ''), COALESCE(sms_handle, '')
		FROM recipient
		WHERE id = ANY($1)
	`
	rows, err := s.DB.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecipients(rows)
}

// GetGroupMembers returns the active direct members of a group, one level
// deep. The join never recurses into nested groups.
func (s *RecipientStore) GetGroupMembers(ctx context.Context, groupID int64) ([]*recipient.Recipient, error) {
	query := `
		SELECT r.id, r.name, r.is_group, COALESCE(r.employee_id, ''), COALESCE(r.email, ''),
		       COALESCE(r.im_handle, ''), COALESCE(r.sms_handle, '')
		FROM recipient r
		JOIN recipient_group g ON g.recipient = r.id
		WHERE g."group" = $1 AND g.active
	`
	rows, err := s.DB.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecipients(rows)
}

// UpsertByEmployeeID inserts or updates an individual keyed by employee id.
func (s *RecipientStore) UpsertByEmployeeID(ctx context.Context, r *recipient.Recipient) error {
	if r.EmployeeID == "" {
		return fmt.Errorf("recipient employee id cannot be empty")
	}

	query := `
		UPDATE recipient
		SET name = $2, email = $3, im_handle = $4, sms_handle = $5, last_updated = NOW()
		WHERE employee_id = $1 AND NOT is_group
	`
	res, err := s.DB.ExecContext(ctx, query, r.EmployeeID, r.Name, r.Email, r.IMHandle, r.SMSHandle)
	if err != nil {
		return fmt.Errorf("update recipient %s: %w", r.EmployeeID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	insert := `
		INSERT INTO recipient (name, is_group, employee_id, email, im_handle, sms_handle)
		VALUES ($1, FALSE, $2, $3, $4, $5)
		RETURNING id
	`
	return s.DB.QueryRowContext(ctx, insert, r.Name, r.EmployeeID, r.Email, r.IMHandle, r.SMSHandle).Scan(&r.ID)
}

// DeleteMissing removes individuals whose employee id is not in keep. Group
// rows and members without an employee id are untouched.
func (s *RecipientStore) DeleteMissing(ctx context.Context, keep []string) (int64, error) {
	query := `
		DELETE FROM recipient
		WHERE NOT is_group
		  AND employee_id IS NOT NULL
		  AND employee_id <> ALL($1)
	`
	res, err := s.DB.ExecContext(ctx, query, pq.Array(keep))
	if err != nil {
		return 0, fmt.Errorf("delete missing recipients: %w", err)
	}
	return res.RowsAffected()
}

func scanRecipients(rows *sql.Rows) ([]*recipient.Recipient, error) {
	var out []*recipient.Recipient
	for rows.Next() {
		var r recipient.Recipient
		if err := rows.Scan(
			&r.ID,
			&r.Name,
			&r.IsGroup,
			&r.EmployeeID,
			&r.Email,
			&r.IMHandle,
			&r.SMSHandle,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
