package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"citypulse/models"

	"github.com/apex/log"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a complaint does not exist.
	ErrNotFound = errors.New("complaint not found")
	// ErrNotOwner is returned when a user acts on someone else's complaint.
	ErrNotOwner = errors.New("complaint belongs to another user")
	// ErrNotPending is returned when a withdrawal hits an already reviewed
	// complaint. Reviewed records are kept to preserve the action history.
	ErrNotPending = errors.New("only pending complaints can be deleted")
	// ErrInvalidStatus is returned for review verdicts outside the status enum.
	ErrInvalidStatus = errors.New("status must be Approved or Declined")
)

// ComplaintService handles all complaint persistence.
type ComplaintService struct {
	db *sql.DB
}

// NewComplaintService creates a new complaint service instance.
func NewComplaintService(db *sql.DB) *ComplaintService {
	return &ComplaintService{db: db}
}

// Create inserts a new complaint. The identifier and creation timestamp are
// assigned here: status always starts Pending and the timestamp is never
// mutated afterwards.
func (s *ComplaintService) Create(ctx context.Context, userID, userPhone, title, description, address string, image []byte) (*models.Complaint, error) {
	c := &models.Complaint{
		ID:          uuid.New().String(),
		UserID:      userID,
		UserPhone:   userPhone,
		Title:       title,
		Description: description,
		Address:     address,
		Status:      models.StatusPending,
		Timestamp:   time.Now().UnixMilli(),
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO complaints (id, user_id, user_phone, title, description, address, status, timestamp, image)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.UserPhone, c.Title, c.Description, c.Address, c.Status, c.Timestamp, image)
	if err != nil {
		return nil, fmt.Errorf("failed to insert complaint: %w", err)
	}
	if err := validateResult(result, true); err != nil {
		return nil, err
	}

	log.Infof("Created complaint %s (%s) for user %s", c.ID, c.Title, c.UserID)
	return c, nil
}

// ListByUser returns the user's complaints, newest first. An empty result is
// a valid state, not an error.
func (s *ComplaintService) ListByUser(ctx context.Context, userID string) ([]models.Complaint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, user_phone, title, description, address, status, timestamp
		 FROM complaints
		 WHERE user_id = ?
		 ORDER BY timestamp DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query complaints for user %s: %w", userID, err)
	}
	defer rows.Close()

	return scanComplaints(rows)
}

// ListAll returns every complaint, newest first, for the review dashboard and
// the live feed.
func (s *ComplaintService) ListAll(ctx context.Context) ([]models.Complaint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, user_phone, title, description, address, status, timestamp
		 FROM complaints
		 ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query complaints: %w", err)
	}
	defer rows.Close()

	return scanComplaints(rows)
}

// Get returns a single complaint by id.
func (s *ComplaintService) Get(ctx context.Context, id string) (*models.Complaint, error) {
	var c models.Complaint
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, user_phone, title, description, address, status, timestamp
		 FROM complaints
		 WHERE id = ?`, id).
		Scan(&c.ID, &c.UserID, &c.UserPhone, &c.Title, &c.Description, &c.Address, &c.Status, &c.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query complaint %s: %w", id, err)
	}
	return &c, nil
}

// GetImage returns the photo evidence for a complaint.
func (s *ComplaintService) GetImage(ctx context.Context, id string) ([]byte, error) {
	var image []byte
	err := s.db.QueryRowContext(ctx, "SELECT image FROM complaints WHERE id = ?", id).Scan(&image)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image for complaint %s: %w", id, err)
	}
	return image, nil
}

// Delete withdraws a complaint. Only the owner may delete, and only while the
// complaint is still Pending; reviewed complaints are part of the record.
func (s *ComplaintService) Delete(ctx context.Context, id, userID string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.UserID != userID {
		return ErrNotOwner
	}
	if c.Status != models.StatusPending {
		return ErrNotPending
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM complaints WHERE id = ? AND user_id = ? AND status = ?",
		id, userID, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to delete complaint %s: %w", id, err)
	}
	if err := validateResult(result, true); err != nil {
		return err
	}

	log.Infof("Deleted complaint %s for user %s", id, userID)
	return nil
}

// UpdateStatus records a review verdict. The update is a blind single-field
// overwrite: concurrent reviewers are last-write-wins, the store does not
// gate terminal states.
func (s *ComplaintService) UpdateStatus(ctx context.Context, id, status string) error {
	if status != models.StatusApproved && status != models.StatusDeclined {
		return ErrInvalidStatus
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE complaints SET status = ? WHERE id = ?", status, id); err != nil {
		return fmt.Errorf("failed to update status of complaint %s: %w", id, err)
	}

	log.Infof("Updated complaint %s status to %s", id, status)
	return nil
}

// Fingerprint summarizes the current table state for change detection by the
// live feed: any insert, review, or withdrawal moves at least one component.
func (s *ComplaintService) Fingerprint(ctx context.Context) (string, error) {
	var (
		count      int
		maxSeq     sql.NullInt64
		maxUpdated sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MAX(seq), MAX(updated_at) FROM complaints").
		Scan(&count, &maxSeq, &maxUpdated)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint complaints: %w", err)
	}
	return fmt.Sprintf("%d:%d:%s", count, maxSeq.Int64, maxUpdated.String), nil
}

func scanComplaints(rows *sql.Rows) ([]models.Complaint, error) {
	complaints := []models.Complaint{}
	for rows.Next() {
		var c models.Complaint
		if err := rows.Scan(&c.ID, &c.UserID, &c.UserPhone, &c.Title, &c.Description, &c.Address, &c.Status, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan complaint: %w", err)
		}
		complaints = append(complaints, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating complaints: %w", err)
	}
	return complaints, nil
}

func validateResult(r sql.Result, checkRowsAffected bool) error {
	rows, err := r.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if checkRowsAffected && rows != 1 {
		return fmt.Errorf("expected to affect 1 row, affected %d", rows)
	}
	return nil
}
