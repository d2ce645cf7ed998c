package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Status is an infraction's position in the contest lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzed  Status = "analyzed"
	StatusContested Status = "contested"
	StatusResolved  Status = "resolved"
)

// Infraction is a recorded traffic violation notice.
type Infraction struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"user_id"`
	NoticeNumber       string    `json:"notification_number"`
	InfractionType     string    `json:"infraction_type"`
	Value              float64   `json:"value"`
	DateInfraction     time.Time `json:"date_infraction"`
	DateNotification   time.Time `json:"date_notification"`
	VehiclePlate       string    `json:"vehicle_plate"`
	VehicleModel       string    `json:"vehicle_model"`
	Location           string    `json:"location"`
	IssuingAgency      string    `json:"issuing_agency"`
	Status             Status    `json:"status"`
	SuccessProbability *int      `json:"success_probability"`
	LegalArguments     string    `json:"legal_arguments"`
	NotificationFile   string    `json:"notification_file"`
	ContestDocument    string    `json:"contest_document"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

const infractionColumns = `id, user_id, notification_number, infraction_type, value,
	date_infraction, date_notification, vehicle_plate, vehicle_model, location,
	issuing_agency, status, success_probability, legal_arguments,
	notification_file, contest_document, created_at, updated_at`

// CreateInfraction inserts a pending infraction and sets its ID and
// timestamps. Returns ErrDuplicate when the owner already recorded the same
// notice number.
func (q *Queries) CreateInfraction(ctx context.Context, inf *Infraction) error {
	now := time.Now().UTC()
	inf.CreatedAt, inf.UpdatedAt = now, now
	if inf.Status == "" {
		inf.Status = StatusPending
	}

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO infractions (user_id, notification_number, infraction_type, value,
			date_infraction, date_notification, vehicle_plate, vehicle_model, location,
			issuing_agency, status, notification_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inf.UserID,
		inf.NoticeNumber,
		inf.InfractionType,
		inf.Value,
		inf.DateInfraction,
		inf.DateNotification,
		inf.VehiclePlate,
		inf.VehicleModel,
		inf.Location,
		inf.IssuingAgency,
		string(inf.Status),
		inf.NotificationFile,
		inf.CreatedAt,
		inf.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert infraction: %w", err)
	}
	inf.ID, err = res.LastInsertId()
	return err
}

// InfractionExists reports whether the owner already recorded the notice.
func (q *Queries) InfractionExists(ctx context.Context, userID int64, notice string) (bool, error) {
	return q.exists(ctx,
		"SELECT 1 FROM infractions WHERE user_id = ? AND notification_number = ?",
		userID, notice)
}

// GetInfraction loads an infraction owned by userID.
func (q *Queries) GetInfraction(ctx context.Context, id, userID int64) (*Infraction, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+infractionColumns+" FROM infractions WHERE id = ? AND user_id = ?",
		id, userID)
	if err != nil {
		return nil, fmt.Errorf("query infraction: %w", err)
	}
	infs, err := scanInfractions(rows)
	if err != nil {
		return nil, err
	}
	if len(infs) == 0 {
		return nil, ErrNotFound
	}
	return &infs[0], nil
}

// ListInfractions returns the owner's infractions, newest first.
func (q *Queries) ListInfractions(ctx context.Context, userID int64) ([]Infraction, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+infractionColumns+" FROM infractions WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("query infractions: %w", err)
	}
	return scanInfractions(rows)
}

// SaveAnalysis overwrites the analysis fields and moves the infraction to
// StatusAnalyzed.
func (q *Queries) SaveAnalysis(ctx context.Context, id int64, probability int, legalArguments string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE infractions
		SET success_probability = ?, legal_arguments = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, probability, legalArguments, string(StatusAnalyzed), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return expectOne(res)
}

// MarkContested records the generated document and moves the infraction to
// StatusContested.
func (q *Queries) MarkContested(ctx context.Context, id int64, documentName string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE infractions
		SET contest_document = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, documentName, string(StatusContested), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark contested: %w", err)
	}
	return expectOne(res)
}

// CountInfractionsByStatus returns per-status totals across all users.
func (q *Queries) CountInfractionsByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT status, COUNT(*) FROM infractions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count infractions: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// scanInfractions drains rows into Infractions and closes them.
func scanInfractions(rows *sql.Rows) ([]Infraction, error) {
	defer rows.Close()

	var out []Infraction
	for rows.Next() {
		var inf Infraction
		var status string
		var prob sql.NullInt64
		err := rows.Scan(
			&inf.ID,
			&inf.UserID,
			&inf.NoticeNumber,
			&inf.InfractionType,
			&inf.Value,
			&inf.DateInfraction,
			&inf.DateNotification,
			&inf.VehiclePlate,
			&inf.VehicleModel,
			&inf.Location,
			&inf.IssuingAgency,
			&status,
			&prob,
			&inf.LegalArguments,
			&inf.NotificationFile,
			&inf.ContestDocument,
			&inf.CreatedAt,
			&inf.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan infraction: %w", err)
		}
		inf.Status = Status(status)
		if prob.Valid {
			p := int(prob.Int64)
			inf.SuccessProbability = &p
		}
		out = append(out, inf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
