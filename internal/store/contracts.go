package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Contract is a catalog template.
type Contract struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Category        string    `json:"category"`
	Description     string    `json:"description"`
	Content         string    `json:"content,omitempty"`
	Price           float64   `json:"price"`
	IsPremium       bool      `json:"is_premium"`
	PopularityScore int       `json:"popularity_score"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ContractFilter narrows ListContracts. Zero values match everything.
type ContractFilter struct {
	Category string
	Search   string
	Premium  *bool
	Limit    int
	Offset   int
}

// UserContract is a purchased copy of a catalog contract.
type UserContract struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	ContractID        int64     `json:"contract_id"`
	CustomizedContent string    `json:"customized_content"`
	PurchaseDate      time.Time `json:"purchase_date"`
	IsDownloaded      bool      `json:"is_downloaded"`
	DownloadCount     int       `json:"download_count"`
	Contract          *Contract `json:"contract,omitempty"`
}

const contractColumns = `id, title, category, description, content, price,
	is_premium, popularity_score, is_active, created_at, updated_at`

// SeedContracts inserts catalog entries whose title is not yet present and
// returns how many were added.
func (q *Queries) SeedContracts(ctx context.Context, contracts []Contract) (int, error) {
	now := time.Now().UTC()
	added := 0
	for _, c := range contracts {
		res, err := q.q.ExecContext(ctx, `
			INSERT OR IGNORE INTO contracts (title, category, description, content, price,
				is_premium, popularity_score, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`, c.Title, c.Category, c.Description, c.Content, c.Price,
			boolToInt(c.IsPremium), c.PopularityScore, now, now)
		if err != nil {
			return added, fmt.Errorf("seed contract %q: %w", c.Title, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// ListContracts returns active contracts matching f, most popular first.
// Content is omitted; use GetContract for the full template.
func (q *Queries) ListContracts(ctx context.Context, f ContractFilter) ([]Contract, error) {
	var where []string
	var args []any

	where = append(where, "is_active = 1")
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		where = append(where, "(title LIKE ? OR description LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if f.Premium != nil {
		where = append(where, "is_premium = ?")
		args = append(args, boolToInt(*f.Premium))
	}

	query := `SELECT id, title, category, description, '', price, is_premium,
		popularity_score, is_active, created_at, updated_at
		FROM contracts WHERE ` + strings.Join(where, " AND ") +
		" ORDER BY popularity_score DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	return scanContracts(rows)
}

// CountContracts returns how many active contracts match f, ignoring paging.
func (q *Queries) CountContracts(ctx context.Context, f ContractFilter) (int, error) {
	f.Limit, f.Offset = 0, 0
	list, err := q.ListContracts(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// GetContract loads an active contract with its content.
func (q *Queries) GetContract(ctx context.Context, id int64) (*Contract, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE id = ? AND is_active = 1", id)
	if err != nil {
		return nil, fmt.Errorf("query contract: %w", err)
	}
	list, err := scanContracts(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// Categories returns the distinct categories of active contracts.
func (q *Queries) Categories(ctx context.Context) ([]string, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT DISTINCT category FROM contracts WHERE is_active = 1 ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var cats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// Popular returns the top active contracts by popularity.
func (q *Queries) Popular(ctx context.Context, limit int) ([]Contract, error) {
	return q.ListContracts(ctx, ContractFilter{Limit: limit})
}

// IncrementPopularity bumps a contract's popularity score by one.
func (q *Queries) IncrementPopularity(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE contracts SET popularity_score = popularity_score + 1, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("increment popularity: %w", err)
	}
	return expectOne(res)
}

// CreateUserContract records a purchase. Returns ErrDuplicate when the user
// already owns the contract.
func (q *Queries) CreateUserContract(ctx context.Context, uc *UserContract) error {
	if uc.PurchaseDate.IsZero() {
		uc.PurchaseDate = time.Now().UTC()
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO user_contracts (user_id, contract_id, customized_content, purchase_date)
		VALUES (?, ?, ?, ?)
	`, uc.UserID, uc.ContractID, uc.CustomizedContent, uc.PurchaseDate)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user contract: %w", err)
	}
	uc.ID, err = res.LastInsertId()
	return err
}

// HasUserContract reports whether the user owns the contract.
func (q *Queries) HasUserContract(ctx context.Context, userID, contractID int64) (bool, error) {
	return q.exists(ctx,
		"SELECT 1 FROM user_contracts WHERE user_id = ? AND contract_id = ?",
		userID, contractID)
}

const userContractSelect = `
	SELECT uc.id, uc.user_id, uc.contract_id, uc.customized_content, uc.purchase_date,
		uc.is_downloaded, uc.download_count,
		c.id, c.title, c.category, c.description, c.content, c.price,
		c.is_premium, c.popularity_score, c.is_active, c.created_at, c.updated_at
	FROM user_contracts uc
	JOIN contracts c ON c.id = uc.contract_id`

// GetUserContract loads a purchase owned by userID, joined with its contract.
func (q *Queries) GetUserContract(ctx context.Context, id, userID int64) (*UserContract, error) {
	row := q.q.QueryRowContext(ctx, userContractSelect+" WHERE uc.id = ? AND uc.user_id = ?", id, userID)
	uc, err := scanUserContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return uc, err
}

// ListUserContracts returns the user's purchases, newest first.
func (q *Queries) ListUserContracts(ctx context.Context, userID int64) ([]UserContract, error) {
	rows, err := q.q.QueryContext(ctx,
		userContractSelect+" WHERE uc.user_id = ? ORDER BY uc.purchase_date DESC, uc.id DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("query user contracts: %w", err)
	}
	defer rows.Close()

	var out []UserContract
	for rows.Next() {
		uc, err := scanUserContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *uc)
	}
	return out, rows.Err()
}

// UpdateCustomContent replaces the user's edited copy of the template.
func (q *Queries) UpdateCustomContent(ctx context.Context, id, userID int64, content string) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE user_contracts SET customized_content = ? WHERE id = ? AND user_id = ?",
		content, id, userID)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return expectOne(res)
}

// RecordDownload marks the purchase as downloaded and bumps its counter.
func (q *Queries) RecordDownload(ctx context.Context, id, userID int64) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE user_contracts SET is_downloaded = 1, download_count = download_count + 1
		WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return expectOne(res)
}

func scanContracts(rows *sql.Rows) ([]Contract, error) {
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		var c Contract
		err := rows.Scan(
			&c.ID,
			&c.Title,
			&c.Category,
			&c.Description,
			&c.Content,
			&c.Price,
			&c.IsPremium,
			&c.PopularityScore,
			&c.IsActive,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserContract(r rowScanner) (*UserContract, error) {
	var uc UserContract
	var c Contract
	err := r.Scan(
		&uc.ID,
		&uc.UserID,
		&uc.ContractID,
		&uc.CustomizedContent,
		&uc.PurchaseDate,
		&uc.IsDownloaded,
		&uc.DownloadCount,
		&c.ID,
		&c.Title,
		&c.Category,
		&c.Description,
		&c.Content,
		&c.Price,
		&c.IsPremium,
		&c.PopularityScore,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user contract: %w", err)
	}
	uc.Contract = &c
	return &uc, nil
}
