// Package postgres implements catalog.Store against a Postgres catalog
// database using pgx. Query construction follows the repository's
// identifier-sanitizing, parameterized-value style throughout: no user
// input is ever concatenated into SQL text.
package postgres

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharelane/dataplane/internal/catalog"
)

// Store implements catalog.Store using a pooled pgx connection.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The pool is owned by the caller (one
// object-store client / one pool per process, per spec §5).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ShareByTokenHash looks up a share by its stored HMAC. The comparison
// happens server-side via an indexed equality match; Postgres does not
// offer constant-time string comparison, so the caller (auth.resolveShare)
// re-verifies the returned row with internal/tokens.VerifyTokenHash before
// trusting it.
func (s *Store) ShareByTokenHash(ctx context.Context, hash string) (*catalog.Share, error) {
	const q = `
		SELECT id, dataset_id, seller_id, buyer_id, token, token_hash,
		       created_at, expires_at, approval_status, revoked, revoked_at,
		       is_trial, trial_row_limit, trial_expires_at, last_used_at
		FROM shares
		WHERE token_hash = $1
	`
	row := s.pool.QueryRow(ctx, q, hash)
	return scanShare(row)
}

// ShareByPlaintextToken is the legacy fallback lookup. Only rows with an
// empty token_hash are eligible, so a migrated row can never be matched
// through the insecure path even if its plaintext token column still
// holds a stale value.
func (s *Store) ShareByPlaintextToken(ctx context.Context, token string) (*catalog.Share, error) {
	const q = `
		SELECT id, dataset_id, seller_id, buyer_id, token, token_hash,
		       created_at, expires_at, approval_status, revoked, revoked_at,
		       is_trial, trial_row_limit, trial_expires_at, last_used_at
		FROM shares
		WHERE token = $1 AND (token_hash IS NULL OR token_hash = '')
	`
	row := s.pool.QueryRow(ctx, q, token)
	return scanShare(row)
}

func scanShare(row pgx.Row) (*catalog.Share, error) {
	var sh catalog.Share
	var token, tokenHash *string
	var revokedAt, trialExpiresAt, lastUsedAt *time.Time

	err := row.Scan(
		&sh.ID, &sh.DatasetID, &sh.SellerID, &sh.BuyerID,
		&token, &tokenHash,
		&sh.CreatedAt, &sh.ExpiresAt, &sh.ApprovalStatus, &sh.Revoked, &revokedAt,
		&sh.IsTrial, &sh.TrialRowLimit, &trialExpiresAt, &lastUsedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("scan share: %w", err)
	}
	if token != nil {
		sh.Token = *token
	}
	if tokenHash != nil {
		sh.TokenHash = *tokenHash
	}
	if revokedAt != nil {
		sh.RevokedAt = *revokedAt
	}
	if trialExpiresAt != nil {
		sh.TrialExpiresAt = *trialExpiresAt
	}
	if lastUsedAt != nil {
		sh.LastUsedAt = *lastUsedAt
	}
	return &sh, nil
}

// TouchLastUsed is best-effort bookkeeping; callers must not fail a query
// because this write failed.
func (s *Store) TouchLastUsed(ctx context.Context, shareID int64, when time.Time) error {
	const q = `UPDATE shares SET last_used_at = $1 WHERE id = $2`
	_, err := s.pool.Exec(ctx, q, when, shareID)
	if err != nil {
		return fmt.Errorf("touch last_used_at: %w", err)
	}
	return nil
}

// DatasetByID resolves the dataset behind a share.
func (s *Store) DatasetByID(ctx context.Context, id int64) (*catalog.Dataset, error) {
	const q = `
		SELECT id, seller_id, name, table_name, table_path, price, is_public,
		       risk_score, risk_level, requires_approval, anchor_columns, created_at
		FROM datasets
		WHERE id = $1
	`
	var ds catalog.Dataset
	var tableName *string
	var anchorColumns string

	err := s.pool.QueryRow(ctx, q, id).Scan(
		&ds.ID, &ds.SellerID, &ds.Name, &tableName, &ds.TablePath, &ds.Price, &ds.IsPublic,
		&ds.RiskScore, &ds.RiskLevel, &ds.RequiresApproval, &anchorColumns, &ds.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("scan dataset: %w", err)
	}
	if tableName != nil {
		ds.TableName = *tableName
	}
	ds.AnchorColumns = splitCSV(anchorColumns)
	return &ds, nil
}

// Append inserts an audit row. Callers treat a failure here as
// non-fatal to the query it describes (spec §4.8, §7).
func (s *Store) Append(ctx context.Context, entry *catalog.AuditLog) error {
	const q = `
		INSERT INTO audit_logs (
			buyer_id, dataset_id, share_id, query_time,
			columns_requested, columns_returned, row_count_returned, query_limit,
			predicates_requested, predicates_applied, predicates_applied_count,
			anchor_columns_used, ip_address
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`
	_, err := s.pool.Exec(ctx, q,
		entry.BuyerID, entry.DatasetID, entry.ShareID, entry.QueryTime,
		joinCSV(entry.ColumnsRequested), joinCSV(entry.ColumnsReturned), entry.RowCountReturned, entry.EffectiveLimit,
		entry.PredicatesRequested, entry.PredicatesApplied, entry.PredicatesAppliedCount,
		joinCSV(entry.AnchorColumnsUsed), entry.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// HashTokenForLookup mirrors internal/tokens.HashToken so repository
// callers that only have a raw token (rather than a pre-hashed value) can
// build the equality match without importing internal/tokens, avoiding an
// import cycle between tokens (which depends on nothing catalog-shaped)
// and catalog/postgres.
func HashTokenForLookup(salt []byte, token string) string {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinCSV(values []string) string {
	return strings.Join(values, ",")
}
