// Package catalog defines the marketplace entities the data plane reads
// and writes, and the repository contracts that back them. The catalog
// service itself (registration, purchase, approval workflows) is an
// external collaborator; this package owns only the surface the sharing
// data plane depends on directly.
package catalog

import "time"

// Role distinguishes a User's side of the marketplace.
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// ApprovalStatus is a Share's position in the approval state machine
// (spec §4.10).
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// User is a marketplace participant. Never destroyed once created.
type User struct {
	ID                   int64
	Email                string
	PasswordHash         string
	Role                 Role
	SellerServerURL       string
	CreatedAt            time.Time
}

// Dataset is a seller-published table. Immutable except the risk fields.
type Dataset struct {
	ID               int64
	SellerID         int64
	Name             string
	TableName        string
	TablePath        string
	Price            float64
	IsPublic         bool
	RiskScore        float64
	RiskLevel        string
	RequiresApproval bool
	// AnchorColumns is ordered, non-empty, and a subset of the table
	// schema; it excludes any column the Watermarker mutates or adds.
	AnchorColumns []string
	CreatedAt     time.Time
}

// Share is a time-limited grant of access from a seller to a buyer for
// one dataset, addressed by an opaque bearer token.
type Share struct {
	ID        int64
	DatasetID int64
	SellerID  int64
	BuyerID   int64

	// Token is the legacy clear-text column. Empty once migrated; kept
	// only as a fallback comparison path (spec §4.1, §9).
	Token string
	// TokenHash is HMAC_SHA256(TokenSalt, token), hex-encoded.
	TokenHash string

	CreatedAt time.Time
	ExpiresAt time.Time

	ApprovalStatus ApprovalStatus
	Revoked        bool
	RevokedAt      time.Time

	IsTrial         bool
	TrialRowLimit   int
	TrialExpiresAt  time.Time

	LastUsedAt time.Time
}

// Servable reports whether the share may be used to serve a query right
// now, per spec §3's invariant:
//
//	approval_status=approved ∧ ¬revoked ∧ now<expires_at ∧
//	(¬is_trial ∨ now<trial_expires_at)
func (s *Share) Servable(now time.Time) bool {
	if s.ApprovalStatus != ApprovalApproved {
		return false
	}
	if s.Revoked {
		return false
	}
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return false
	}
	if s.IsTrial && !s.TrialExpiresAt.IsZero() && !now.Before(s.TrialExpiresAt) {
		return false
	}
	return true
}

// EffectiveRowLimit combines a buyer-requested limit with the share's
// trial cap, per spec §4.11 / §5: the more restrictive of the two wins.
func (s *Share) EffectiveRowLimit(requested int) (limit int, applies bool) {
	switch {
	case s.IsTrial && s.TrialRowLimit > 0 && requested > 0:
		return min(requested, s.TrialRowLimit), true
	case s.IsTrial && s.TrialRowLimit > 0:
		return s.TrialRowLimit, true
	case requested > 0:
		return requested, true
	default:
		return 0, false
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// AuditLog is an append-only record of a single query.
type AuditLog struct {
	ID                    int64
	BuyerID               int64
	DatasetID             int64
	ShareID               int64
	QueryTime             time.Time
	ColumnsRequested      []string
	ColumnsReturned       []string
	RowCountReturned      int
	EffectiveLimit        int
	PredicatesRequested   string
	PredicatesApplied     string
	PredicatesAppliedCount int
	AnchorColumnsUsed     []string
	ClientIP              string
}

// ShareProfile is the payload the marketplace hands a buyer after a
// purchase/trial completes (spec §6). The data plane never issues this
// itself — the marketplace does. The type records the shape only; no code
// in this repository references it (SPEC_FULL §11).
type ShareProfile struct {
	ShareCredentialsVersion int       `json:"shareCredentialsVersion"`
	Endpoint                string    `json:"endpoint"`
	BearerToken             string    `json:"bearerToken"`
	ExpirationTime          time.Time `json:"expirationTime"`
}
