package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/cpd/internal/domain"
	"example.com/cpd/internal/events"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const recordColumns = `record_id, learner_id, title, provider, activity_type, hours, record_date, status, category, provenance, source_attempt_id, created_at`

func scanRecord(row rowScanner) (*domain.CreditRecord, error) {
	var (
		rec       domain.CreditRecord
		attemptID *string
	)
	if err := row.Scan(&rec.ID, &rec.LearnerID, &rec.Title, &rec.Provider, &rec.ActivityType, &rec.Hours, &rec.Date, &rec.Status, &rec.Category, &rec.Provenance, &attemptID, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if attemptID != nil {
		rec.SourceAttemptID = *attemptID
	}
	return &rec, nil
}

func insertRecord(ctx context.Context, db execer, rec domain.CreditRecord) error {
	var attemptID any
	if rec.SourceAttemptID != "" {
		attemptID = rec.SourceAttemptID
	}
	_, err := db.Exec(ctx,
		`INSERT INTO credit_records (`+recordColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.LearnerID, rec.Title, rec.Provider, rec.ActivityType, rec.Hours, rec.Date, rec.Status, rec.Category, rec.Provenance, attemptID, rec.CreatedAt,
	)
	return err
}

// CreateCreditRecord implements domain.LedgerRepository.
func (r *Repository) CreateCreditRecord(ctx context.Context, rec domain.CreditRecord) error {
	return insertRecord(ctx, r.pool, rec)
}

// GetCreditRecord implements domain.LedgerRepository.
func (r *Repository) GetCreditRecord(ctx context.Context, id string) (*domain.CreditRecord, error) {
	if !validID(id) {
		return nil, nil
	}
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM credit_records WHERE record_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListCreditRecords implements domain.LedgerRepository. Records are ordered by date then id, newest first.
func (r *Repository) ListCreditRecords(ctx context.Context, learnerID string, cursor *domain.Cursor, limit int) ([]domain.CreditRecord, *domain.Cursor, error) {
	args := []any{learnerID, limit + 1}
	query := `SELECT ` + recordColumns + ` FROM credit_records WHERE learner_id=$1`
	if cursor != nil {
		query += ` AND (record_date, record_id) < ($3, $4)`
		args = append(args, cursor.Date, cursor.ID)
	}
	query += ` ORDER BY record_date DESC, record_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.CreditRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) > limit {
		results = results[:limit]
		last := results[len(results)-1]
		next = &domain.Cursor{Date: last.Date, ID: last.ID}
	}
	return results, next, nil
}

const certificateColumns = `certificate_id, learner_id, code, title, credential_name, hours, category, provider, completed_at, issued_at,
        verification_url, credit_record_id, status, revoked_at, revocation_reason, metadata`

func scanCertificate(row rowScanner) (*domain.Certificate, error) {
	var (
		c    domain.Certificate
		meta []byte
	)
	if err := row.Scan(&c.ID, &c.LearnerID, &c.Code, &c.Title, &c.CredentialName, &c.Hours, &c.Category, &c.Provider, &c.CompletedAt, &c.IssuedAt,
		&c.VerificationURL, &c.CreditRecordID, &c.Status, &c.RevokedAt, &c.RevocationReason, &meta); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// IssueCredit implements domain.LedgerRepository. The record, certificate and credit.issued outbox
// event commit together. An advisory lock on the attempt id makes concurrent replays wait for the
// first issuance and then return it.
func (r *Repository) IssueCredit(ctx context.Context, issuance domain.Issuance) (*domain.Issuance, bool, error) {
	var (
		stored *domain.Issuance
		replay bool
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := advisoryLock(ctx, tx, "issuance:"+issuance.AttemptID); err != nil {
			return err
		}
		existing, err := findIssuance(ctx, tx, issuance.AttemptID)
		if err != nil {
			return err
		}
		if existing != nil {
			stored, replay = existing, true
			return nil
		}

		if err := insertRecord(ctx, tx, issuance.CreditRecord); err != nil {
			return err
		}
		if err := insertCertificate(ctx, tx, issuance.Certificate); err != nil {
			if isUniqueViolation(err, certificateCodeConstraint) {
				return domain.ErrCodeCollision
			}
			return err
		}

		cert := issuance.Certificate
		rec := issuance.CreditRecord
		if err := insertOutbox(ctx, tx, "certificate", cert.ID, events.TypeCreditIssued, rec.LearnerID, cert.ID+":"+events.TypeCreditIssued, events.CreditIssued{
			CertificateID:   cert.ID,
			CertificateCode: cert.Code,
			CreditRecordID:  rec.ID,
			LearnerID:       rec.LearnerID,
			AssessmentID:    cert.Metadata.AssessmentID,
			AttemptID:       issuance.AttemptID,
			Hours:           rec.Hours,
			Category:        rec.Category,
			IssuedAt:        cert.IssuedAt,
		}); err != nil {
			return err
		}
		out := issuance
		stored = &out
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, replay, nil
}

func insertCertificate(ctx context.Context, db execer, c domain.Certificate) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx,
		`INSERT INTO certificates (`+certificateColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		c.ID, c.LearnerID, c.Code, c.Title, c.CredentialName, c.Hours, c.Category, c.Provider, c.CompletedAt, c.IssuedAt,
		c.VerificationURL, c.CreditRecordID, c.Status, c.RevokedAt, c.RevocationReason, meta,
	)
	return err
}

func findIssuance(ctx context.Context, tx pgx.Tx, attemptID string) (*domain.Issuance, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM credit_records WHERE source_attempt_id=$1`, attemptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cert, err := scanCertificate(tx.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE credit_record_id=$1`, rec.ID))
	if err != nil {
		return nil, fmt.Errorf("certificate for credit record %s: %w", rec.ID, err)
	}
	return &domain.Issuance{AttemptID: attemptID, CreditRecord: *rec, Certificate: *cert}, nil
}

// FindIssuanceByAttempt implements domain.LedgerRepository.
func (r *Repository) FindIssuanceByAttempt(ctx context.Context, attemptID string) (*domain.Issuance, error) {
	if !validID(attemptID) {
		return nil, nil
	}
	var out *domain.Issuance
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = findIssuance(ctx, tx, attemptID)
		return err
	})
	return out, err
}

// GetCertificate implements domain.LedgerRepository.
func (r *Repository) GetCertificate(ctx context.Context, id string) (*domain.Certificate, error) {
	if !validID(id) {
		return nil, nil
	}
	c, err := scanCertificate(r.pool.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE certificate_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// GetCertificateByCode implements domain.LedgerRepository.
func (r *Repository) GetCertificateByCode(ctx context.Context, code string) (*domain.Certificate, error) {
	c, err := scanCertificate(r.pool.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListCertificates implements domain.LedgerRepository.
func (r *Repository) ListCertificates(ctx context.Context, learnerID string) ([]domain.Certificate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE learner_id=$1 ORDER BY issued_at DESC, certificate_id DESC`,
		learnerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Certificate, 0)
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// RevokeCertificate implements domain.LedgerRepository and emits certificate.revoked.
func (r *Repository) RevokeCertificate(ctx context.Context, cert domain.Certificate) error {
	if !validID(cert.ID) {
		return missing("certificate", cert.ID)
	}
	revokedAt := time.Now().UTC()
	if cert.RevokedAt != nil {
		revokedAt = *cert.RevokedAt
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE certificates SET status=$2, revoked_at=$3, revocation_reason=$4 WHERE certificate_id=$1 AND status <> $2`,
			cert.ID, domain.CertificateRevoked, revokedAt, cert.RevocationReason,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM certificates WHERE certificate_id=$1)`, cert.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return missing("certificate", cert.ID)
			}
			return nil
		}
		return insertOutbox(ctx, tx, "certificate", cert.ID, events.TypeCertificateRevoked, cert.LearnerID, cert.ID+":"+events.TypeCertificateRevoked, events.CertificateRevoked{
			CertificateID:   cert.ID,
			CertificateCode: cert.Code,
			LearnerID:       cert.LearnerID,
			Reason:          cert.RevocationReason,
			RevokedAt:       revokedAt,
		})
	})
}

const grantColumns = `grant_id, learner_id, credential_name, country, state, required_hours, baseline_hours, renewal_deadline, is_primary, created_at`

func scanGrant(row rowScanner) (*domain.CredentialGrant, error) {
	var g domain.CredentialGrant
	if err := row.Scan(&g.ID, &g.LearnerID, &g.CredentialName, &g.Country, &g.State, &g.RequiredHours, &g.BaselineHours, &g.RenewalDeadline, &g.Primary, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGrant implements domain.LedgerRepository.
func (r *Repository) CreateGrant(ctx context.Context, g domain.CredentialGrant) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO credential_grants (`+grantColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		g.ID, g.LearnerID, g.CredentialName, g.Country, g.State, g.RequiredHours, g.BaselineHours, g.RenewalDeadline, g.Primary, g.CreatedAt,
	)
	return err
}

// ListGrants implements domain.LedgerRepository.
func (r *Repository) ListGrants(ctx context.Context, learnerID string) ([]domain.CredentialGrant, error) {
	return listGrants(ctx, r.pool, learnerID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listGrants(ctx context.Context, db querier, learnerID string) ([]domain.CredentialGrant, error) {
	rows, err := db.Query(ctx, `SELECT `+grantColumns+` FROM credential_grants WHERE learner_id=$1 ORDER BY created_at, grant_id`, learnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CredentialGrant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// ReplaceAllocations implements domain.LedgerRepository. The record row is locked FOR UPDATE so
// concurrent replacements of the same record apply one after the other.
func (r *Repository) ReplaceAllocations(ctx context.Context, recordID string, validate domain.AllocationValidator, allocations []domain.CreditAllocation) (*domain.AllocationSet, error) {
	if !validID(recordID) {
		return nil, missing("credit record", recordID)
	}
	var set domain.AllocationSet
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		rec, err := scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM credit_records WHERE record_id=$1 FOR UPDATE`, recordID))
		if errors.Is(err, pgx.ErrNoRows) {
			return missing("credit record", recordID)
		}
		if err != nil {
			return err
		}
		if validate != nil {
			grants, err := listGrants(ctx, tx, rec.LearnerID)
			if err != nil {
				return err
			}
			if err := validate(*rec, grants); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM credit_allocations WHERE credit_record_id=$1`, recordID); err != nil {
			return err
		}
		shares := make([]events.AllocationShare, 0, len(allocations))
		for _, a := range allocations {
			if _, err := tx.Exec(ctx,
				`INSERT INTO credit_allocations (allocation_id, credit_record_id, credential_grant_id, hours, created_at) VALUES ($1,$2,$3,$4,$5)`,
				a.ID, recordID, a.CredentialGrantID, a.Hours, a.CreatedAt,
			); err != nil {
				return err
			}
			shares = append(shares, events.AllocationShare{CredentialGrantID: a.CredentialGrantID, Hours: a.Hours})
		}

		set = domain.NewAllocationSet(*rec, append([]domain.CreditAllocation(nil), allocations...))
		replacedAt := time.Now().UTC()
		return insertOutbox(ctx, tx, "credit_record", recordID, events.TypeAllocationsReplaced, rec.LearnerID,
			fmt.Sprintf("%s:%s:%d", recordID, events.TypeAllocationsReplaced, replacedAt.UnixNano()),
			events.AllocationsReplaced{
				CreditRecordID: recordID,
				LearnerID:      rec.LearnerID,
				RecordHours:    rec.Hours,
				AllocatedHours: set.AllocatedHours,
				Allocations:    shares,
				ReplacedAt:     replacedAt,
			})
	})
	if err != nil {
		return nil, err
	}
	return &set, nil
}

// ListAllocations implements domain.LedgerRepository.
func (r *Repository) ListAllocations(ctx context.Context, recordID string) ([]domain.CreditAllocation, error) {
	if !validID(recordID) {
		return []domain.CreditAllocation{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT allocation_id, credit_record_id, credential_grant_id, hours, created_at
           FROM credit_allocations WHERE credit_record_id=$1 ORDER BY created_at, allocation_id`,
		recordID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CreditAllocation, 0)
	for rows.Next() {
		var a domain.CreditAllocation
		if err := rows.Scan(&a.ID, &a.CreditRecordID, &a.CredentialGrantID, &a.Hours, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AllocatedHoursByGrant implements domain.LedgerRepository.
func (r *Repository) AllocatedHoursByGrant(ctx context.Context, learnerID string) (map[string]float64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.credential_grant_id, SUM(a.hours)
           FROM credit_allocations a
           JOIN credit_records r ON r.record_id = a.credit_record_id
          WHERE r.learner_id=$1
          GROUP BY a.credential_grant_id`,
		learnerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			grantID string
			hours   float64
		)
		if err := rows.Scan(&grantID, &hours); err != nil {
			return nil, err
		}
		out[grantID] = hours
	}
	return out, rows.Err()
}
