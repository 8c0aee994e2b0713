package postgres

import (
	"context"

	"example.com/cpd/internal/domain"
)

// CreateRule implements domain.RuleRepository.
func (r *Repository) CreateRule(ctx context.Context, rule domain.CompletionRule) error {
	config, err := domain.EncodeRuleConfig(rule.Config)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO completion_rules (rule_id, instance_id, rule_type, config, created_at) VALUES ($1,$2,$3,$4,$5)`,
		rule.ID, rule.InstanceID, rule.Type(), config, rule.CreatedAt,
	)
	return err
}

// ListRules implements domain.RuleRepository.
func (r *Repository) ListRules(ctx context.Context, instanceID string) ([]domain.CompletionRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT rule_id, instance_id, rule_type, config, created_at FROM completion_rules WHERE instance_id=$1 ORDER BY created_at, rule_id`,
		instanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CompletionRule, 0)
	for rows.Next() {
		var (
			rule     domain.CompletionRule
			ruleType domain.RuleType
			raw      []byte
		)
		if err := rows.Scan(&rule.ID, &rule.InstanceID, &ruleType, &raw, &rule.CreatedAt); err != nil {
			return nil, err
		}
		cfg, err := domain.DecodeRuleConfig(ruleType, raw)
		if err != nil {
			return nil, err
		}
		rule.Config = cfg
		out = append(out, rule)
	}
	return out, rows.Err()
}

// AddEvidence implements domain.RuleRepository.
func (r *Repository) AddEvidence(ctx context.Context, file domain.EvidenceFile) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO evidence_files (evidence_id, instance_id, learner_id, file_name, uploaded_at) VALUES ($1,$2,$3,$4,$5)`,
		file.ID, file.InstanceID, file.LearnerID, file.FileName, file.UploadedAt,
	)
	return err
}

// CountEvidence implements domain.RuleRepository.
func (r *Repository) CountEvidence(ctx context.Context, instanceID, learnerID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM evidence_files WHERE instance_id=$1 AND learner_id=$2`,
		instanceID, learnerID,
	).Scan(&n)
	return n, err
}
