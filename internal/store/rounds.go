package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Round is the audit record of one proposal voting round.
type Round struct {
	ID           string          `json:"id"`
	ActionType   string          `json:"action_type"`
	Params       json.RawMessage `json:"params,omitempty"`
	Proposer     string          `json:"proposer"`
	Status       string          `json:"status"`
	Consensus    *bool           `json:"consensus,omitempty"`
	ApprovalRate *float64        `json:"approval_rate,omitempty"`
	TotalVotes   *int            `json:"total_votes,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// VoteRecord is one stored vote within a round.
type VoteRecord struct {
	ID         int64     `json:"id"`
	ProposalID string    `json:"proposal_id"`
	AgentID    string    `json:"agent_id"`
	Decision   bool      `json:"decision"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) SaveRound(r *Round) error {
	_, err := s.db.Exec(`
		INSERT INTO proposal_rounds (id, action_type, params, proposer, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		r.ID, r.ActionType, nullableJSON(r.Params), r.Proposer, r.Status)
	if err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	return nil
}

// CompleteRound records a round's outcome and stamps completed_at.
func (s *Store) CompleteRound(id string, consensus bool, approvalRate float64, totalVotes int, reason string) error {
	_, err := s.db.Exec(`
		UPDATE proposal_rounds
		SET status = 'completed', consensus = ?, approval_rate = ?, total_votes = ?, reason = ?,
		    completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, consensus, approvalRate, totalVotes, reason, id)
	if err != nil {
		return fmt.Errorf("complete round: %w", err)
	}
	return nil
}

const roundColumns = `id, action_type, params, proposer, status, consensus, approval_rate, total_votes, reason, started_at, completed_at`

func scanRound(scanner interface {
	Scan(dest ...any) error
}) (*Round, error) {
	r := &Round{}
	var params, reason sql.NullString
	var consensus sql.NullBool
	var approvalRate sql.NullFloat64
	var totalVotes sql.NullInt64
	err := scanner.Scan(&r.ID, &r.ActionType, &params, &r.Proposer, &r.Status,
		&consensus, &approvalRate, &totalVotes, &reason, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		r.Params = json.RawMessage(params.String)
	}
	if consensus.Valid {
		v := consensus.Bool
		r.Consensus = &v
	}
	if approvalRate.Valid {
		v := approvalRate.Float64
		r.ApprovalRate = &v
	}
	if totalVotes.Valid {
		v := int(totalVotes.Int64)
		r.TotalVotes = &v
	}
	r.Reason = reason.String
	return r, nil
}

func (s *Store) GetRound(id string) (*Round, error) {
	row := s.db.QueryRow(`SELECT `+roundColumns+` FROM proposal_rounds WHERE id = ?`, id)
	r, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get round: %w", err)
	}
	return r, nil
}

func (s *Store) ListRounds(limit int) ([]Round, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+roundColumns+` FROM proposal_rounds ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

func (s *Store) SaveVote(v *VoteRecord) error {
	result, err := s.db.Exec(`
		INSERT INTO votes (proposal_id, agent_id, decision, confidence, reasoning)
		VALUES (?, ?, ?, ?, ?)`,
		v.ProposalID, v.AgentID, v.Decision, v.Confidence, v.Reasoning)
	if err != nil {
		return fmt.Errorf("save vote: %w", err)
	}
	v.ID, _ = result.LastInsertId()
	return nil
}

// GetVotes returns a round's votes in collection order.
func (s *Store) GetVotes(proposalID string) ([]VoteRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, proposal_id, agent_id, decision, confidence, reasoning, created_at
		FROM votes
		WHERE proposal_id = ?
		ORDER BY id`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("get votes: %w", err)
	}
	defer rows.Close()

	var votes []VoteRecord
	for rows.Next() {
		var v VoteRecord
		var reasoning sql.NullString
		if err := rows.Scan(&v.ID, &v.ProposalID, &v.AgentID, &v.Decision, &v.Confidence, &reasoning, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Reasoning = reasoning.String
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// VotesByAgent returns every stored vote cast by one agent, newest first.
func (s *Store) VotesByAgent(agentID string, limit int) ([]VoteRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`
		SELECT id, proposal_id, agent_id, decision, confidence, reasoning, created_at
		FROM votes
		WHERE agent_id = ?
		ORDER BY id DESC
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("votes by agent: %w", err)
	}
	defer rows.Close()

	var votes []VoteRecord
	for rows.Next() {
		var v VoteRecord
		var reasoning sql.NullString
		if err := rows.Scan(&v.ID, &v.ProposalID, &v.AgentID, &v.Decision, &v.Confidence, &reasoning, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Reasoning = reasoning.String
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
