package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/ledger"
	"github.com/odyssey-erp/bizcore/internal/rbac"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// LedgerPort creates installment batches on a caller's transaction.
type LedgerPort interface {
	CreateInstallmentsTx(ctx context.Context, tx ledger.TxRepository, in ledger.CreateInput) (ledger.Batch, error)
	Committed(batch ledger.Batch)
}

// Recorder receives approval metrics.
type Recorder interface {
	ApprovalDecision(action, outcome string)
	ResourceBusy(operation string)
}

// Service orchestrates the approval workflow.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	policy  Policy
	logger  *slog.Logger
	metrics Recorder
	clock   func() time.Time
}

// NewService constructs the approval service.
func NewService(repo RepositoryPort, ledgerSvc LedgerPort, policy Policy, logger *slog.Logger, metrics Recorder) *Service {
	if len(policy.tiers) == 0 {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		ledger:  ledgerSvc,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Requirement exposes the level an amount needs.
func (s *Service) Requirement(amount decimal.Decimal) Requirement {
	return s.policy.Requirement(amount)
}

// Eligibility reports whether actor may decide amount; the error describes
// the missing privilege.
func (s *Service) Eligibility(actor rbac.Actor, amount decimal.Decimal) error {
	if !actor.Role.Valid() {
		return fmt.Errorf("%w: %d", rbac.ErrUnknownRole, uint8(actor.Role))
	}
	if s.policy.Allows(actor.Role, amount) {
		return nil
	}
	req := s.policy.Requirement(amount)
	return &shared.InsufficientPrivilegeError{
		Role:          actor.Role.String(),
		RequiredLevel: req.Level,
		RequiredRank:  req.RequiredRank,
	}
}

// Submit opens a pending request.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Request{}, err
	}
	if err := in.Actor.Validate(); err != nil {
		return Request{}, err
	}
	if !in.Amount.IsPositive() {
		return Request{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return Request{}, fmt.Errorf("%w: amount has more than two decimal places", shared.ErrValidation)
	}
	if !in.Direction.Valid() {
		return Request{}, fmt.Errorf("%w: unknown direction %q", shared.ErrValidation, in.Direction)
	}
	req := Request{
		SubjectType:      in.SubjectType,
		SubjectID:        in.SubjectID,
		SubjectNumber:    in.SubjectNumber,
		Amount:           in.Amount,
		Status:           StatusPending,
		Direction:        in.Direction,
		CounterpartyID:   in.Counterparty.ID,
		CounterpartyName: in.Counterparty.Name,
		PaymentTerm:      in.PaymentTerm,
		RequestedBy:      in.Actor.ID,
		CreatedAt:        s.clock(),
	}
	level := s.policy.Requirement(in.Amount).Level
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, req)
		if err != nil {
			return fmt.Errorf("approval: insert request: %w", err)
		}
		req.ID = id
		return tx.AppendAudit(ctx, shared.AuditEntry{
			Table:    "approval_requests",
			RecordID: strconv.FormatInt(id, 10),
			Action:   shared.AuditActionSubmit,
			ActorID:  in.Actor.ID,
			After: map[string]any{
				"status":       string(StatusPending),
				"subject_type": in.SubjectType,
				"subject_id":   in.SubjectID,
				"amount":       in.Amount.StringFixed(2),
				"level":        level,
			},
		})
	})
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

// Decide approves or rejects a pending request. The request row stays locked
// from read to commit so concurrent decisions serialise; the loser sees the
// committed status and gets shared.ErrInvalidState. Approval writes the ledger
// batch in the same transaction.
func (s *Service) Decide(ctx context.Context, in DecideInput) (Decision, error) {
	if err := in.Actor.Validate(); err != nil {
		return Decision{}, s.observe(in.Action, err)
	}
	if in.Action != ActionApprove && in.Action != ActionReject {
		return Decision{}, s.observe(in.Action, fmt.Errorf("%w: unknown action %q", shared.ErrValidation, in.Action))
	}
	if in.RequestID <= 0 {
		return Decision{}, s.observe(in.Action, fmt.Errorf("%w: request id required", shared.ErrValidation))
	}

	// Once started the decision runs to commit or rollback.
	txCtx := context.WithoutCancel(ctx)
	var decision Decision
	err := s.repo.WithTx(txCtx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequest(ctx, in.RequestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("approval: request %d is %s: %w", req.ID, req.Status, shared.ErrInvalidState)
		}
		requirement := s.policy.Requirement(req.Amount)
		if err := s.Eligibility(in.Actor, req.Amount); err != nil {
			return err
		}
		note := strings.TrimSpace(in.Note)
		if in.Action == ActionReject && note == "" {
			return shared.ErrNoteRequired
		}

		before := req.Status
		now := s.clock()
		approver := in.Actor.ID
		req.Status = in.Action.result()
		req.ApproverID = &approver
		req.DecidedAt = &now
		req.Note = note
		if err := tx.UpdateDecision(ctx, req); err != nil {
			return fmt.Errorf("approval: update request: %w", err)
		}

		record := Record{
			RequestID: req.ID,
			Level:     requirement.Level,
			ActorID:   in.Actor.ID,
			ActorName: in.Actor.Name,
			Action:    in.Action,
			Note:      note,
			CreatedAt: now,
		}
		if err := tx.InsertRecord(ctx, record); err != nil {
			return fmt.Errorf("approval: insert record: %w", err)
		}

		after := map[string]any{
			"status":      string(req.Status),
			"approver_id": in.Actor.ID,
			"action":      string(in.Action),
			"amount":      req.Amount.StringFixed(2),
			"level":       requirement.Level,
		}
		decision = Decision{Request: req, Record: record, Requirement: requirement}
		if in.Action == ActionApprove {
			batch, err := s.ledger.CreateInstallmentsTx(ctx, tx.Ledger(), ledger.CreateInput{
				Origin:       ledger.Origin{Type: req.SubjectType, ID: req.SubjectID, Number: req.SubjectNumber},
				Counterparty: ledger.Counterparty{ID: req.CounterpartyID, Name: req.CounterpartyName},
				Total:        req.Amount,
				PaymentTerm:  req.PaymentTerm,
				Direction:    req.Direction,
				Actor:        in.Actor,
				IssueDate:    now,
			})
			if err != nil {
				return fmt.Errorf("approval: ledger batch: %w", err)
			}
			decision.Batch = &batch
			after["batch_id"] = batch.ID.String()
		}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			Table:    "approval_requests",
			RecordID: strconv.FormatInt(req.ID, 10),
			Action:   shared.AuditActionApproval,
			Before:   map[string]any{"status": string(before)},
			After:    after,
			ActorID:  in.Actor.ID,
			At:       now,
		})
	})
	if err != nil {
		return Decision{}, s.observe(in.Action, err)
	}
	if decision.Batch != nil {
		s.ledger.Committed(*decision.Batch)
	}
	s.observe(in.Action, nil)
	s.logger.Info("approval decided",
		slog.Int64("request_id", decision.Request.ID),
		slog.String("status", string(decision.Request.Status)),
		slog.Int64("actor_id", in.Actor.ID),
		slog.Int("level", decision.Requirement.Level),
	)
	return decision, nil
}

// ListPending returns requests actor is allowed to decide.
func (s *Service) ListPending(ctx context.Context, actor rbac.Actor) ([]Request, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	var maxAmount *decimal.Decimal
	if limit, bounded := s.policy.Cap(actor.Role); bounded {
		maxAmount = &limit
	}
	reqs, err := s.repo.ListPending(ctx, maxAmount)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}
	return reqs, nil
}

// Get loads a request.
func (s *Service) Get(ctx context.Context, id int64) (Request, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) observe(action Action, err error) error {
	if s.metrics == nil {
		return err
	}
	outcome := "error"
	switch {
	case err == nil && action == ActionApprove:
		outcome = "approved"
	case err == nil:
		outcome = "rejected"
	case errors.Is(err, shared.ErrInvalidState):
		outcome = "invalid_state"
	case errors.Is(err, shared.ErrInsufficientPrivilege):
		outcome = "forbidden"
	case errors.Is(err, shared.ErrValidation), errors.Is(err, rbac.ErrUnknownRole):
		outcome = "invalid"
	case errors.Is(err, shared.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, shared.ErrDuplicateBatch):
		outcome = "duplicate"
	case errors.Is(err, shared.ErrBusy):
		outcome = "busy"
		s.metrics.ResourceBusy("approval.decide")
	}
	label := string(action)
	if action != ActionApprove && action != ActionReject {
		label = "unknown"
	}
	s.metrics.ApprovalDecision(label, outcome)
	return err
}
