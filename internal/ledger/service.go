package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bizcore/internal/payterms"
	"github.com/odyssey-erp/bizcore/internal/shared"
)

// DefaultCreditLimit is the overdue amount above which new sales are blocked.
var DefaultCreditLimit = decimal.NewFromInt(5000)

// Recorder receives ledger metrics.
type Recorder interface {
	LedgerEntries(direction string, count int)
	PaymentTermFallback()
}

// Config tunes the service.
type Config struct {
	CreditLimit decimal.Decimal
}

// Service creates and maintains installment batches.
type Service struct {
	repo        RepositoryPort
	creditLimit decimal.Decimal
	logger      *slog.Logger
	metrics     Recorder
	clock       func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, cfg Config, logger *slog.Logger, metrics Recorder) *Service {
	limit := cfg.CreditLimit
	if !limit.IsPositive() {
		limit = DefaultCreditLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		creditLimit: limit,
		logger:      logger,
		metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CreateInstallments writes a batch in its own transaction.
func (s *Service) CreateInstallments(ctx context.Context, in CreateInput) (Batch, error) {
	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = s.CreateInstallmentsTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	s.Committed(batch)
	return batch, nil
}

// CreateInstallmentsTx writes a batch using the caller's transaction. The
// caller commits or rolls back; call Committed after a successful commit.
func (s *Service) CreateInstallmentsTx(ctx context.Context, tx TxRepository, in CreateInput) (Batch, error) {
	if err := validateCreate(in); err != nil {
		return Batch{}, err
	}
	issue := in.IssueDate
	if issue.IsZero() {
		issue = s.clock()
	}
	issue = dateOnly(issue)

	plan := payterms.Parse(in.PaymentTerm, in.Total)
	if plan.Warning != nil {
		s.logger.Warn("payment term fallback",
			slog.String("term", in.PaymentTerm),
			slog.String("total", in.Total.StringFixed(2)),
			slog.String("origin_type", in.Origin.Type),
			slog.Int64("origin_id", in.Origin.ID),
		)
		if s.metrics != nil {
			s.metrics.PaymentTermFallback()
		}
	}

	key := in.IdempotencyKey
	if key == "" {
		key = in.DefaultIdempotencyKey()
	}
	if err := tx.ClaimIdempotencyKey(ctx, key); err != nil {
		if errors.Is(err, shared.ErrDuplicateBatch) {
			return Batch{}, err
		}
		return Batch{}, fmt.Errorf("ledger: claim idempotency key: %w", err)
	}

	batch := Batch{ID: uuid.New(), Total: in.Total, Fallback: plan.Fallback()}
	count := len(plan.Installments)
	for i, inst := range plan.Installments {
		entry := Entry{
			BatchID:          batch.ID,
			Direction:        in.Direction,
			CounterpartyID:   in.Counterparty.ID,
			CounterpartyName: in.Counterparty.Name,
			Description:      fmt.Sprintf("%s #%s - installment %d/%d", in.Origin.Type, in.Origin.label(), i+1, count),
			Amount:           inst.Amount,
			IssueDate:        issue,
			DueDate:          issue.AddDate(0, 0, inst.OffsetDays),
			Status:           EntryStatusPending,
			OriginType:       in.Origin.Type,
			OriginID:         in.Origin.ID,
			InstallmentIndex: i + 1,
			InstallmentCount: count,
			CreatedBy:        in.Actor.ID,
		}
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return Batch{}, fmt.Errorf("ledger: insert installment %d/%d: %w", i+1, count, err)
		}
		entry.ID = id
		batch.EntryIDs = append(batch.EntryIDs, id)
		batch.Entries = append(batch.Entries, entry)
	}

	audit := shared.AuditEntry{
		Table:    "ledger_entries",
		RecordID: strconv.FormatInt(in.Origin.ID, 10),
		Action:   shared.AuditActionCreate,
		ActorID:  in.Actor.ID,
		After: map[string]any{
			"batch_id":      batch.ID.String(),
			"direction":     string(in.Direction),
			"origin_type":   in.Origin.Type,
			"origin_id":     in.Origin.ID,
			"entries":       count,
			"entry_ids":     batch.EntryIDs,
			"total":         in.Total.StringFixed(2),
			"payment_term":  in.PaymentTerm,
			"term_fallback": plan.Fallback(),
		},
	}
	if err := tx.AppendAudit(ctx, audit); err != nil {
		return Batch{}, fmt.Errorf("ledger: audit batch: %w", err)
	}
	return batch, nil
}

// Committed records metrics for a batch whose transaction has committed.
func (s *Service) Committed(batch Batch) {
	if s.metrics == nil || len(batch.Entries) == 0 {
		return
	}
	s.metrics.LedgerEntries(string(batch.Entries[0].Direction), len(batch.Entries))
}

// LinkFiscalDocument stamps an issued NF-e onto the entries of an origin
// document and returns how many entries were updated.
func (s *Service) LinkFiscalDocument(ctx context.Context, in LinkInput) (int64, error) {
	if !in.Direction.Valid() {
		return 0, fmt.Errorf("%w: unknown direction %q", shared.ErrValidation, in.Direction)
	}
	if err := shared.ValidateStruct(in); err != nil {
		return 0, err
	}
	if err := in.Actor.Validate(); err != nil {
		return 0, err
	}
	var updated int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.LinkFiscalDocument(ctx, in)
		if err != nil {
			return fmt.Errorf("ledger: link fiscal document: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("ledger: no entries for %s #%d: %w", in.OriginType, in.OriginID, shared.ErrNotFound)
		}
		updated = n
		return tx.AppendAudit(ctx, shared.AuditEntry{
			Table:    "ledger_entries",
			RecordID: strconv.FormatInt(in.OriginID, 10),
			Action:   shared.AuditActionLink,
			ActorID:  in.Actor.ID,
			After: map[string]any{
				"direction":     string(in.Direction),
				"origin_type":   in.OriginType,
				"fiscal_number": in.Number,
				"fiscal_key":    in.Key,
				"entries":       n,
			},
		})
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("fiscal document linked",
		slog.String("number", in.Number),
		slog.String("origin_type", in.OriginType),
		slog.Int64("origin_id", in.OriginID),
		slog.Int64("entries", updated),
	)
	return updated, nil
}

// Exposure reports a customer's open receivables as of asOf.
func (s *Service) Exposure(ctx context.Context, counterpartyID int64, asOf time.Time) (Exposure, error) {
	if counterpartyID <= 0 {
		return Exposure{}, fmt.Errorf("%w: counterparty required", shared.ErrValidation)
	}
	if asOf.IsZero() {
		asOf = s.clock()
	}
	row, err := s.repo.ReceivableExposure(ctx, counterpartyID, dateOnly(asOf))
	if err != nil {
		return Exposure{}, err
	}
	return Exposure{
		CounterpartyID: counterpartyID,
		PendingCount:   row.PendingCount,
		PendingTotal:   row.PendingTotal,
		OverdueCount:   row.OverdueCount,
		OverdueTotal:   row.OverdueTotal,
		OldestDue:      row.OldestDue,
		CanSell:        row.OverdueTotal.LessThan(s.creditLimit),
	}, nil
}

// PostPayroll books a payroll run as one payable entry with per-employee
// detail lines. Each period can be posted once.
func (s *Service) PostPayroll(ctx context.Context, in PayrollInput) (Batch, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Batch{}, err
	}
	if err := in.Actor.Validate(); err != nil {
		return Batch{}, err
	}
	period, _ := time.Parse("2006-01", in.Period)
	total := decimal.Zero
	for _, line := range in.Lines {
		if !line.Net.IsPositive() {
			return Batch{}, fmt.Errorf("%w: net pay for employee %d must be positive", shared.ErrValidation, line.EmployeeID)
		}
		total = total.Add(line.Net)
	}

	issue := dateOnly(s.clock())
	batch := Batch{ID: uuid.New(), Total: total}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ClaimIdempotencyKey(ctx, "ledger:payroll:"+in.Period); err != nil {
			return err
		}
		entry := Entry{
			BatchID:          batch.ID,
			Direction:        DirectionPayable,
			CounterpartyName: "PAYROLL",
			Description:      fmt.Sprintf("Payroll %s - %d employees", in.Period, len(in.Lines)),
			Amount:           total,
			IssueDate:        issue,
			DueDate:          dateOnly(in.PayDate),
			Status:           EntryStatusPending,
			OriginType:       "payroll",
			OriginID:         int64(period.Year()*100 + int(period.Month())),
			InstallmentIndex: 1,
			InstallmentCount: 1,
			CreatedBy:        in.Actor.ID,
		}
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return fmt.Errorf("ledger: insert payroll entry: %w", err)
		}
		for _, line := range in.Lines {
			if err := tx.InsertPayrollLine(ctx, id, in.Period, line); err != nil {
				return fmt.Errorf("ledger: insert payroll line %d: %w", line.EmployeeID, err)
			}
		}
		entry.ID = id
		batch.EntryIDs = []int64{id}
		batch.Entries = []Entry{entry}
		return tx.AppendAudit(ctx, shared.AuditEntry{
			Table:    "ledger_entries",
			RecordID: strconv.FormatInt(id, 10),
			Action:   shared.AuditActionCreate,
			ActorID:  in.Actor.ID,
			After: map[string]any{
				"origin_type": "payroll",
				"period":      in.Period,
				"employees":   len(in.Lines),
				"total":       total.StringFixed(2),
			},
		})
	})
	if err != nil {
		return Batch{}, err
	}
	s.Committed(batch)
	return batch, nil
}

func validateCreate(in CreateInput) error {
	if err := shared.ValidateStruct(in.Origin); err != nil {
		return err
	}
	if err := shared.ValidateStruct(in.Counterparty); err != nil {
		return err
	}
	if !in.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", shared.ErrValidation, in.Direction)
	}
	if !in.Total.IsPositive() {
		return fmt.Errorf("%w: total must be positive", shared.ErrValidation)
	}
	if in.Total.Exponent() < -2 && !in.Total.Equal(in.Total.Round(2)) {
		return fmt.Errorf("%w: total has more than two decimal places", shared.ErrValidation)
	}
	return in.Actor.Validate()
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
