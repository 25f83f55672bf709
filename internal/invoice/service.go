package invoice

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/invoice-approval/internal"
	"github.com/frahmantamala/invoice-approval/internal/core/events"
	"github.com/frahmantamala/invoice-approval/internal/intent"
)

// Repository persists approval records and the thread index.
type Repository interface {
	SaveState(ctx context.Context, record *Record) error
	LoadState(ctx context.Context, invoiceNumber string) (*Record, error)
	ListPending(ctx context.Context) ([]*Record, error)
	MapThread(ctx context.Context, threadRef, invoiceNumber string) error
	InvoiceForThread(ctx context.Context, threadRef string) (string, error)
}

// Gateway is the chat surface the agent posts to and reads approvals from.
type Gateway interface {
	PostNotice(ctx context.Context, threadName, content string) (threadRef, noticeRef string, err error)
	Send(ctx context.Context, threadRef, content string) (messageRef string, err error)
	Edit(ctx context.Context, threadRef, messageRef, content string) error
	IsApprover(ctx context.Context, authorID string) (bool, error)
}

// PaymentVerifier checks a ledger transaction hash. Implementations fail
// closed: any upstream problem reports the transaction as unconfirmed.
type PaymentVerifier interface {
	Verify(ctx context.Context, txHash string) (confirmed bool, amount decimal.Decimal)
}

// Mirror reflects record state into an external spreadsheet.
type Mirror interface {
	AppendRecord(ctx context.Context, record *Record) (row int, err error)
	UpdateRecord(ctx context.Context, record *Record) error
}

// MessageEvent is an inbound thread message delivered by the chat consumer.
type MessageEvent struct {
	ThreadRef  string `json:"thread_ref"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
}

// Settings are the approval-policy knobs the service applies.
type Settings struct {
	SLAHours              int
	ReminderIntervalHours int
	MaxReminders          int
	AutoApproveOnFailure  bool
	ApproverRoleID        string
}

type Service struct {
	logger   *slog.Logger
	repo     Repository
	gateway  Gateway
	resolver intent.Resolver
	verifier PaymentVerifier
	mirror   Mirror
	eventBus *events.EventBus
	settings Settings

	locks keyedMutex
	now   func() time.Time
}

func NewService(
	logger *slog.Logger,
	repo Repository,
	gateway Gateway,
	resolver intent.Resolver,
	verifier PaymentVerifier,
	mirror Mirror,
	eventBus *events.EventBus,
	settings Settings,
) *Service {
	return &Service{
		logger:   logger,
		repo:     repo,
		gateway:  gateway,
		resolver: resolver,
		verifier: verifier,
		mirror:   mirror,
		eventBus: eventBus,
		settings: settings,
		now:      time.Now,
	}
}

// WithClock overrides the time source, used by the scheduler tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// keyedMutex serializes read-modify-write cycles per invoice number so that
// concurrent messages in the same thread cannot race a decision.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	lock, ok := k.m[key]
	if !ok {
		lock = &sync.Mutex{}
		k.m[key] = lock
	}
	return lock
}

// Submit registers an invoice for approval: creates the durable record, opens
// the approval thread, posts the SLA notice and mirrors the row. Submitting an
// invoice number that already has a live thread is a no-op returning the
// existing record.
func (s *Service) Submit(ctx context.Context, dto SubmitInvoiceDTO) (*Record, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Error("invoice submission rejected", "invoice_number", dto.InvoiceNumber, "error", err)
		return nil, err
	}

	lock := s.locks.get(dto.InvoiceNumber)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.LoadState(ctx, dto.InvoiceNumber)
	if err == nil && existing.ThreadRef != "" {
		s.logger.Info("invoice already registered, skipping repost",
			"invoice_number", dto.InvoiceNumber,
			"thread_ref", existing.ThreadRef)
		return existing, nil
	}
	if err != nil && !errors.Is(err, apperrors.ErrInvoiceNotFound) {
		return nil, apperrors.NewInternalError("failed to check existing invoice", err)
	}

	record := NewRecord(dto.ToInvoiceData(), s.settings.SLAHours)

	threadRef, noticeRef, err := s.gateway.PostNotice(ctx,
		RenderThreadName(record.Data),
		RenderApprovalRequest(record.Data, s.settings.ApproverRoleID))
	if err != nil {
		if !s.settings.AutoApproveOnFailure {
			s.logger.Error("failed to post approval request", "invoice_number", dto.InvoiceNumber, "error", err)
			return nil, apperrors.NewExternalError("chat service unavailable", apperrors.ErrCodeChatUnavailable).WithCause(err)
		}
		// Fallback path for deployments that prefer throughput over review
		// when the chat service is down.
		s.logger.Warn("chat unavailable, auto-approving invoice",
			"invoice_number", dto.InvoiceNumber, "error", err)
		record.Approve("system", "AUTO-APPROVED")
		record.CompletePayment("auto-approved", decimal.Zero)
	} else {
		record.ThreadRef = threadRef
		record.NoticeRef = noticeRef

		if slaRef, sendErr := s.gateway.Send(ctx, threadRef, RenderSLACountdown(record, s.now())); sendErr != nil {
			s.logger.Warn("failed to post sla notice", "invoice_number", dto.InvoiceNumber, "error", sendErr)
		} else {
			record.SLANoticeRef = slaRef
		}
	}

	if err := s.repo.SaveState(ctx, record); err != nil {
		return nil, apperrors.NewInternalError("failed to persist invoice record", err)
	}
	if record.ThreadRef != "" {
		if err := s.repo.MapThread(ctx, record.ThreadRef, record.Data.InvoiceNumber); err != nil {
			s.logger.Error("failed to index thread", "invoice_number", dto.InvoiceNumber, "error", err)
		}
	}

	if row, err := s.mirror.AppendRecord(ctx, record); err != nil {
		s.logger.Warn("mirror append failed", "invoice_number", dto.InvoiceNumber, "error", err)
	} else {
		record.SpreadsheetRow = row
		if err := s.repo.SaveState(ctx, record); err != nil {
			s.logger.Error("failed to persist mirror row pointer", "invoice_number", dto.InvoiceNumber, "error", err)
		}
	}

	s.logger.Info("invoice registered for approval",
		"invoice_number", record.Data.InvoiceNumber,
		"vendor", record.Data.VendorName,
		"thread_ref", record.ThreadRef)
	return record, nil
}

// GetInvoice returns the read model for a single invoice.
func (s *Service) GetInvoice(ctx context.Context, invoiceNumber string) (*RecordView, error) {
	record, err := s.repo.LoadState(ctx, invoiceNumber)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvoiceNotFound) {
			return nil, apperrors.NewNotFoundError("invoice not found", apperrors.ErrCodeInvoiceNotFound)
		}
		return nil, apperrors.NewInternalError("failed to load invoice", err)
	}
	return ToView(record, s.now()), nil
}

// PendingInvoices lists every record still awaiting an approval decision.
func (s *Service) PendingInvoices(ctx context.Context) ([]*Record, error) {
	return s.repo.ListPending(ctx)
}

// HandleMessage processes one inbound thread message. Messages from
// non-approvers and messages in threads that map to no invoice are dropped
// silently; everything else runs through the intent resolver and the
// transition rules.
func (s *Service) HandleMessage(ctx context.Context, ev MessageEvent) error {
	allowed, err := s.gateway.IsApprover(ctx, ev.AuthorID)
	if err != nil {
		s.logger.Warn("approver check failed, dropping message", "author_id", ev.AuthorID, "error", err)
		return nil
	}
	if !allowed {
		s.logger.Debug("ignoring message from non-approver", "author_id", ev.AuthorID)
		return nil
	}

	invoiceNumber, err := s.repo.InvoiceForThread(ctx, ev.ThreadRef)
	if err != nil {
		s.logger.Debug("message in unindexed thread ignored", "thread_ref", ev.ThreadRef)
		return nil
	}

	lock := s.locks.get(invoiceNumber)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.repo.LoadState(ctx, invoiceNumber)
	if err != nil {
		return apperrors.NewInternalError("failed to load invoice for thread", err)
	}

	action := s.resolver.Resolve(ctx, ev.Content)
	s.logger.Info("message classified",
		"invoice_number", invoiceNumber,
		"intent", action.Intent,
		"author", ev.AuthorName,
		"actor_id", apperrors.ActorFromContext(ctx))

	if action.Intent == intent.IntentStatus {
		s.reply(ctx, record, RenderStatusSummary(record, s.now()))
		return nil
	}

	switch action.Intent {
	case intent.IntentApprove:
		return s.handleApprove(ctx, record, action, ev)
	case intent.IntentReject:
		return s.handleReject(ctx, record, action, ev)
	}

	// Payment confirmations are accepted regardless of the approval decision;
	// only the payment axis gates them.
	if s.looksLikePayment(action, ev.Content) {
		return s.handlePaymentReference(ctx, lock, record, action, ev)
	}

	s.logger.Debug("no actionable intent", "invoice_number", invoiceNumber, "intent", action.Intent)
	return nil
}

func (s *Service) handleApprove(ctx context.Context, record *Record, action intent.Action, ev MessageEvent) error {
	if record.IsDecided() {
		s.reply(ctx, record, RenderAlreadyDecided(record))
		return nil
	}
	if action.CostCenter == "" {
		s.reply(ctx, record, RenderCostCenterPrompt())
		return nil
	}

	record.Approve(ev.AuthorName, action.CostCenter)
	if err := s.repo.SaveState(ctx, record); err != nil {
		return apperrors.NewInternalError("failed to persist approval", err)
	}

	s.reply(ctx, record, RenderApproved(record))
	s.eventBus.Publish(ctx, events.NewInvoiceApprovedEvent(record.Data.InvoiceNumber, record.Approver, record.CostCenter))

	s.logger.Info("invoice approved",
		"invoice_number", record.Data.InvoiceNumber,
		"approver", record.Approver,
		"cost_center", record.CostCenter)
	return nil
}

func (s *Service) handleReject(ctx context.Context, record *Record, action intent.Action, ev MessageEvent) error {
	if record.IsDecided() {
		s.reply(ctx, record, RenderAlreadyDecided(record))
		return nil
	}

	record.Reject(ev.AuthorName, action.Reason)
	if err := s.repo.SaveState(ctx, record); err != nil {
		return apperrors.NewInternalError("failed to persist rejection", err)
	}

	s.reply(ctx, record, RenderRejected(record))
	s.eventBus.Publish(ctx, events.NewInvoiceRejectedEvent(record.Data.InvoiceNumber, record.Approver, record.RejectionReason))

	s.logger.Info("invoice rejected",
		"invoice_number", record.Data.InvoiceNumber,
		"approver", record.Approver,
		"reason", record.RejectionReason)
	return nil
}

// handlePaymentReference runs the extraction cascade while the payment axis is
// still open. Ledger hashes are verified on chain; any other reference shape
// is trusted as an off-chain confirmation.
func (s *Service) handlePaymentReference(ctx context.Context, lock *sync.Mutex, record *Record, action intent.Action, ev MessageEvent) error {
	if record.PaymentStatus == PaymentCompleted {
		s.reply(ctx, record, RenderAlreadyCompleted(record))
		return nil
	}
	if record.PaymentStatus != PaymentPending {
		s.logger.Debug("payment already settled, ignoring reference",
			"invoice_number", record.Data.InvoiceNumber,
			"payment_status", record.PaymentStatus)
		return nil
	}

	ref := action.TransactionRef
	if ref == "" {
		ref = ExtractReference(ev.Content)
	}
	if ref == "" {
		if action.Intent == intent.IntentPayment {
			s.reply(ctx, record, RenderReferenceFormatHelp())
		}
		return nil
	}

	verified := isLedgerHash(ref)
	if verified {
		ref = strings.ToLower(ref)
		// Chain verification is slow; release the invoice lock while it runs
		// and re-check the record afterwards.
		lock.Unlock()
		confirmed, amount := s.verifier.Verify(ctx, ref)
		lock.Lock()

		fresh, err := s.repo.LoadState(ctx, record.Data.InvoiceNumber)
		if err != nil {
			return apperrors.NewInternalError("failed to reload invoice after verification", err)
		}
		*record = *fresh
		if record.PaymentStatus != PaymentPending {
			if record.PaymentStatus == PaymentCompleted {
				s.reply(ctx, record, RenderAlreadyCompleted(record))
			}
			return nil
		}

		if confirmed {
			record.CompletePayment(ref, amount)
		} else {
			record.FailPayment(ref, amount)
		}
	} else {
		record.CompletePayment(ref, decimal.Zero)
	}

	if err := s.repo.SaveState(ctx, record); err != nil {
		return apperrors.NewInternalError("failed to persist payment state", err)
	}

	if verified {
		s.reply(ctx, record, RenderPaymentOutcome(record, s.now()))
	} else {
		s.reply(ctx, record, RenderPaymentConfirmed(record, s.now()))
	}

	if record.PaymentStatus == PaymentCompleted {
		s.eventBus.Publish(ctx, events.NewPaymentCompletedEvent(record.Data.InvoiceNumber, record.TransactionRef, record.PaidAmount.String()))
	} else {
		s.eventBus.Publish(ctx, events.NewPaymentFailedEvent(record.Data.InvoiceNumber, record.TransactionRef))
	}

	s.logger.Info("payment reference processed",
		"invoice_number", record.Data.InvoiceNumber,
		"transaction_ref", record.TransactionRef,
		"payment_status", record.PaymentStatus)
	return nil
}

// SweepInvoice refreshes the SLA countdown notice for one pending invoice and
// fires a reminder when the interval has elapsed. Called by the scheduler on
// every sweep tick.
func (s *Service) SweepInvoice(ctx context.Context, invoiceNumber string) error {
	lock := s.locks.get(invoiceNumber)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.repo.LoadState(ctx, invoiceNumber)
	if err != nil {
		return err
	}
	if record.IsDecided() || record.ThreadRef == "" {
		return nil
	}

	now := s.now()
	dirty := s.refreshSLANotice(ctx, record, now)

	if s.reminderDue(record, now) {
		if _, err := s.gateway.Send(ctx, record.ThreadRef, RenderReminder(record, now, s.settings.ApproverRoleID)); err != nil {
			s.logger.Warn("failed to post reminder", "invoice_number", invoiceNumber, "error", err)
		} else {
			record.ReminderCount++
			reminderAt := now
			record.LastReminderAt = &reminderAt
			dirty = true
			s.eventBus.Publish(ctx, events.NewReminderFiredEvent(invoiceNumber, record.ReminderCount))
		}
	}

	if dirty {
		if err := s.repo.SaveState(ctx, record); err != nil {
			return apperrors.NewInternalError("failed to persist sweep state", err)
		}
	}
	return nil
}

// refreshSLANotice edits the countdown message in place, reposting a fresh one
// when the original was deleted or the edit fails. Returns true when the
// record changed and needs persisting.
func (s *Service) refreshSLANotice(ctx context.Context, record *Record, now time.Time) bool {
	countdown := RenderSLACountdown(record, now)
	if record.SLANoticeRef != "" {
		if err := s.gateway.Edit(ctx, record.ThreadRef, record.SLANoticeRef, countdown); err == nil {
			return false
		}
		s.logger.Warn("sla notice edit failed, reposting", "invoice_number", record.Data.InvoiceNumber)
	}
	ref, err := s.gateway.Send(ctx, record.ThreadRef, countdown)
	if err != nil {
		s.logger.Warn("failed to post sla notice", "invoice_number", record.Data.InvoiceNumber, "error", err)
		return false
	}
	record.SLANoticeRef = ref
	return true
}

func (s *Service) reminderDue(record *Record, now time.Time) bool {
	if s.settings.MaxReminders > 0 && record.ReminderCount >= s.settings.MaxReminders {
		return false
	}
	since := record.Data.SubmittedAt
	if record.LastReminderAt != nil {
		since = *record.LastReminderAt
	}
	return now.Sub(since) >= time.Duration(s.settings.ReminderIntervalHours)*time.Hour
}

func (s *Service) reply(ctx context.Context, record *Record, content string) {
	if record.ThreadRef == "" {
		return
	}
	if _, err := s.gateway.Send(ctx, record.ThreadRef, content); err != nil {
		s.logger.Warn("failed to send thread reply",
			"invoice_number", record.Data.InvoiceNumber,
			"error", err)
	}
}

var (
	ledgerHashExact = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

	// Reference extraction cascade: most specific shape first, bare token last.
	referencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(0x[a-fA-F0-9]{64})`),
		regexp.MustCompile(`(?i)TX(?:ID)?[:\s]+([A-Za-z0-9]{6,})`),
		regexp.MustCompile(`(?i)TRANSACTION(?:[\s_-]?ID)?[:\s]+([A-Za-z0-9]{6,})`),
		regexp.MustCompile(`(?i)REF(?:ERENCE)?[:\s]+([A-Za-z0-9]{6,})`),
		regexp.MustCompile(`(?i)PAYMENT[:\s]+([A-Za-z0-9]{6,})`),
		regexp.MustCompile(`(?i)COMPLETED[:\s]+([A-Za-z0-9]{6,})`),
		regexp.MustCompile(`\b([A-Za-z0-9]{8,64})\b`),
	}

	paymentKeywords = []string{"TX", "TRANSACTION", "REF", "PAYMENT", "COMPLETED"}
)

// ExtractReference pulls a payment reference out of free text, preferring
// explicit formats over a bare alphanumeric token.
func ExtractReference(content string) string {
	for _, pattern := range referencePatterns {
		if m := pattern.FindStringSubmatch(content); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

func isLedgerHash(ref string) bool {
	return ledgerHashExact.MatchString(ref)
}

func (s *Service) looksLikePayment(action intent.Action, content string) bool {
	if action.Intent == intent.IntentPayment {
		return true
	}
	upper := strings.ToUpper(content)
	for _, kw := range paymentKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return ledgerHashPatternLoose.MatchString(content)
}

var ledgerHashPatternLoose = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)
