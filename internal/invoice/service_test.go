package invoice_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/invoice-approval/internal"
	"github.com/frahmantamala/invoice-approval/internal/core/events"
	"github.com/frahmantamala/invoice-approval/internal/intent"
	"github.com/frahmantamala/invoice-approval/internal/invoice"
)

// Mock repository backed by maps, copying records on the way in and out so
// tests observe only persisted state.
type mockRepository struct {
	mu      sync.Mutex
	records map[string]invoice.Record
	threads map[string]string
	saveErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		records: make(map[string]invoice.Record),
		threads: make(map[string]string),
	}
}

func (m *mockRepository) SaveState(_ context.Context, record *invoice.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[record.Data.InvoiceNumber] = *record
	return nil
}

func (m *mockRepository) LoadState(_ context.Context, invoiceNumber string) (*invoice.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[invoiceNumber]
	if !ok {
		return nil, apperrors.ErrInvoiceNotFound
	}
	copied := record
	return &copied, nil
}

func (m *mockRepository) ListPending(_ context.Context) ([]*invoice.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*invoice.Record
	for _, record := range m.records {
		if record.ApprovalStatus == invoice.ApprovalPending {
			copied := record
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (m *mockRepository) MapThread(_ context.Context, threadRef, invoiceNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadRef] = invoiceNumber
	return nil
}

func (m *mockRepository) InvoiceForThread(_ context.Context, threadRef string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.threads[threadRef]; ok {
		return n, nil
	}
	return "", apperrors.ErrThreadNotIndexed
}

func (m *mockRepository) stored(invoiceNumber string) invoice.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[invoiceNumber]
}

type mockGateway struct {
	mu            sync.Mutex
	approver      bool
	approverErr   error
	postNoticeErr error
	editErr       error
	sent          []string
	edited        []string
	nextID        int
}

func (m *mockGateway) PostNotice(_ context.Context, threadName, content string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postNoticeErr != nil {
		return "", "", m.postNoticeErr
	}
	m.nextID++
	return fmt.Sprintf("thread-%d", m.nextID), fmt.Sprintf("notice-%d", m.nextID), nil
}

func (m *mockGateway) Send(_ context.Context, threadRef, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, content)
	m.nextID++
	return fmt.Sprintf("msg-%d", m.nextID), nil
}

func (m *mockGateway) Edit(_ context.Context, threadRef, messageRef, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.edited = append(m.edited, content)
	return nil
}

func (m *mockGateway) IsApprover(_ context.Context, authorID string) (bool, error) {
	return m.approver, m.approverErr
}

func (m *mockGateway) sentMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *mockGateway) lastSent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

type mockVerifier struct {
	mu        sync.Mutex
	confirmed bool
	amount    decimal.Decimal
	calls     int
}

func (m *mockVerifier) Verify(_ context.Context, txHash string) (bool, decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.confirmed, m.amount
}

func (m *mockVerifier) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockMirror struct {
	mu      sync.Mutex
	row     int
	updates int
}

func (m *mockMirror) AppendRecord(_ context.Context, record *invoice.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.row == 0 {
		m.row = 2
	}
	return m.row, nil
}

func (m *mockMirror) UpdateRecord(_ context.Context, record *invoice.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	return nil
}

func (m *mockMirror) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

type stubResolver struct {
	action intent.Action
}

func (s *stubResolver) Resolve(_ context.Context, content string) intent.Action {
	return s.action
}

var _ = Describe("Service", func() {
	var (
		repo     *mockRepository
		gateway  *mockGateway
		verifier *mockVerifier
		mirror   *mockMirror
		resolver *stubResolver
		svc      *invoice.Service
		settings invoice.Settings
		ctx      context.Context

		submittedAt time.Time
	)

	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newService := func() *invoice.Service {
		bus := events.NewEventBus(testLogger)
		invoice.NewEventHandler(repo, mirror, testLogger).RegisterEventHandlers(bus)
		return invoice.NewService(testLogger, repo, gateway, resolver, verifier, mirror, bus, settings)
	}

	makeDTO := func(number string) invoice.SubmitInvoiceDTO {
		return invoice.SubmitInvoiceDTO{
			VendorName:         "Acme Corp",
			InvoiceNumber:      number,
			InvoiceDate:        "2026-08-01",
			TotalAmount:        decimal.NewFromFloat(1250.50),
			Currency:           "USD",
			LineItemCount:      3,
			PayeeAccountHolder: "Acme Holdings",
			PayeeBankAddress:   "1 Bank Street",
			PayeeAccountNumber: "DE89370400440532013000",
			SubmittedAt:        submittedAt,
		}
	}

	BeforeEach(func() {
		repo = newMockRepository()
		gateway = &mockGateway{approver: true}
		verifier = &mockVerifier{}
		mirror = &mockMirror{}
		resolver = &stubResolver{}
		ctx = context.Background()
		submittedAt = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		settings = invoice.Settings{
			SLAHours:              24,
			ReminderIntervalHours: 24,
			MaxReminders:          5,
			ApproverRoleID:        "role-1",
		}
		svc = newService()
	})

	Describe("Submit", func() {
		It("creates the record, opens a thread and mirrors the row", func() {
			record, err := svc.Submit(ctx, makeDTO("INV-001"))
			Expect(err).NotTo(HaveOccurred())

			Expect(record.ApprovalStatus).To(Equal(invoice.ApprovalPending))
			Expect(record.ThreadRef).NotTo(BeEmpty())
			Expect(record.NoticeRef).NotTo(BeEmpty())
			Expect(record.SLANoticeRef).NotTo(BeEmpty())
			Expect(record.SpreadsheetRow).To(Equal(2))

			stored := repo.stored("INV-001")
			Expect(stored.ThreadRef).To(Equal(record.ThreadRef))

			mapped, err := repo.InvoiceForThread(ctx, record.ThreadRef)
			Expect(err).NotTo(HaveOccurred())
			Expect(mapped).To(Equal("INV-001"))
		})

		It("does not repost for an invoice that already has a live thread", func() {
			first, err := svc.Submit(ctx, makeDTO("INV-001"))
			Expect(err).NotTo(HaveOccurred())
			sendsBefore := len(gateway.sentMessages())

			second, err := svc.Submit(ctx, makeDTO("INV-001"))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ThreadRef).To(Equal(first.ThreadRef))
			Expect(gateway.sentMessages()).To(HaveLen(sendsBefore))
		})

		It("rejects an incomplete payload without creating anything", func() {
			dto := makeDTO("INV-002")
			dto.VendorName = ""

			_, err := svc.Submit(ctx, dto)
			Expect(err).To(HaveOccurred())
			Expect(repo.stored("INV-002").Data.InvoiceNumber).To(BeEmpty())
		})

		Context("when the chat service is down", func() {
			BeforeEach(func() {
				gateway.postNoticeErr = errors.New("connection refused")
			})

			It("fails the submission by default", func() {
				_, err := svc.Submit(ctx, makeDTO("INV-003"))
				Expect(err).To(HaveOccurred())

				appErr, ok := apperrors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(apperrors.ErrCodeChatUnavailable))
			})

			It("auto-approves when the fallback toggle is on", func() {
				settings.AutoApproveOnFailure = true
				svc = newService()

				record, err := svc.Submit(ctx, makeDTO("INV-003"))
				Expect(err).NotTo(HaveOccurred())
				Expect(record.ApprovalStatus).To(Equal(invoice.ApprovalApproved))
				Expect(record.Approver).To(Equal("system"))
				Expect(record.CostCenter).To(Equal("AUTO-APPROVED"))
				Expect(record.PaymentStatus).To(Equal(invoice.PaymentCompleted))
			})
		})
	})

	Describe("HandleMessage", func() {
		var threadRef string

		BeforeEach(func() {
			record, err := svc.Submit(ctx, makeDTO("INV-001"))
			Expect(err).NotTo(HaveOccurred())
			threadRef = record.ThreadRef
		})

		event := func(content string) invoice.MessageEvent {
			return invoice.MessageEvent{
				ThreadRef:  threadRef,
				AuthorID:   "user-1",
				AuthorName: "Dana",
				Content:    content,
			}
		}

		It("drops messages from non-approvers silently", func() {
			gateway.approver = false
			sendsBefore := len(gateway.sentMessages())

			err := svc.HandleMessage(ctx, event("APPROVE CC-42"))
			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.sentMessages()).To(HaveLen(sendsBefore))
			Expect(repo.stored("INV-001").ApprovalStatus).To(Equal(invoice.ApprovalPending))
		})

		It("drops messages in unindexed threads silently", func() {
			ev := event("APPROVE CC-42")
			ev.ThreadRef = "unknown-thread"

			err := svc.HandleMessage(ctx, ev)
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.stored("INV-001").ApprovalStatus).To(Equal(invoice.ApprovalPending))
		})

		It("replies with a status summary without changing state", func() {
			resolver.action = intent.Action{Intent: intent.IntentStatus}

			err := svc.HandleMessage(ctx, event("status?"))
			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.lastSent()).To(ContainSubstring("Invoice Status"))
			Expect(repo.stored("INV-001").ApprovalStatus).To(Equal(invoice.ApprovalPending))
		})

		Describe("approval", func() {
			It("approves with the provided cost center", func() {
				resolver.action = intent.Action{Intent: intent.IntentApprove, CostCenter: "CC-42"}

				err := svc.HandleMessage(ctx, event("APPROVE CC-42"))
				Expect(err).NotTo(HaveOccurred())

				stored := repo.stored("INV-001")
				Expect(stored.ApprovalStatus).To(Equal(invoice.ApprovalApproved))
				Expect(stored.Approver).To(Equal("Dana"))
				Expect(stored.CostCenter).To(Equal("CC-42"))
				Expect(gateway.lastSent()).To(ContainSubstring("Invoice Approved"))

				Eventually(mirror.updateCount).Should(Equal(1))
			})

			It("asks for the cost center when it is missing", func() {
				resolver.action = intent.Action{Intent: intent.IntentApprove}

				err := svc.HandleMessage(ctx, event("approve"))
				Expect(err).NotTo(HaveOccurred())
				Expect(gateway.lastSent()).To(ContainSubstring("cost center"))
				Expect(repo.stored("INV-001").ApprovalStatus).To(Equal(invoice.ApprovalPending))
			})

			It("acknowledges repeated decisions without changing state", func() {
				resolver.action = intent.Action{Intent: intent.IntentApprove, CostCenter: "CC-42"}
				Expect(svc.HandleMessage(ctx, event("APPROVE CC-42"))).To(Succeed())

				resolver.action = intent.Action{Intent: intent.IntentReject, Reason: "changed my mind"}
				Expect(svc.HandleMessage(ctx, event("REJECT changed my mind"))).To(Succeed())

				stored := repo.stored("INV-001")
				Expect(stored.ApprovalStatus).To(Equal(invoice.ApprovalApproved))
				Expect(stored.CostCenter).To(Equal("CC-42"))
				Expect(gateway.lastSent()).To(ContainSubstring("already APPROVED by Dana"))
			})
		})

		Describe("rejection", func() {
			It("rejects with the default reason when none is given", func() {
				resolver.action = intent.Action{Intent: intent.IntentReject}

				err := svc.HandleMessage(ctx, event("reject"))
				Expect(err).NotTo(HaveOccurred())

				stored := repo.stored("INV-001")
				Expect(stored.ApprovalStatus).To(Equal(invoice.ApprovalRejected))
				Expect(stored.RejectionReason).To(Equal(invoice.DefaultRejectionReason))
			})
		})

		Describe("payment references", func() {
			hash := "0x" + strings.Repeat("ab", 32)

			BeforeEach(func() {
				resolver.action = intent.Action{Intent: intent.IntentApprove, CostCenter: "CC-42"}
				Expect(svc.HandleMessage(ctx, event("APPROVE CC-42"))).To(Succeed())
			})

			It("verifies a ledger hash and completes the payment", func() {
				verifier.confirmed = true
				verifier.amount = decimal.NewFromFloat(1.5)
				resolver.action = intent.Action{Intent: intent.IntentPayment, TransactionRef: hash}

				err := svc.HandleMessage(ctx, event("paid "+hash))
				Expect(err).NotTo(HaveOccurred())

				stored := repo.stored("INV-001")
				Expect(stored.PaymentStatus).To(Equal(invoice.PaymentCompleted))
				Expect(stored.TransactionRef).To(Equal(hash))
				Expect(stored.PaidAmount.Equal(decimal.NewFromFloat(1.5))).To(BeTrue())
				Expect(gateway.lastSent()).To(ContainSubstring("Payment Successful"))
			})

			It("marks the payment failed when the receipt is not confirmed", func() {
				verifier.confirmed = false
				resolver.action = intent.Action{Intent: intent.IntentPayment, TransactionRef: hash}

				err := svc.HandleMessage(ctx, event("paid "+hash))
				Expect(err).NotTo(HaveOccurred())

				stored := repo.stored("INV-001")
				Expect(stored.PaymentStatus).To(Equal(invoice.PaymentFailed))
				Expect(gateway.lastSent()).To(ContainSubstring("Payment Failed"))
			})

			It("trusts non-hash references without verification", func() {
				resolver.action = intent.Action{Intent: intent.IntentPayment}

				err := svc.HandleMessage(ctx, event("REF: ABC123456"))
				Expect(err).NotTo(HaveOccurred())

				stored := repo.stored("INV-001")
				Expect(stored.PaymentStatus).To(Equal(invoice.PaymentCompleted))
				Expect(stored.TransactionRef).To(Equal("ABC123456"))
				Expect(verifier.callCount()).To(BeZero())
				Expect(gateway.lastSent()).To(ContainSubstring("Payment Confirmed"))

				Eventually(mirror.updateCount).Should(BeNumerically(">=", 1))
			})

			It("keeps a failed payment failed when another reference arrives", func() {
				verifier.confirmed = false
				resolver.action = intent.Action{Intent: intent.IntentPayment, TransactionRef: hash}
				Expect(svc.HandleMessage(ctx, event("paid "+hash))).To(Succeed())
				Expect(repo.stored("INV-001").PaymentStatus).To(Equal(invoice.PaymentFailed))
				sendsBefore := len(gateway.sentMessages())

				resolver.action = intent.Action{Intent: intent.IntentPayment}
				Expect(svc.HandleMessage(ctx, event("REF: ABC123456"))).To(Succeed())

				stored := repo.stored("INV-001")
				Expect(stored.PaymentStatus).To(Equal(invoice.PaymentFailed))
				Expect(stored.TransactionRef).To(Equal(hash))
				Expect(gateway.sentMessages()).To(HaveLen(sendsBefore))
			})

			It("acknowledges an already completed payment without reverifying", func() {
				resolver.action = intent.Action{Intent: intent.IntentPayment}
				Expect(svc.HandleMessage(ctx, event("REF: ABC123456"))).To(Succeed())

				resolver.action = intent.Action{Intent: intent.IntentPayment, TransactionRef: hash}
				Expect(svc.HandleMessage(ctx, event("paid "+hash))).To(Succeed())

				stored := repo.stored("INV-001")
				Expect(stored.TransactionRef).To(Equal("ABC123456"))
				Expect(verifier.callCount()).To(BeZero())
				Expect(gateway.lastSent()).To(ContainSubstring("already completed"))
			})

			It("explains the expected formats when no reference is found", func() {
				resolver.action = intent.Action{Intent: intent.IntentPayment}

				err := svc.HandleMessage(ctx, event("payment went through"))
				Expect(err).NotTo(HaveOccurred())
				Expect(gateway.lastSent()).To(ContainSubstring("transaction ID"))
				Expect(repo.stored("INV-001").PaymentStatus).To(Equal(invoice.PaymentPending))
			})
		})

		Describe("payments independent of the approval decision", func() {
			hash := "0x" + strings.Repeat("cd", 32)

			It("completes a confirmed hash while approval is still pending", func() {
				verifier.confirmed = true
				verifier.amount = decimal.NewFromFloat(1.5)
				resolver.action = intent.Action{Intent: intent.IntentPayment, TransactionRef: hash}

				Expect(svc.HandleMessage(ctx, event("paid "+hash))).To(Succeed())

				stored := repo.stored("INV-001")
				Expect(stored.ApprovalStatus).To(Equal(invoice.ApprovalPending))
				Expect(stored.PaymentStatus).To(Equal(invoice.PaymentCompleted))
				Expect(stored.PaidAmount.Equal(decimal.NewFromFloat(1.5))).To(BeTrue())
			})

			It("records a trusted reference on a rejected invoice", func() {
				resolver.action = intent.Action{Intent: intent.IntentReject, Reason: "duplicate"}
				Expect(svc.HandleMessage(ctx, event("reject duplicate"))).To(Succeed())

				resolver.action = intent.Action{Intent: intent.IntentPayment}
				Expect(svc.HandleMessage(ctx, event("TX: REFUND99123"))).To(Succeed())

				stored := repo.stored("INV-001")
				Expect(stored.ApprovalStatus).To(Equal(invoice.ApprovalRejected))
				Expect(stored.PaymentStatus).To(Equal(invoice.PaymentCompleted))
				Expect(stored.TransactionRef).To(Equal("REFUND99123"))
			})

			It("explains the expected formats before any decision", func() {
				resolver.action = intent.Action{Intent: intent.IntentPayment}

				Expect(svc.HandleMessage(ctx, event("payment went through"))).To(Succeed())
				Expect(gateway.lastSent()).To(ContainSubstring("transaction ID"))
				Expect(repo.stored("INV-001").ApprovalStatus).To(Equal(invoice.ApprovalPending))
			})
		})
	})

	Describe("SweepInvoice", func() {
		var threadRef string

		BeforeEach(func() {
			record, err := svc.Submit(ctx, makeDTO("INV-001"))
			Expect(err).NotTo(HaveOccurred())
			threadRef = record.ThreadRef
			_ = threadRef
		})

		It("edits the countdown notice in place", func() {
			svc.WithClock(func() time.Time { return submittedAt.Add(time.Hour) })

			Expect(svc.SweepInvoice(ctx, "INV-001")).To(Succeed())
			Expect(gateway.edited).To(HaveLen(1))
			Expect(gateway.edited[0]).To(ContainSubstring("Approval SLA"))
		})

		It("reposts the countdown when the edit fails", func() {
			gateway.editErr = errors.New("message deleted")
			before := repo.stored("INV-001").SLANoticeRef
			svc.WithClock(func() time.Time { return submittedAt.Add(time.Hour) })

			Expect(svc.SweepInvoice(ctx, "INV-001")).To(Succeed())
			Expect(repo.stored("INV-001").SLANoticeRef).NotTo(Equal(before))
		})

		It("fires a reminder once the interval has elapsed", func() {
			svc.WithClock(func() time.Time { return submittedAt.Add(24*time.Hour + time.Minute) })

			Expect(svc.SweepInvoice(ctx, "INV-001")).To(Succeed())

			stored := repo.stored("INV-001")
			Expect(stored.ReminderCount).To(Equal(1))
			Expect(stored.LastReminderAt).NotTo(BeNil())
			Expect(gateway.lastSent()).To(ContainSubstring("Approval Reminder"))
		})

		It("does not remind again before the next interval", func() {
			svc.WithClock(func() time.Time { return submittedAt.Add(24*time.Hour + time.Minute) })
			Expect(svc.SweepInvoice(ctx, "INV-001")).To(Succeed())

			svc.WithClock(func() time.Time { return submittedAt.Add(25 * time.Hour) })
			Expect(svc.SweepInvoice(ctx, "INV-001")).To(Succeed())

			Expect(repo.stored("INV-001").ReminderCount).To(Equal(1))
		})

		It("stops reminding at the configured cap", func() {
			for i := 0; i < settings.MaxReminders+3; i++ {
				offset := time.Duration(24*(i+1))*time.Hour + time.Minute
				svc.WithClock(func() time.Time { return submittedAt.Add(offset) })
				Expect(svc.SweepInvoice(ctx, "INV-001")).To(Succeed())
			}
			Expect(repo.stored("INV-001").ReminderCount).To(Equal(settings.MaxReminders))
		})

		It("skips decided invoices", func() {
			resolver.action = intent.Action{Intent: intent.IntentApprove, CostCenter: "CC-42"}
			Expect(svc.HandleMessage(ctx, invoice.MessageEvent{
				ThreadRef: threadRef, AuthorID: "user-1", AuthorName: "Dana", Content: "APPROVE CC-42",
			})).To(Succeed())

			sendsBefore := len(gateway.sentMessages())
			svc.WithClock(func() time.Time { return submittedAt.Add(48 * time.Hour) })
			Expect(svc.SweepInvoice(ctx, "INV-001")).To(Succeed())
			Expect(gateway.sentMessages()).To(HaveLen(sendsBefore))
		})
	})
})
