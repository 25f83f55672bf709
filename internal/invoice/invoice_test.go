package invoice_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/invoice-approval/internal/invoice"
)

func testData(submittedAt time.Time) invoice.InvoiceData {
	return invoice.InvoiceData{
		VendorName:         "Acme Corp",
		InvoiceNumber:      "INV-001",
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

var _ = Describe("Record", func() {
	var submittedAt time.Time

	BeforeEach(func() {
		submittedAt = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	})

	Describe("NewRecord", func() {
		It("starts pending on both axes", func() {
			record := invoice.NewRecord(testData(submittedAt), 24)

			Expect(record.ApprovalStatus).To(Equal(invoice.ApprovalPending))
			Expect(record.PaymentStatus).To(Equal(invoice.PaymentPending))
			Expect(record.ApprovalSLAHours).To(Equal(24))
			Expect(record.IsDecided()).To(BeFalse())
		})
	})

	Describe("Approve", func() {
		It("records approver and cost center", func() {
			record := invoice.NewRecord(testData(submittedAt), 24)
			record.Approve("Dana", "CC-42")

			Expect(record.ApprovalStatus).To(Equal(invoice.ApprovalApproved))
			Expect(record.Approver).To(Equal("Dana"))
			Expect(record.CostCenter).To(Equal("CC-42"))
			Expect(record.CanBeApproved()).To(BeFalse())
			Expect(record.CanBeRejected()).To(BeFalse())
		})
	})

	Describe("Reject", func() {
		It("fills in the default reason when none is given", func() {
			record := invoice.NewRecord(testData(submittedAt), 24)
			record.Reject("Dana", "")

			Expect(record.ApprovalStatus).To(Equal(invoice.ApprovalRejected))
			Expect(record.RejectionReason).To(Equal(invoice.DefaultRejectionReason))
		})

		It("keeps the provided reason", func() {
			record := invoice.NewRecord(testData(submittedAt), 24)
			record.Reject("Dana", "duplicate invoice")

			Expect(record.RejectionReason).To(Equal("duplicate invoice"))
		})
	})

	Describe("TimeRemaining", func() {
		It("renders hours and minutes before the deadline", func() {
			record := invoice.NewRecord(testData(submittedAt), 24)

			remaining, _ := record.TimeRemaining(submittedAt.Add(23*time.Hour + 30*time.Minute))
			Expect(remaining).To(Equal("0h 30m"))
		})

		It("renders Expired past the deadline", func() {
			record := invoice.NewRecord(testData(submittedAt), 24)

			remaining, dur := record.TimeRemaining(submittedAt.Add(25 * time.Hour))
			Expect(remaining).To(Equal("Expired"))
			Expect(dur).To(BeZero())
		})
	})

	Describe("OverallStatus", func() {
		It("prefers the payment outcome over the approval outcome", func() {
			record := invoice.NewRecord(testData(submittedAt), 24)
			Expect(record.OverallStatus()).To(Equal("pending"))

			record.Approve("Dana", "CC-42")
			Expect(record.OverallStatus()).To(Equal("approved"))

			record.FailPayment("0xdeadbeef", decimal.Zero)
			Expect(record.OverallStatus()).To(Equal("failed"))

			record.CompletePayment("0xdeadbeef", decimal.NewFromInt(1))
			Expect(record.OverallStatus()).To(Equal("completed"))
		})
	})
})

var _ = Describe("ExtractReference", func() {
	It("prefers a ledger hash over any other format", func() {
		hash := "0x" + strings.Repeat("a", 64)
		ref := invoice.ExtractReference("REF: ABC123456 paid via " + hash)
		Expect(ref).To(Equal(hash))
	})

	It("extracts TX style references", func() {
		Expect(invoice.ExtractReference("TX: ABC123456")).To(Equal("ABC123456"))
		Expect(invoice.ExtractReference("TXID: XYZ987654")).To(Equal("XYZ987654"))
	})

	It("extracts TRANSACTION, REF and PAYMENT style references", func() {
		Expect(invoice.ExtractReference("TRANSACTION: PAY000111")).To(Equal("PAY000111"))
		Expect(invoice.ExtractReference("REFERENCE: R12345678")).To(Equal("R12345678"))
		Expect(invoice.ExtractReference("PAYMENT: P987654321")).To(Equal("P987654321"))
	})

	It("falls back to a bare alphanumeric token", func() {
		Expect(invoice.ExtractReference("done ABCD1234EFGH")).To(Equal("ABCD1234EFGH"))
	})

	It("returns empty when nothing matches", func() {
		Expect(invoice.ExtractReference("thanks!")).To(Equal(""))
	})
})
