package invoice_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/invoice-approval/internal"
	"github.com/frahmantamala/invoice-approval/internal/invoice"
)

var _ = Describe("SubmitInvoiceDTO", func() {
	var dto invoice.SubmitInvoiceDTO

	BeforeEach(func() {
		dto = invoice.SubmitInvoiceDTO{
			VendorName:         "Acme Corp",
			InvoiceNumber:      "INV-001",
			InvoiceDate:        "2026-08-01",
			TotalAmount:        decimal.NewFromFloat(1250.50),
			Currency:           "USD",
			LineItemCount:      3,
			PayeeAccountHolder: "Acme Holdings",
			PayeeBankAddress:   "1 Bank Street",
			PayeeAccountNumber: "DE89370400440532013000",
			SubmittedAt:        time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		}
	})

	It("accepts a complete payload", func() {
		Expect(dto.Validate()).To(Succeed())
	})

	It("rejects a payload with missing fields", func() {
		dto.VendorName = ""
		dto.Currency = ""

		err := dto.Validate()
		Expect(err).To(HaveOccurred())

		appErr, ok := apperrors.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(apperrors.ErrCodeMissingField))

		details, ok := appErr.Details.(apperrors.ValidationErrors)
		Expect(ok).To(BeTrue())
		Expect(details.Errors).To(HaveLen(2))
	})

	It("rejects a zero total amount", func() {
		dto.TotalAmount = decimal.Zero
		Expect(dto.Validate()).NotTo(Succeed())
	})

	It("rejects a missing submission time", func() {
		dto.SubmittedAt = time.Time{}
		Expect(dto.Validate()).NotTo(Succeed())
	})

	It("maps onto invoice data unchanged", func() {
		data := dto.ToInvoiceData()
		Expect(data.InvoiceNumber).To(Equal("INV-001"))
		Expect(data.TotalAmount.Equal(decimal.NewFromFloat(1250.50))).To(BeTrue())
		Expect(data.SubmittedAt).To(Equal(dto.SubmittedAt))
	})
})
