package ledger_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/invoice-approval/internal/ledger"
)

func TestLedger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ledger Suite")
}

var _ = Describe("Client", func() {
	var ctx context.Context

	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	const txHash = "0x4e3a3754410177e6937ef1f84bba68ea139e8d1a2258c5f85db9f1cd715a1bdd"

	BeforeEach(func() {
		ctx = context.Background()
	})

	ledgerServer := func(receiptStatus, valueHex string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Query().Get("action") {
			case "gettxreceiptstatus":
				json.NewEncoder(w).Encode(map[string]interface{}{
					"status":  "1",
					"message": "OK",
					"result":  map[string]string{"status": receiptStatus},
				})
			case "eth_getTransactionByHash":
				json.NewEncoder(w).Encode(map[string]interface{}{
					"result": map[string]string{"value": valueHex},
				})
			default:
				w.WriteHeader(http.StatusBadRequest)
			}
		}))
	}

	Describe("Verify", func() {
		It("confirms a successful transaction and converts wei to ETH", func() {
			server := ledgerServer("1", "0xde0b6b3a7640000")
			defer server.Close()

			client := ledger.NewClient(server.URL, "key", testLogger)
			confirmed, amount := client.Verify(ctx, txHash)

			Expect(confirmed).To(BeTrue())
			Expect(amount.Equal(decimal.NewFromInt(1))).To(BeTrue())
		})

		It("reports an unconfirmed receipt without an amount", func() {
			server := ledgerServer("0", "0xde0b6b3a7640000")
			defer server.Close()

			client := ledger.NewClient(server.URL, "key", testLogger)
			confirmed, amount := client.Verify(ctx, txHash)

			Expect(confirmed).To(BeFalse())
			Expect(amount.IsZero()).To(BeTrue())
		})

		It("still confirms when the amount cannot be read", func() {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if r.URL.Query().Get("action") == "gettxreceiptstatus" {
					json.NewEncoder(w).Encode(map[string]interface{}{
						"result": map[string]string{"status": "1"},
					})
					return
				}
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer server.Close()

			client := ledger.NewClient(server.URL, "key", testLogger)
			confirmed, amount := client.Verify(ctx, txHash)

			Expect(confirmed).To(BeTrue())
			Expect(amount.IsZero()).To(BeTrue())
		})

		It("fails closed when the API stays unreachable", func() {
			client := ledger.NewClient("http://127.0.0.1:1", "key", testLogger)
			confirmed, amount := client.Verify(ctx, txHash)

			Expect(confirmed).To(BeFalse())
			Expect(amount.IsZero()).To(BeTrue())
		})
	})

	Describe("TransactionAmount", func() {
		It("converts hex wei values", func() {
			server := ledgerServer("1", "0x29a2241af62c0000")
			defer server.Close()

			client := ledger.NewClient(server.URL, "key", testLogger)
			amount, err := client.TransactionAmount(ctx, txHash)

			Expect(err).NotTo(HaveOccurred())
			Expect(amount.Equal(decimal.NewFromFloat(3))).To(BeTrue())
		})

		It("errors on a missing transaction", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{"result": nil})
			}))
			defer server.Close()

			client := ledger.NewClient(server.URL, "key", testLogger)
			_, err := client.TransactionAmount(ctx, txHash)
			Expect(err).To(HaveOccurred())
		})
	})
})
