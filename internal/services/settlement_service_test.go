package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/bakejoy/api/internal/domain"
	"github.com/bakejoy/api/internal/payments"
)

type stubTransactionRepo struct {
	insertFn          func(context.Context, domain.Transaction) error
	updateFn          func(context.Context, domain.Transaction) error
	findFn            func(context.Context, string) (domain.Transaction, error)
	findByAuthorityFn func(context.Context, string, []domain.TransactionStatus) (domain.Transaction, error)
	listFn            func(context.Context, string) ([]domain.Transaction, error)
}

func (s *stubTransactionRepo) Insert(ctx context.Context, trx domain.Transaction) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, trx)
	}
	return nil
}

func (s *stubTransactionRepo) Update(ctx context.Context, trx domain.Transaction) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, trx)
	}
	return nil
}

func (s *stubTransactionRepo) FindByID(ctx context.Context, trxID string) (domain.Transaction, error) {
	if s.findFn != nil {
		return s.findFn(ctx, trxID)
	}
	return domain.Transaction{}, repoNotFound{}
}

func (s *stubTransactionRepo) FindByAuthority(ctx context.Context, authority string, statuses []domain.TransactionStatus) (domain.Transaction, error) {
	if s.findByAuthorityFn != nil {
		return s.findByAuthorityFn(ctx, authority, statuses)
	}
	return domain.Transaction{}, repoNotFound{}
}

func (s *stubTransactionRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, nil
}

type stubPaymentGateway struct {
	authorizeFn func(context.Context, PaymentAuthorizeRequest) (PaymentAuthorization, error)
	verifyFn    func(context.Context, PaymentVerifyRequest) (PaymentVerification, error)
}

func (s *stubPaymentGateway) Authorize(ctx context.Context, req PaymentAuthorizeRequest) (PaymentAuthorization, error) {
	if s.authorizeFn != nil {
		return s.authorizeFn(ctx, req)
	}
	return PaymentAuthorization{}, errors.New("not implemented")
}

func (s *stubPaymentGateway) Verify(ctx context.Context, req PaymentVerifyRequest) (PaymentVerification, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, req)
	}
	return PaymentVerification{}, errors.New("not implemented")
}

// settlementFixture keeps transaction state in memory and routes lifecycle
// transitions through a real order service.
type settlementFixture struct {
	svc          SettlementService
	orders       map[string]domain.Order
	transactions map[string]domain.Transaction
	gateway      *stubPaymentGateway
	notifier     *captureNotifier
}

func newSettlementFixture(t *testing.T, gateway *stubPaymentGateway) *settlementFixture {
	t.Helper()

	f := &settlementFixture{
		orders:       map[string]domain.Order{},
		transactions: map[string]domain.Transaction{},
		gateway:      gateway,
		notifier:     &captureNotifier{},
	}

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			order, ok := f.orders[id]
			if !ok {
				return domain.Order{}, repoNotFound{}
			}
			return order, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			f.orders[order.ID] = order
			return nil
		},
	}
	trxRepo := &stubTransactionRepo{
		insertFn: func(_ context.Context, trx domain.Transaction) error {
			f.transactions[trx.ID] = trx
			return nil
		},
		updateFn: func(_ context.Context, trx domain.Transaction) error {
			f.transactions[trx.ID] = trx
			return nil
		},
		findByAuthorityFn: func(_ context.Context, authority string, statuses []domain.TransactionStatus) (domain.Transaction, error) {
			for _, trx := range f.transactions {
				if trx.Authority != authority {
					continue
				}
				for _, status := range statuses {
					if trx.Status == status {
						return trx, nil
					}
				}
			}
			return domain.Transaction{}, repoNotFound{}
		},
	}

	lifecycle := newTestOrderService(t, OrderServiceDeps{
		Orders:   orderRepo,
		Notifier: f.notifier,
	})

	svc, err := NewSettlementService(SettlementServiceDeps{
		Orders:       orderRepo,
		Transactions: trxRepo,
		Gateway:      gateway,
		Lifecycle:    lifecycle,
		Clock:        fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		IDGenerator:  sequentialIDs("01J"),
	})
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}
	f.svc = svc
	return f
}

func payableOrder() domain.Order {
	return domain.Order{
		ID:         "ord_1",
		Number:     "#BAKE-2001",
		UserID:     "user_1",
		Status:     domain.OrderStatusPendingPayment,
		TotalPrice: 250000,
		Contact:    &domain.OrderContact{Name: "Sara", Email: "sara@example.com", Phone: "09121234567"},
	}
}

func TestSettlementInitiatePayment(t *testing.T) {
	ctx := context.Background()
	var authorized PaymentAuthorizeRequest
	f := newSettlementFixture(t, &stubPaymentGateway{
		authorizeFn: func(_ context.Context, req PaymentAuthorizeRequest) (PaymentAuthorization, error) {
			authorized = req
			return PaymentAuthorization{
				Authority:  "A0000123",
				PaymentURL: "https://payment.zarinpal.com/pg/StartPay/A0000123",
			}, nil
		},
	})
	f.orders["ord_1"] = payableOrder()

	initiation, err := f.svc.InitiatePayment(ctx, InitiatePaymentCommand{
		OrderID:     "ord_1",
		UserID:      "user_1",
		CallbackURL: "https://shop.example.com/payment/callback",
	})
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	// 250000 toman = 2500000 rial
	if authorized.AmountRial != 2500000 {
		t.Fatalf("expected 2500000 rial, got %d", authorized.AmountRial)
	}
	if authorized.Mobile != "09121234567" || authorized.Email != "sara@example.com" {
		t.Fatalf("expected contact metadata forwarded, got %+v", authorized)
	}
	if initiation.Authority != "A0000123" {
		t.Fatalf("unexpected authority %q", initiation.Authority)
	}
	if !strings.Contains(initiation.PaymentURL, "A0000123") {
		t.Fatalf("unexpected payment url %q", initiation.PaymentURL)
	}

	trx := f.transactions[initiation.TransactionID]
	if trx.Status != domain.TransactionStatusPending {
		t.Fatalf("expected pending transaction, got %s", trx.Status)
	}
	if trx.Amount != 2500000 || trx.Authority != "A0000123" {
		t.Fatalf("unexpected transaction: %+v", trx)
	}
}

func TestSettlementInitiatePaymentGatewayFailureMarksTransaction(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{
		authorizeFn: func(context.Context, PaymentAuthorizeRequest) (PaymentAuthorization, error) {
			return PaymentAuthorization{RawResponse: `{"errors":{"code":-9}}`},
				fmt.Errorf("%w: code -9", payments.ErrGatewayDeclined)
		},
	})
	f.orders["ord_1"] = payableOrder()

	_, err := f.svc.InitiatePayment(ctx, InitiatePaymentCommand{
		OrderID:     "ord_1",
		CallbackURL: "https://shop.example.com/payment/callback",
	})
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}

	if len(f.transactions) != 1 {
		t.Fatalf("expected audit transaction, got %d", len(f.transactions))
	}
	for _, trx := range f.transactions {
		if trx.Status != domain.TransactionStatusFailed {
			t.Fatalf("expected failed transaction, got %s", trx.Status)
		}
		if trx.RawResponse == "" {
			t.Fatal("expected raw gateway response retained")
		}
		if !strings.Contains(trx.FailureReason, "code -9") {
			t.Fatalf("expected failure reason, got %q", trx.FailureReason)
		}
	}
}

func TestSettlementInitiatePaymentGatewayUnreachable(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{
		authorizeFn: func(context.Context, PaymentAuthorizeRequest) (PaymentAuthorization, error) {
			return PaymentAuthorization{}, errors.New("dial tcp: i/o timeout")
		},
	})
	f.orders["ord_1"] = payableOrder()

	_, err := f.svc.InitiatePayment(ctx, InitiatePaymentCommand{
		OrderID:     "ord_1",
		CallbackURL: "https://shop.example.com/payment/callback",
	})
	if !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected ErrPaymentUnavailable, got %v", err)
	}
	if errors.Is(err, ErrPaymentGateway) {
		t.Fatal("transport failure must not read as a gateway decline")
	}
}

func TestSettlementInitiatePaymentRejectsWrongState(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{})

	for _, status := range []domain.OrderStatus{domain.OrderStatusCart, domain.OrderStatusProcessing, domain.OrderStatusDelivered} {
		order := payableOrder()
		order.Status = status
		f.orders["ord_1"] = order

		_, err := f.svc.InitiatePayment(ctx, InitiatePaymentCommand{
			OrderID:     "ord_1",
			CallbackURL: "https://shop.example.com/payment/callback",
		})
		if !errors.Is(err, ErrPaymentState) {
			t.Fatalf("status %s: expected ErrPaymentState, got %v", status, err)
		}
	}
}

func TestSettlementInitiatePaymentAllowsRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{
		authorizeFn: func(context.Context, PaymentAuthorizeRequest) (PaymentAuthorization, error) {
			return PaymentAuthorization{Authority: "A0000124", PaymentURL: "https://payment.zarinpal.com/pg/StartPay/A0000124"}, nil
		},
	})
	order := payableOrder()
	order.Status = domain.OrderStatusPaymentFailed
	f.orders["ord_1"] = order

	if _, err := f.svc.InitiatePayment(ctx, InitiatePaymentCommand{
		OrderID:     "ord_1",
		CallbackURL: "https://shop.example.com/payment/callback",
	}); err != nil {
		t.Fatalf("InitiatePayment after failure: %v", err)
	}
}

func TestSettlementInitiatePaymentRejectsZeroTotal(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{})
	order := payableOrder()
	order.TotalPrice = 0
	f.orders["ord_1"] = order

	_, err := f.svc.InitiatePayment(ctx, InitiatePaymentCommand{
		OrderID:     "ord_1",
		CallbackURL: "https://shop.example.com/payment/callback",
	})
	if !errors.Is(err, ErrPaymentState) {
		t.Fatalf("expected ErrPaymentState, got %v", err)
	}
}

func TestSettlementCallbackSuccess(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{
		verifyFn: func(_ context.Context, req PaymentVerifyRequest) (PaymentVerification, error) {
			if req.AmountRial != 2500000 || req.Authority != "A0000123" {
				t.Fatalf("unexpected verify request: %+v", req)
			}
			return PaymentVerification{
				Code:        100,
				RefID:       "201000012345",
				CardPAN:     "502229******1234",
				RawResponse: `{"data":{"code":100}}`,
			}, nil
		},
	})
	f.orders["ord_1"] = payableOrder()
	f.transactions["trx_1"] = domain.Transaction{
		ID:        "trx_1",
		OrderID:   "ord_1",
		Amount:    2500000,
		Method:    domain.PaymentMethodOnline,
		Status:    domain.TransactionStatusPending,
		Authority: "A0000123",
	}

	result, err := f.svc.HandleCallback(ctx, PaymentCallbackCommand{Authority: "A0000123", GatewayStatus: "OK"})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	if !result.Settled || result.RefID != "201000012345" {
		t.Fatalf("expected settled result, got %+v", result)
	}
	trx := f.transactions["trx_1"]
	if trx.Status != domain.TransactionStatusSuccess || trx.SettledAt == nil {
		t.Fatalf("expected settled transaction, got %+v", trx)
	}
	if trx.CardPAN != "502229******1234" {
		t.Fatalf("expected card pan retained, got %q", trx.CardPAN)
	}
	if f.orders["ord_1"].Status != domain.OrderStatusProcessing {
		t.Fatalf("expected PROCESSING order, got %s", f.orders["ord_1"].Status)
	}
	if len(f.notifier.triggers) != 1 || f.notifier.triggers[0] != domain.OrderStatusProcessing {
		t.Fatalf("expected processing notification, got %+v", f.notifier.triggers)
	}
}

func TestSettlementCallbackUserCancelled(t *testing.T) {
	ctx := context.Background()
	verifyCalls := 0
	f := newSettlementFixture(t, &stubPaymentGateway{
		verifyFn: func(context.Context, PaymentVerifyRequest) (PaymentVerification, error) {
			verifyCalls++
			return PaymentVerification{}, nil
		},
	})
	f.orders["ord_1"] = payableOrder()
	f.transactions["trx_1"] = domain.Transaction{
		ID:        "trx_1",
		OrderID:   "ord_1",
		Amount:    2500000,
		Status:    domain.TransactionStatusPending,
		Authority: "A0000123",
	}

	result, err := f.svc.HandleCallback(ctx, PaymentCallbackCommand{Authority: "A0000123", GatewayStatus: "NOK"})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	if result.Settled {
		t.Fatal("expected unsettled result")
	}
	if verifyCalls != 0 {
		t.Fatalf("verify must not run for NOK callbacks, got %d calls", verifyCalls)
	}
	if f.transactions["trx_1"].Status != domain.TransactionStatusFailed {
		t.Fatalf("expected failed transaction, got %s", f.transactions["trx_1"].Status)
	}
	if f.orders["ord_1"].Status != domain.OrderStatusPaymentFailed {
		t.Fatalf("expected PAYMENT_FAILED order, got %s", f.orders["ord_1"].Status)
	}
}

func TestSettlementCallbackDeclinedCode(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{
		verifyFn: func(context.Context, PaymentVerifyRequest) (PaymentVerification, error) {
			return PaymentVerification{Code: -51, RawResponse: `{"errors":{"code":-51}}`}, nil
		},
	})
	f.orders["ord_1"] = payableOrder()
	f.transactions["trx_1"] = domain.Transaction{
		ID:        "trx_1",
		OrderID:   "ord_1",
		Amount:    2500000,
		Status:    domain.TransactionStatusPending,
		Authority: "A0000123",
	}

	result, err := f.svc.HandleCallback(ctx, PaymentCallbackCommand{Authority: "A0000123", GatewayStatus: "OK"})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if result.Settled {
		t.Fatal("expected unsettled result")
	}
	if f.orders["ord_1"].Status != domain.OrderStatusPaymentFailed {
		t.Fatalf("expected PAYMENT_FAILED, got %s", f.orders["ord_1"].Status)
	}
	trx := f.transactions["trx_1"]
	if !strings.Contains(trx.FailureReason, "code -51") {
		t.Fatalf("expected decline code recorded, got %q", trx.FailureReason)
	}
	if trx.RawResponse != `{"errors":{"code":-51}}` {
		t.Fatalf("expected raw gateway response retained, got %q", trx.RawResponse)
	}
}

func TestSettlementCallbackVerifyTransportFailure(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{
		verifyFn: func(context.Context, PaymentVerifyRequest) (PaymentVerification, error) {
			return PaymentVerification{}, errors.New("dial tcp: i/o timeout")
		},
	})
	f.orders["ord_1"] = payableOrder()
	f.transactions["trx_1"] = domain.Transaction{
		ID:        "trx_1",
		OrderID:   "ord_1",
		Amount:    2500000,
		Status:    domain.TransactionStatusPending,
		Authority: "A0000123",
	}

	result, err := f.svc.HandleCallback(ctx, PaymentCallbackCommand{Authority: "A0000123", GatewayStatus: "OK"})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if result.Settled {
		t.Fatal("expected unsettled result")
	}

	trx := f.transactions["trx_1"]
	if trx.Status != domain.TransactionStatusFailed {
		t.Fatalf("expected FAILED transaction, got %s", trx.Status)
	}
	if !strings.Contains(trx.FailureReason, "i/o timeout") {
		t.Fatalf("expected failure detail recorded, got %q", trx.FailureReason)
	}
	if f.orders["ord_1"].Status != domain.OrderStatusPaymentFailed {
		t.Fatalf("expected PAYMENT_FAILED, got %s", f.orders["ord_1"].Status)
	}
}

func TestSettlementCallbackAlreadyVerifiedCodeIsSuccess(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{
		verifyFn: func(context.Context, PaymentVerifyRequest) (PaymentVerification, error) {
			return PaymentVerification{Code: 101, RefID: "201000012345"}, nil
		},
	})
	f.orders["ord_1"] = payableOrder()
	f.transactions["trx_1"] = domain.Transaction{
		ID:        "trx_1",
		OrderID:   "ord_1",
		Amount:    2500000,
		Status:    domain.TransactionStatusPending,
		Authority: "A0000123",
	}

	result, err := f.svc.HandleCallback(ctx, PaymentCallbackCommand{Authority: "A0000123", GatewayStatus: "OK"})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if !result.Settled {
		t.Fatal("code 101 must settle")
	}
	if f.orders["ord_1"].Status != domain.OrderStatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", f.orders["ord_1"].Status)
	}
}

func TestSettlementCallbackRetryAfterSettlementIsIdempotent(t *testing.T) {
	ctx := context.Background()
	verifyCalls := 0
	f := newSettlementFixture(t, &stubPaymentGateway{
		verifyFn: func(context.Context, PaymentVerifyRequest) (PaymentVerification, error) {
			verifyCalls++
			return PaymentVerification{}, nil
		},
	})
	f.orders["ord_1"] = payableOrder()
	settledAt := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	f.transactions["trx_1"] = domain.Transaction{
		ID:        "trx_1",
		OrderID:   "ord_1",
		Amount:    2500000,
		Status:    domain.TransactionStatusSuccess,
		Authority: "A0000123",
		RefID:     "201000012345",
		SettledAt: &settledAt,
	}

	result, err := f.svc.HandleCallback(ctx, PaymentCallbackCommand{Authority: "A0000123", GatewayStatus: "OK"})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if !result.Settled || result.RefID != "201000012345" {
		t.Fatalf("expected idempotent settled result, got %+v", result)
	}
	if verifyCalls != 0 {
		t.Fatalf("verify must not rerun, got %d calls", verifyCalls)
	}
}

func TestSettlementCallbackUnknownAuthority(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t, &stubPaymentGateway{})

	_, err := f.svc.HandleCallback(ctx, PaymentCallbackCommand{Authority: "A_unknown", GatewayStatus: "OK"})
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}
