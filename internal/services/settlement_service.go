package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bakejoy/api/internal/domain"
	"github.com/bakejoy/api/internal/payments"
	"github.com/bakejoy/api/internal/repositories"
)

const (
	gatewayCallbackOK = "OK"

	verifyCodeSettled         = 100
	verifyCodeAlreadySettled  = 101
	tomanToRialFactor         = 10
	paymentDescriptionPattern = "settlement for order %s"
)

var (
	// ErrPaymentInvalidInput signals bad settlement request data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentState indicates the order is not in a payable state.
	ErrPaymentState = errors.New("payment: order not payable")
	// ErrPaymentGateway indicates the payment gateway rejected the call.
	ErrPaymentGateway = errors.New("payment: gateway failure")
	// ErrPaymentUnavailable indicates the payment gateway could not be
	// reached or did not answer in time.
	ErrPaymentUnavailable = errors.New("payment: gateway unavailable")
	// ErrTransactionNotFound indicates no transaction matches the lookup.
	ErrTransactionNotFound = errors.New("payment: transaction not found")
)

// PaymentGateway is the settlement view of the payment provider. Amounts
// cross this boundary in rial.
type PaymentGateway interface {
	Authorize(ctx context.Context, req PaymentAuthorizeRequest) (PaymentAuthorization, error)
	Verify(ctx context.Context, req PaymentVerifyRequest) (PaymentVerification, error)
}

// PaymentAuthorizeRequest asks the gateway to open a payment session.
type PaymentAuthorizeRequest struct {
	AmountRial  int64
	Description string
	CallbackURL string
	Email       string
	Mobile      string
}

// PaymentAuthorization carries the gateway handle for a pending payment.
type PaymentAuthorization struct {
	Authority   string
	PaymentURL  string
	RawResponse string
}

// PaymentVerifyRequest asks the gateway to confirm a completed payment.
type PaymentVerifyRequest struct {
	AmountRial int64
	Authority  string
}

// PaymentVerification is the gateway verdict for a verify call.
type PaymentVerification struct {
	Code        int
	RefID       string
	CardPAN     string
	RawResponse string
}

// Settled reports whether the verification confirms a captured payment,
// either freshly or as a repeat of an earlier confirmation.
func (v PaymentVerification) Settled() bool {
	return v.Code == verifyCodeSettled || v.Code == verifyCodeAlreadySettled
}

// SettlementServiceDeps bundles collaborators for the settlement service.
type SettlementServiceDeps struct {
	Orders       repositories.OrderRepository
	Transactions repositories.TransactionRepository
	Gateway      PaymentGateway
	Lifecycle    OrderService
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type settlementService struct {
	orders       repositories.OrderRepository
	transactions repositories.TransactionRepository
	gateway      PaymentGateway
	lifecycle    OrderService
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewSettlementService wires dependencies into a concrete SettlementService.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("settlement service: order repository is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("settlement service: transaction repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("settlement service: payment gateway is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("settlement service: order service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &settlementService{
		orders:       deps.Orders,
		transactions: deps.Transactions,
		gateway:      deps.Gateway,
		lifecycle:    deps.Lifecycle,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *settlementService) InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentInitiation{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	callbackURL := strings.TrimSpace(cmd.CallbackURL)
	if callbackURL == "" {
		return PaymentInitiation{}, fmt.Errorf("%w: callback url is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentInitiation{}, translateOrderRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return PaymentInitiation{}, fmt.Errorf("%w: order %q", ErrOrderNotFound, orderID)
	}
	if order.Status != domain.OrderStatusPendingPayment && order.Status != domain.OrderStatusPaymentFailed {
		return PaymentInitiation{}, fmt.Errorf("%w: order is %s", ErrPaymentState, order.Status)
	}
	if order.TotalPrice <= 0 {
		return PaymentInitiation{}, fmt.Errorf("%w: order total must be positive", ErrPaymentState)
	}

	amountRial, err := mulAmount(order.TotalPrice, tomanToRialFactor)
	if err != nil {
		return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}

	now := s.clock()

	// The pending transaction is recorded before the gateway call so a
	// crashed authorize still leaves an audit row.
	trx := Transaction{
		ID:        transactionIDPrefix + s.newID(),
		OrderID:   order.ID,
		Amount:    amountRial,
		Method:    domain.PaymentMethodOnline,
		Status:    domain.TransactionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.transactions.Insert(ctx, trx); err != nil {
		return PaymentInitiation{}, translateOrderRepositoryError(err)
	}

	var email, mobile string
	if order.Contact != nil {
		email = order.Contact.Email
		mobile = order.Contact.Phone
	}

	auth, err := s.gateway.Authorize(ctx, PaymentAuthorizeRequest{
		AmountRial:  amountRial,
		Description: fmt.Sprintf(paymentDescriptionPattern, order.Number),
		CallbackURL: callbackURL,
		Email:       email,
		Mobile:      mobile,
	})
	if err != nil {
		s.failTransaction(ctx, trx, auth.RawResponse, "authorize failed: "+err.Error())
		if errors.Is(err, payments.ErrGatewayDeclined) {
			return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
		}
		return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	trx.Authority = auth.Authority
	trx.RawResponse = auth.RawResponse
	trx.UpdatedAt = s.clock()
	if err := s.transactions.Update(ctx, trx); err != nil {
		return PaymentInitiation{}, translateOrderRepositoryError(err)
	}

	s.logger(ctx, "payment.authorized", map[string]any{
		"order":       order.ID,
		"transaction": trx.ID,
		"authority":   auth.Authority,
		"amount_rial": amountRial,
	})

	return PaymentInitiation{
		TransactionID: trx.ID,
		Authority:     auth.Authority,
		PaymentURL:    auth.PaymentURL,
	}, nil
}

func (s *settlementService) HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (SettlementResult, error) {
	authority := strings.TrimSpace(cmd.Authority)
	if authority == "" {
		return SettlementResult{}, fmt.Errorf("%w: authority is required", ErrPaymentInvalidInput)
	}

	trx, err := s.findByAuthority(ctx, authority, domain.TransactionStatusPending)
	if err != nil {
		if !errors.Is(err, ErrTransactionNotFound) {
			return SettlementResult{}, err
		}
		// A retried callback after settlement is answered from the
		// stored success transaction.
		settled, settledErr := s.findByAuthority(ctx, authority, domain.TransactionStatusSuccess)
		if settledErr != nil {
			return SettlementResult{}, err
		}
		return SettlementResult{
			Settled:     true,
			OrderID:     settled.OrderID,
			RefID:       settled.RefID,
			Transaction: settled,
		}, nil
	}

	if strings.TrimSpace(cmd.GatewayStatus) != gatewayCallbackOK {
		return s.settleFailure(ctx, trx, "payment cancelled at gateway")
	}

	verification, err := s.gateway.Verify(ctx, PaymentVerifyRequest{
		AmountRial: trx.Amount,
		Authority:  authority,
	})
	if err != nil {
		if verification.RawResponse != "" {
			trx.RawResponse = verification.RawResponse
		}
		result, settleErr := s.settleFailure(ctx, trx, "verification failed: "+err.Error())
		if settleErr != nil {
			return SettlementResult{}, settleErr
		}
		s.logger(ctx, "payment.verify.failed", map[string]any{
			"transaction": trx.ID,
			"authority":   authority,
			"error":       err.Error(),
		})
		return result, nil
	}

	if !verification.Settled() {
		trx.RawResponse = verification.RawResponse
		return s.settleFailure(ctx, trx, fmt.Sprintf("gateway declined with code %d", verification.Code))
	}

	return s.settleSuccess(ctx, trx, verification)
}

func (s *settlementService) GetTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return Transaction{}, fmt.Errorf("%w: transaction id is required", ErrPaymentInvalidInput)
	}
	trx, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		return Transaction{}, s.mapTransactionError(err)
	}
	return trx, nil
}

func (s *settlementService) ListTransactionsByOrder(ctx context.Context, orderID string) ([]Transaction, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return nil, translateOrderRepositoryError(err)
	}
	transactions, err := s.transactions.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapTransactionError(err)
	}
	return transactions, nil
}

func (s *settlementService) settleSuccess(ctx context.Context, trx Transaction, verification PaymentVerification) (SettlementResult, error) {
	now := s.clock()
	trx.Status = domain.TransactionStatusSuccess
	trx.RefID = verification.RefID
	trx.CardPAN = verification.CardPAN
	trx.RawResponse = verification.RawResponse
	trx.SettledAt = &now
	trx.UpdatedAt = now
	if err := s.transactions.Update(ctx, trx); err != nil {
		return SettlementResult{}, translateOrderRepositoryError(err)
	}

	if _, err := s.lifecycle.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      trx.OrderID,
		TargetStatus: domain.OrderStatusProcessing,
		Note:         fmt.Sprintf("payment settled, ref %s", verification.RefID),
	}); err != nil && !errors.Is(err, ErrOrderInvalidState) {
		return SettlementResult{}, err
	}

	s.logger(ctx, "payment.settled", map[string]any{
		"order":       trx.OrderID,
		"transaction": trx.ID,
		"ref_id":      verification.RefID,
		"code":        verification.Code,
	})

	return SettlementResult{
		Settled:     true,
		OrderID:     trx.OrderID,
		RefID:       verification.RefID,
		Transaction: trx,
	}, nil
}

func (s *settlementService) settleFailure(ctx context.Context, trx Transaction, note string) (SettlementResult, error) {
	now := s.clock()
	trx.Status = domain.TransactionStatusFailed
	trx.FailureReason = note
	trx.UpdatedAt = now
	if err := s.transactions.Update(ctx, trx); err != nil {
		return SettlementResult{}, translateOrderRepositoryError(err)
	}

	if _, err := s.lifecycle.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      trx.OrderID,
		TargetStatus: domain.OrderStatusPaymentFailed,
		Note:         note,
	}); err != nil && !errors.Is(err, ErrOrderInvalidState) {
		return SettlementResult{}, err
	}

	return SettlementResult{
		Settled:     false,
		OrderID:     trx.OrderID,
		Transaction: trx,
	}, nil
}

// failTransaction flags an un-authorized transaction. Failures here are
// logged only; the caller already has a gateway error to surface.
func (s *settlementService) failTransaction(ctx context.Context, trx Transaction, raw, reason string) {
	trx.Status = domain.TransactionStatusFailed
	if raw != "" {
		trx.RawResponse = raw
	}
	trx.FailureReason = reason
	trx.UpdatedAt = s.clock()
	if err := s.transactions.Update(ctx, trx); err != nil {
		s.logger(ctx, "payment.transaction.update.failed", map[string]any{
			"transaction": trx.ID,
			"error":       err.Error(),
		})
	}
}

func (s *settlementService) findByAuthority(ctx context.Context, authority string, status domain.TransactionStatus) (Transaction, error) {
	trx, err := s.transactions.FindByAuthority(ctx, authority, []domain.TransactionStatus{status})
	if err != nil {
		return Transaction{}, s.mapTransactionError(err)
	}
	return trx, nil
}

func (s *settlementService) mapTransactionError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrTransactionNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}
