// Package transfer validates a transfer request against the known balance and
// hands it to the backend transfer endpoint.
package transfer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenswallet/internal/chain"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/monitor"
	"github.com/vadiminshakov/tokenswallet/pkg/amount"
)

// Endpoint submits a validated order. Signing happens on the backend.
type Endpoint interface {
	Transfer(ctx context.Context, order domain.TransferOrder) (domain.TransactionReference, error)
}

// serverMessage is implemented by endpoint errors that carry a human-readable
// message from the backend.
type serverMessage interface {
	ServerMessage() string
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithSingleFlight rejects a submission while another one with the same
// request identity is in flight.
func WithSingleFlight() Option {
	return func(s *Submitter) {
		s.singleFlight = true
	}
}

// WithOnSuccess registers a callback run after every accepted transfer.
func WithOnSuccess(fn func(domain.TransactionReference)) Option {
	return func(s *Submitter) {
		s.onSuccess = fn
	}
}

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) {
		s.now = now
	}
}

// Submitter validates and submits transfers.
type Submitter struct {
	endpoint  Endpoint
	validator chain.AddressValidator
	logger    *zap.Logger
	onSuccess func(domain.TransactionReference)
	now       func() time.Time

	singleFlight bool
	mu           sync.Mutex
	inFlight     map[string]struct{}
}

// NewSubmitter creates a Submitter for one chain.
func NewSubmitter(endpoint Endpoint, validator chain.AddressValidator, logger *zap.Logger, opts ...Option) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Submitter{
		endpoint:  endpoint,
		validator: validator,
		logger:    logger,
		now:       time.Now,
		inFlight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Validate runs the local checks in order: recipient address, amount, funds.
// It returns the amount in minor units when all checks pass.
func (s *Submitter) Validate(req domain.TransferRequest) (*big.Int, error) {
	recipient := strings.TrimSpace(req.RecipientAddress)
	if recipient == "" {
		return nil, newError(KindInvalidAddress, "recipient address is required", nil)
	}
	if s.validator != nil {
		if err := s.validator.ValidateAddress(recipient); err != nil {
			return nil, newError(KindInvalidAddress, fmt.Sprintf("invalid recipient address %q", recipient), err)
		}
	}

	minor, err := amount.ToMinorUnits(req.HumanAmount, req.TokenDecimals)
	if err != nil {
		return nil, newError(KindInvalidAmount, fmt.Sprintf("invalid amount %q", req.HumanAmount), err)
	}
	if minor.Sign() <= 0 {
		return nil, newError(KindInvalidAmount, "amount must be greater than zero", nil)
	}

	balance := req.CurrentBalanceMinorUnits
	if balance == nil {
		balance = new(big.Int)
	}
	if minor.Cmp(balance) > 0 {
		available := amount.ToHuman(balance, req.TokenDecimals)
		return nil, newError(KindInsufficientFunds,
			fmt.Sprintf("insufficient funds (max %s %s)", available, req.TokenSymbol), nil)
	}

	return minor, nil
}

// Submit validates req and posts it to the transfer endpoint. The call runs to
// completion; a nil error means the backend accepted the transfer.
func (s *Submitter) Submit(ctx context.Context, req domain.TransferRequest) (domain.TransactionReference, error) {
	ref, err := s.submit(ctx, req)
	if err != nil {
		var terr *Error
		if errors.As(err, &terr) {
			monitor.TransferSubmissions.WithLabelValues(string(terr.Kind)).Inc()
		}
		return domain.TransactionReference{}, err
	}

	monitor.TransferSubmissions.WithLabelValues("ok").Inc()
	if s.onSuccess != nil {
		s.onSuccess(ref)
	}

	return ref, nil
}

func (s *Submitter) submit(ctx context.Context, req domain.TransferRequest) (domain.TransactionReference, error) {
	if s.singleFlight {
		key := requestKey(req)
		if !s.acquire(key) {
			return domain.TransactionReference{}, newError(KindSubmissionInProgress, ErrSubmissionInProgress.Message, nil)
		}
		defer s.release(key)
	}

	if _, err := s.Validate(req); err != nil {
		s.logger.Debug("transfer rejected", zap.Error(err))
		return domain.TransactionReference{}, err
	}

	requestID := req.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	order := domain.TransferOrder{
		RecipientAddress: strings.TrimSpace(req.RecipientAddress),
		HumanAmount:      strings.TrimSpace(req.HumanAmount),
		TokenSymbol:      req.TokenSymbol,
		RequestID:        requestID,
	}

	log := s.logger.With(
		zap.String("request_id", requestID),
		zap.String("recipient", order.RecipientAddress),
		zap.String("amount", order.HumanAmount),
		zap.String("symbol", order.TokenSymbol),
	)
	log.Info("submitting transfer")

	started := time.Now()
	ref, err := s.endpoint.Transfer(ctx, order)
	monitor.TransferDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		log.Warn("transfer failed", zap.Error(err))
		return domain.TransactionReference{}, newError(KindTransferFailed, failureMessage(err), err)
	}

	if ref.RequestID == "" {
		ref.RequestID = requestID
	}
	if ref.SubmittedAt.IsZero() {
		ref.SubmittedAt = s.now()
	}
	log.Info("transfer accepted", zap.String("tx_hash", ref.TxHash))

	return ref, nil
}

func (s *Submitter) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Submitter) release(key string) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
}

func requestKey(req domain.TransferRequest) string {
	if req.ID != "" {
		return req.ID
	}
	return strings.Join([]string{
		strings.TrimSpace(req.RecipientAddress),
		strings.TrimSpace(req.HumanAmount),
		req.TokenSymbol,
	}, "|")
}

func failureMessage(err error) string {
	var sm serverMessage
	if errors.As(err, &sm) {
		if msg := strings.TrimSpace(sm.ServerMessage()); msg != "" {
			return msg
		}
	}
	return ErrTransferFailed.Message
}
