package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokenswallet/internal/chain"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
)

const alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"

type fakeEndpoint struct {
	mu     sync.Mutex
	orders []domain.TransferOrder
	err    error
	ref    domain.TransactionReference
	block  chan struct{}
}

func (f *fakeEndpoint) Transfer(ctx context.Context, order domain.TransferOrder) (domain.TransactionReference, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	if f.err != nil {
		return domain.TransactionReference{}, f.err
	}
	return f.ref, nil
}

func (f *fakeEndpoint) calls() []domain.TransferOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TransferOrder(nil), f.orders...)
}

type backendError struct {
	status  int
	message string
}

func (e *backendError) Error() string         { return fmt.Sprintf("status %d", e.status) }
func (e *backendError) ServerMessage() string { return e.message }

func request(recipient, human string, balance int64) domain.TransferRequest {
	return domain.TransferRequest{
		RecipientAddress:         recipient,
		HumanAmount:              human,
		TokenSymbol:              "OPAL",
		TokenDecimals:            12,
		CurrentBalanceMinorUnits: big.NewInt(balance),
	}
}

func TestSubmit_ValidationOrder(t *testing.T) {
	endpoint := &fakeEndpoint{}
	s := NewSubmitter(endpoint, chain.SS58{}, nil)

	tests := []struct {
		name string
		req  domain.TransferRequest
		want error
	}{
		{"empty address checked before amount", request("", "-5", 1000), ErrInvalidAddress},
		{"malformed address", request("not-an-address", "1", 1000), ErrInvalidAddress},
		{"negative amount", request(alice, "-5", 1000), ErrInvalidAmount},
		{"zero amount", request(alice, "0", 1000), ErrInvalidAmount},
		{"garbage amount", request(alice, "abc", 1000), ErrInvalidAmount},
		{"amount rounds to zero", request(alice, "0.0000000000001", 1000), ErrInvalidAmount},
		{"over balance", request(alice, "1", 1000), ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, endpoint.calls(), "invalid requests must not reach the endpoint")
}

func TestSubmit_InsufficientFundsMessage(t *testing.T) {
	s := NewSubmitter(&fakeEndpoint{}, nil, nil)

	req := domain.TransferRequest{
		RecipientAddress:         alice,
		HumanAmount:              "15",
		TokenSymbol:              "OPAL",
		TokenDecimals:            2,
		CurrentBalanceMinorUnits: big.NewInt(1000),
	}
	_, err := s.Submit(context.Background(), req)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindInsufficientFunds, terr.Kind)
	assert.Contains(t, terr.Message, "10 OPAL")
}

func TestSubmit_ExactBalanceAllowed(t *testing.T) {
	endpoint := &fakeEndpoint{ref: domain.TransactionReference{TxHash: "0xabc"}}
	s := NewSubmitter(endpoint, chain.SS58{}, nil)

	ref, err := s.Submit(context.Background(), request(alice, "0.000000001", 1000))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", ref.TxHash)
	assert.NotEmpty(t, ref.RequestID)
	assert.False(t, ref.SubmittedAt.IsZero())
}

func TestSubmit_SendsHumanAmount(t *testing.T) {
	endpoint := &fakeEndpoint{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSubmitter(endpoint, chain.SS58{}, nil, WithClock(func() time.Time { return now }))

	req := request(" "+alice+" ", "1.5", 2_000_000_000_000)
	req.ID = "req-1"
	ref, err := s.Submit(context.Background(), req)
	require.NoError(t, err)

	calls := endpoint.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.TransferOrder{
		RecipientAddress: alice,
		HumanAmount:      "1.5",
		TokenSymbol:      "OPAL",
		RequestID:        "req-1",
	}, calls[0])
	assert.Equal(t, "req-1", ref.RequestID)
	assert.Equal(t, now, ref.SubmittedAt)
}

func TestSubmit_EndpointFailure(t *testing.T) {
	t.Run("server message", func(t *testing.T) {
		endpoint := &fakeEndpoint{err: &backendError{status: 400, message: "Recipient is blocked"}}
		s := NewSubmitter(endpoint, chain.SS58{}, nil)

		_, err := s.Submit(context.Background(), request(alice, "0.5", 1_000_000_000_000))
		require.ErrorIs(t, err, ErrTransferFailed)

		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "Recipient is blocked", terr.Message)
	})

	t.Run("generic message", func(t *testing.T) {
		endpoint := &fakeEndpoint{err: fmt.Errorf("connection refused")}
		s := NewSubmitter(endpoint, chain.SS58{}, nil)

		_, err := s.Submit(context.Background(), request(alice, "0.5", 1_000_000_000_000))
		require.ErrorIs(t, err, ErrTransferFailed)

		var terr *Error
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, ErrTransferFailed.Message, terr.Message)
	})
}

func TestSubmit_OnSuccess(t *testing.T) {
	endpoint := &fakeEndpoint{}
	var got []domain.TransactionReference
	s := NewSubmitter(endpoint, chain.SS58{}, nil, WithOnSuccess(func(ref domain.TransactionReference) {
		got = append(got, ref)
	}))

	_, err := s.Submit(context.Background(), request(alice, "5", 1000))
	require.Error(t, err)
	assert.Empty(t, got, "failed submissions do not trigger the callback")

	_, err = s.Submit(context.Background(), request(alice, "0.000000001", 1000))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSubmit_SingleFlight(t *testing.T) {
	endpoint := &fakeEndpoint{block: make(chan struct{})}
	s := NewSubmitter(endpoint, chain.SS58{}, nil, WithSingleFlight())
	req := request(alice, "0.000000001", 1000)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), req)
		done <- err
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.inFlight) == 1
	}, time.Second, time.Millisecond)

	_, err := s.Submit(context.Background(), req)
	require.ErrorIs(t, err, ErrSubmissionInProgress)

	other := request(alice, "0.000000002", 1000)
	otherDone := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), other)
		otherDone <- err
	}()

	close(endpoint.block)
	require.NoError(t, <-done)
	require.NoError(t, <-otherDone)

	_, err = s.Submit(context.Background(), req)
	assert.NoError(t, err, "identity is released after completion")
}

func TestError_Is(t *testing.T) {
	err := newError(KindInvalidAmount, "custom", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.NotErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, "custom", err.Error())
}
