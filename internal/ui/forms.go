package ui

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/vadiminshakov/tokenswallet/internal/clients"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/transfer"
)

// TransferForm holds the transfer input between attempts. A failed submission
// keeps the input so the user can correct it; a successful one clears it.
type TransferForm struct {
	Recipient string
	Amount    string
	// Error is the message of the last failed submission.
	Error string
	// Result is the reference of the last successful submission.
	Result *domain.TransactionReference
}

// Request builds the transfer request for the current input.
func (f *TransferForm) Request(token domain.TokenConfig, balance *big.Int) domain.TransferRequest {
	return domain.TransferRequest{
		RecipientAddress:         strings.TrimSpace(f.Recipient),
		HumanAmount:              strings.TrimSpace(f.Amount),
		TokenSymbol:              token.Symbol,
		TokenDecimals:            token.Decimals,
		CurrentBalanceMinorUnits: balance,
	}
}

// Apply records the outcome of a submission.
func (f *TransferForm) Apply(ref domain.TransactionReference, err error) {
	if err != nil {
		f.Error = Message(err)
		f.Result = nil
		return
	}
	f.Recipient = ""
	f.Amount = ""
	f.Error = ""
	f.Result = &ref
}

// Form builds the interactive form bound to the input fields.
func (f *TransferForm) Form(available string) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Recipient address").
				Value(&f.Recipient).
				Validate(required("recipient address is required")),
			huh.NewInput().
				Title("Amount").
				Description(available).
				Value(&f.Amount).
				Validate(required("amount is required")),
		),
	)
}

// Run shows the form. The last error, if any, is printed above it.
func (f *TransferForm) Run(available string) error {
	if f.Error != "" {
		fmt.Println(errorStyle.Render(f.Error))
	}
	return f.Form(available).Run()
}

// LoginForm collects email and password.
type LoginForm struct {
	Email    string
	Password string
	Register bool
}

// Credentials returns the collected credentials.
func (f *LoginForm) Credentials() clients.Credentials {
	return clients.Credentials{
		Email:    strings.TrimSpace(f.Email),
		Password: f.Password,
	}
}

// Form builds the interactive login form.
func (f *LoginForm) Form() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Create a new account?").
				Affirmative("Register").
				Negative("Sign in").
				Value(&f.Register),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&f.Email).
				Validate(required("email is required")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&f.Password).
				Validate(required("password is required")),
		),
	)
}

// Run shows the login form.
func (f *LoginForm) Run() error {
	return f.Form().Run()
}

// Message returns the text to show the user for err.
func Message(err error) string {
	var transferErr *transfer.Error
	if errors.As(err, &transferErr) {
		return transferErr.Message
	}
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) && apiErr.ServerMessage() != "" {
		return apiErr.ServerMessage()
	}
	if errors.Is(err, clients.ErrUnauthorized) {
		return "please log in"
	}
	return err.Error()
}

// RenderTransferResult renders the confirmation of a submitted transfer.
func RenderTransferResult(ref domain.TransactionReference) string {
	lines := []string{balanceStyle.Render("Transfer submitted")}
	if ref.TxHash != "" {
		lines = append(lines, "tx: "+ref.TxHash)
	}
	if ref.Status != "" {
		lines = append(lines, "status: "+ref.Status)
	}
	lines = append(lines, mutedStyle.Render("request "+ref.RequestID))
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func required(message string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(message)
		}
		return nil
	}
}
