// Package outcome accumulates the business result of a negotiation call:
// transcript lines and any commitment the debtor made through the agent's
// function calls.
package outcome

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Function names the agent is allowed to call.
const (
	FuncConfirmPaymentPromise = "confirm_payment_promise"
	FuncRegisterRefusalToPay  = "register_refusal_to_pay"
)

// Speaker labels for transcript lines.
const (
	SpeakerCaller = "caller"
	SpeakerAgent  = "agent"
)

// Utterance is one transcript line.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// PromiseDetails capture a confirmed payment promise.
type PromiseDetails struct {
	Amount        float64 `json:"amount"`
	DueDate       string  `json:"dueDate"`
	PaymentMethod string  `json:"paymentMethod"`
}

// ConversationOutcome is the final result of one call.
type ConversationOutcome struct {
	PromiseMade    bool            `json:"promiseMade"`
	PromiseDetails *PromiseDetails `json:"promiseDetails,omitempty"`
	UnwillingToPay bool            `json:"unwillingToPay"`
	Transcript     []Utterance     `json:"transcript"`
}

// Extractor builds a ConversationOutcome as events arrive. It is not safe for
// concurrent use; the bridge drives it from its single event loop.
type Extractor struct {
	result ConversationOutcome
	logger *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// AppendUtterance records one transcript line. Empty text is skipped.
func (e *Extractor) AppendUtterance(speaker, text string) {
	if text == "" {
		return
	}
	e.result.Transcript = append(e.result.Transcript, Utterance{Speaker: speaker, Text: text})
}

// HandleFunctionCall applies one agent function call. Unknown function names
// are ignored; malformed arguments for a known function are an error.
func (e *Extractor) HandleFunctionCall(name, argumentsJSON string) error {
	switch name {
	case FuncConfirmPaymentPromise:
		var details PromiseDetails
		if err := json.Unmarshal([]byte(argumentsJSON), &details); err != nil {
			return fmt.Errorf("outcome: parse %s arguments: %w", name, err)
		}
		e.result.PromiseMade = true
		e.result.PromiseDetails = &details
		e.logger.Info("payment promise confirmed",
			"amount", details.Amount,
			"due_date", details.DueDate,
			"payment_method", details.PaymentMethod,
		)
	case FuncRegisterRefusalToPay:
		e.result.UnwillingToPay = true
		e.logger.Info("refusal to pay registered")
	default:
		e.logger.Debug("ignoring unknown function call", "name", name)
	}
	return nil
}

// Outcome returns the accumulated result.
func (e *Extractor) Outcome() ConversationOutcome {
	return e.result
}
