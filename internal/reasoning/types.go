package reasoning

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Response types.
const (
	ResponseClaimDecision = "ClaimDecision"
	ResponseGeneralAnswer = "GeneralAnswer"
)

// Claim decisions.
const (
	DecisionApproved          = "Approved"
	DecisionPartiallyApproved = "Partially Approved"
	DecisionDenied            = "Denied"
	DecisionNeedsMoreInfo     = "Needs More Information"
)

var (
	// ErrNotConfigured is returned when no LLM credentials are available.
	ErrNotConfigured = errors.New("reasoning model not configured")

	// ErrInvalidResponse is returned when the model's output does not match
	// the requested schema.
	ErrInvalidResponse = errors.New("invalid model response")
)

// QueryEntities are the details extracted from a user's query.
type QueryEntities struct {
	// Procedure is a medical procedure or event, e.g. "knee surgery".
	Procedure *string `json:"procedure"`

	// TotalClaimCost is the claimed amount, if the query states one.
	TotalClaimCost *float64 `json:"total_claim_cost"`
}

// SearchTerm returns the procedure when one was extracted, else query.
func (e QueryEntities) SearchTerm(query string) string {
	if e.Procedure != nil && *e.Procedure != "" {
		return *e.Procedure
	}
	return query
}

// ContextChunk is one retrieved clause handed to Reason.
type ContextChunk struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// SupportingClause cites the evidence behind an answer.
type SupportingClause struct {
	ClauseID       string `json:"clause_id"`
	ClauseText     string `json:"clause_text"`
	SourceDocument string `json:"source_document"`
}

// FinalResponse is the structured answer to a query.
type FinalResponse struct {
	ResponseType           string             `json:"response_type" validate:"required,oneof=ClaimDecision GeneralAnswer"`
	Topic                  string             `json:"topic" validate:"required"`
	ConversationalAnswer   string             `json:"conversational_answer" validate:"required"`
	Decision               *string            `json:"decision"`
	FinalPayoutAmount      *string            `json:"final_payout_amount"`
	CalculationExplanation *string            `json:"calculation_explanation"`
	Justification          string             `json:"justification" validate:"required"`
	SupportingClauses      []SupportingClause `json:"supporting_clauses" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// normalize enforces the invariants the prompt asks for: general answers
// carry no decision, and clauses are never null.
func (r *FinalResponse) normalize() error {
	if r.SupportingClauses == nil {
		r.SupportingClauses = []SupportingClause{}
	}
	if r.ResponseType == ResponseGeneralAnswer {
		r.Decision = nil
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// IrrelevantResponse is returned when retrieval finds nothing relevant in
// the chat's documents.
func IrrelevantResponse() FinalResponse {
	return FinalResponse{
		ResponseType:         ResponseGeneralAnswer,
		Topic:                "Irrelevant Inquiry",
		ConversationalAnswer: "I can only answer questions based on the documents you've uploaded in this chat.",
		Justification:        "The user's query was determined to be irrelevant.",
		SupportingClauses:    []SupportingClause{},
	}
}
