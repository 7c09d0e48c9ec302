package reasoning

import "github.com/google/generative-ai-go/genai"

const titleSystemPrompt = "Generate a concise title (max 4 words) for a chat starting with this message."

const titleUserTemplate = "First message: '%s'"

const entitiesSystemPrompt = "You are an expert data extraction assistant. Extract entities from the user's query."

const entitiesUserTemplate = "User Query: %s"

const reasoningSystemPrompt = `You are a world-class, multi-domain insurance assistant. Your task is to analyze a user's query and the provided evidence to generate a comprehensive, structured JSON response.

**CRITICAL REASONING STEPS:**

1.  **Determine User Intent:** First, analyze the original user query. Is the user submitting a specific claim (e.g., "I had knee surgery...") or asking a general question about their policy (e.g., "What eye surgeries are covered?")?
2.  **Set ` + "`response_type`" + `:**
    - If it's a specific claim, set ` + "`response_type`" + ` to "ClaimDecision".
    - If it's a general question, set ` + "`response_type`" + ` to "GeneralAnswer".
3.  **If ` + "`response_type`" + ` is 'ClaimDecision':**
    - Determine a formal ` + "`decision`" + `: 'Approved', 'Partially Approved', 'Denied', or 'Needs More Information'.
    - If a cost is provided, perform the calculation and explain it in ` + "`calculation_explanation`" + `.
4.  **If ` + "`response_type`" + ` is 'GeneralAnswer':**
    - The ` + "`decision`" + ` field should be null.
    - Provide a thorough answer to the user's question in the ` + "`justification`" + ` field, summarizing all relevant clauses you found.
5.  **For ALL responses:**
    - Create a short, friendly ` + "`conversational_answer`" + ` suitable for a chat window.
    - Identify the main ` + "`topic`" + ` of the query.
    - You MUST cite all ` + "`supporting_clauses`" + ` you used to come to your conclusion.`

const reasoningUserTemplate = "**Original User Query:**\n%s\n\n**Extracted Case Details:**\n%s\n\n**Retrieved Policy Clauses (Evidence):**\n%s"

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func nullable(s *genai.Schema) *genai.Schema {
	s.Nullable = true
	return s
}

var titleSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title": str("Chat title of at most four words."),
	},
	Required: []string{"title"},
}

var entitiesSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"procedure": nullable(str("A specific medical procedure or event, if mentioned (e.g., 'knee surgery', 'car accident').")),
		"total_claim_cost": {
			Type:        genai.TypeNumber,
			Description: "The total cost of the procedure claimed by the user, if mentioned.",
			Nullable:    true,
		},
	},
}

var finalResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"response_type": {
			Type:        genai.TypeString,
			Description: "The type of response. Must be either 'ClaimDecision' or 'GeneralAnswer'.",
			Enum:        []string{ResponseClaimDecision, ResponseGeneralAnswer},
		},
		"topic":                 str("The main subject of the user's query (e.g., 'Knee Surgery Claim', 'Eye Surgery Coverage')."),
		"conversational_answer": str("A short, direct, and conversational answer to the user's query."),
		"decision": {
			Type:        genai.TypeString,
			Description: "If response_type is 'ClaimDecision', the formal status: 'Approved', 'Partially Approved', 'Denied', or 'Needs More Information'.",
			Enum:        []string{DecisionApproved, DecisionPartiallyApproved, DecisionDenied, DecisionNeedsMoreInfo},
			Nullable:    true,
		},
		"final_payout_amount":     nullable(str("")),
		"calculation_explanation": nullable(str("")),
		"justification":           str("A detailed, formal justification for the decision or a comprehensive answer to a general question."),
		"supporting_clauses": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"clause_id":       str(""),
					"clause_text":     str(""),
					"source_document": str(""),
				},
				Required: []string{"clause_id", "clause_text", "source_document"},
			},
		},
	},
	Required: []string{"response_type", "topic", "conversational_answer", "justification", "supporting_clauses"},
}
