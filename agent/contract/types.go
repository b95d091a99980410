package contract

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusFulfilled  OrderStatus = "fulfilled"
	StatusDelivering OrderStatus = "delivering"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

// AllStatuses lists every order status in lifecycle order.
var AllStatuses = []OrderStatus{
	StatusPending,
	StatusProcessing,
	StatusShipped,
	StatusFulfilled,
	StatusDelivering,
	StatusDelivered,
	StatusCancelled,
}

// TerminalStatuses cannot transition any further. Cancelled is included, so
// cancelling twice is rejected instead of applied again.
var TerminalStatuses = []OrderStatus{
	StatusFulfilled,
	StatusDelivering,
	StatusDelivered,
	StatusCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	for _, terminal := range TerminalStatuses {
		if s == terminal {
			return true
		}
	}
	return false
}

type LineItem struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type Customer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	IsPremium bool   `json:"is_premium"`
}

type Order struct {
	ID                 string      `json:"id"`
	OrderDate          string      `json:"order_date"`
	Status             OrderStatus `json:"status"`
	CustomerID         string      `json:"customer_id"`
	Items              []LineItem  `json:"items"`
	CancellationReason string      `json:"cancellation_reason,omitempty"`
}

// OrderSnapshot is the read view handed to agents and personas.
type OrderSnapshot struct {
	OrderID            string      `json:"order_id"`
	OrderDate          string      `json:"order_date"`
	Status             OrderStatus `json:"status"`
	CustomerID         string      `json:"customer_id"`
	CustomerName       string      `json:"customer_name,omitempty"`
	CustomerIsPremium  bool        `json:"customer_is_premium"`
	Items              []LineItem  `json:"items,omitempty"`
	CancellationReason string      `json:"cancellation_reason,omitempty"`
}

func NewSnapshot(order Order, customer Customer) OrderSnapshot {
	items := make([]LineItem, len(order.Items))
	copy(items, order.Items)
	return OrderSnapshot{
		OrderID:            order.ID,
		OrderDate:          order.OrderDate,
		Status:             order.Status,
		CustomerID:         order.CustomerID,
		CustomerName:       customer.Name,
		CustomerIsPremium:  customer.IsPremium,
		Items:              items,
		CancellationReason: order.CancellationReason,
	}
}

type CancelOutcome struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Order   OrderSnapshot `json:"order"`
}

// Seeding distributions.
const (
	DistributionWeighted = "weighted"
	DistributionTargeted = "targeted"
)

type SeedConfig struct {
	NumOrders     int                 `json:"num_orders" mapstructure:"num_orders"`
	NumCustomers  int                 `json:"num_customers" mapstructure:"num_customers"`
	Seed          uint64              `json:"seed" mapstructure:"seed"`
	ReferenceDate string              `json:"reference_date" mapstructure:"reference_date"`
	MinDaysAgo    int                 `json:"min_days_ago" mapstructure:"min_days_ago"`
	MaxDaysAgo    int                 `json:"max_days_ago" mapstructure:"max_days_ago"`
	Distribution  string              `json:"distribution,omitempty" mapstructure:"distribution"`
	StatusWeights map[OrderStatus]int `json:"status_weights,omitempty" mapstructure:"status_weights"`
}

type SeedSummary struct {
	Orders       int                 `json:"orders"`
	Customers    int                 `json:"customers"`
	Seed         uint64              `json:"seed"`
	StatusCounts map[OrderStatus]int `json:"status_counts"`
}

/* --- agent protocol --- */

type Action string

const (
	ActionOrderCancellation Action = "order_cancellation"
	ActionOrderTracking     Action = "order_tracking"
	ActionGeneralQuery      Action = "general_query"
)

type NextStep string

const (
	NextCallOrderCanceller NextStep = "call_order_canceller"
	NextCallOrderTracker   NextStep = "call_order_tracker"
	NextRespondApprove     NextStep = "respond_to_user_directly_approve"
	NextRespondDeny        NextStep = "respond_to_user_directly_deny"
	NextClarify            NextStep = "clarify_with_user"
)

// TelemetryPayload is the agent's structured self-report for one step.
type TelemetryPayload struct {
	OrderIDAnalyzed               string   `json:"order_id_analyzed,omitempty"`
	ActionUnderConsideration      Action   `json:"action_under_consideration"`
	PerceivedEligibilityForAction *bool    `json:"perceived_eligibility_for_action,omitempty"`
	ReasoningSummary              string   `json:"reasoning_summary"`
	IntendedNextStep              NextStep `json:"intended_next_step"`
}

const (
	ToolOrderTracker   = "order_tracker"
	ToolOrderCanceller = "order_canceller"
)

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"tool_input,omitempty"`
}

// OrderID returns the order_id argument, or "" when absent.
func (c ToolCall) OrderID() string {
	if c.Args == nil {
		return ""
	}
	id, _ := c.Args["order_id"].(string)
	return id
}

type ToolResult struct {
	Tool    string `json:"tool"`
	CallID  string `json:"call_id,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TelemetryStatus classifies the payload found in one agent output.
type TelemetryStatus string

const (
	TelemetryPresent   TelemetryStatus = "present"
	TelemetryAbsent    TelemetryStatus = "absent"
	TelemetryMalformed TelemetryStatus = "malformed"
)

// Protocol violation codes.
const (
	ViolationMissingTelemetry   = "missing_telemetry"
	ViolationIntentMismatch     = "intent_mismatch"
	ViolationMultiplePayloads   = "multiple_payloads"
	ViolationMultipleToolCalls  = "multiple_tool_calls"
	ViolationUnknownTool        = "unknown_tool"
	ViolationOrderIDMismatch    = "order_id_mismatch"
	ViolationToolBudgetExceeded = "tool_budget_exceeded"
	ViolationMalformedToolCall  = "malformed_tool_call"
)

type Violation struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

/* --- conversation --- */

type Actor string

const (
	ActorCustomer   Actor = "customer"
	ActorOrderAgent Actor = "order_agent"
	ActorTool       Actor = "tool"
)

// Message is one entry of the shared conversation history. Each agent
// adapter maps actors onto its own chat roles.
type Message struct {
	Actor      Actor      `json:"actor"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// AgentOutput is the raw result of one order-agent invocation.
type AgentOutput struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type Utterance struct {
	Text            string `json:"text"`
	EndConversation bool   `json:"end_conversation"`
}

// Observation is what a customer persona sees after an order-agent turn.
type Observation struct {
	AgentReply  string       `json:"agent_reply"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}
