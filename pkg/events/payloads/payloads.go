// Package payloads holds the data sections of the events this service
// produces and consumes. Field names follow the published schemas under
// schemas/.
package payloads

// Event names as they appear in envelope event_name.
const (
	AccountCreated     = "AccountCreated"
	AccountUpdated     = "AccountUpdated"
	AccountRoleChanged = "AccountRoleChanged"

	TaskCreated  = "TaskCreated"
	TaskUpdated  = "TaskUpdated"
	TaskAdded    = "TaskAdded"
	TaskAssigned = "TaskAssigned"
	TaskClosed   = "TaskClosed"

	TaskPriceCreated            = "TaskPriceCreated"
	BillingTransactionCompleted = "BillingTransactionCompleted"
)

// AccountStream is the replicated account state carried by AccountCreated and
// AccountUpdated.
type AccountStream struct {
	PublicID string `json:"public_id"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// AccountRoleChangedData announces a role transition.
type AccountRoleChangedData struct {
	PublicID string `json:"public_id"`
	Role     string `json:"role"`
}

// TaskStreamV1 is the v1 replicated task state: free-form title and
// description.
type TaskStreamV1 struct {
	PublicID    string `json:"public_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TaskStreamV2 is the v2 replicated task state: the tracker id moved out of
// the title into its own field.
type TaskStreamV2 struct {
	PublicID    string `json:"public_id"`
	JiraID      string `json:"jira_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TaskLifecycleData carries the task lifecycle events (TaskAdded,
// TaskAssigned, TaskClosed). The assignee is absent on TaskAdded when the
// task has not been assigned yet.
type TaskLifecycleData struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee,omitempty"`
}

// TaskPriceCreatedData announces the prices rolled for a task. PublicID
// duplicates Task for consumers that key on the generic field name.
type TaskPriceCreatedData struct {
	PublicID       string `json:"public_id"`
	Task           string `json:"task"`
	AssignmentCost int64  `json:"assignment_cost"`
	ClosingCost    int64  `json:"closing_cost"`
}

// BillingTransactionDetails qualifies a completed transaction. Task is set
// for the fee entries, absent for settlement payments.
type BillingTransactionDetails struct {
	Type string `json:"type"`
	Task string `json:"task,omitempty"`
}

// BillingTransactionCompletedData announces a committed ledger entry.
type BillingTransactionCompletedData struct {
	PublicID    string                    `json:"public_id"`
	Date        string                    `json:"date"`
	BusinessDay string                    `json:"business_day"`
	Account     string                    `json:"account"`
	Debit       int64                     `json:"debit"`
	Credit      int64                     `json:"credit"`
	Details     BillingTransactionDetails `json:"details"`
}
