package models

// WorkflowCode identifies the current stage of a pipeline run.
type WorkflowCode string

const (
	WorkflowCollection WorkflowCode = "collection"
	WorkflowLoad       WorkflowCode = "load"
	WorkflowCheck      WorkflowCode = "check"
	WorkflowQA         WorkflowCode = "qa"
)

// WorkflowOperation enumerates the actions available to a user given
// their roles; code is primary.
type WorkflowOperation struct {
	Code  WorkflowCode `gorm:"type:text;primaryKey" json:"code"`
	Href  string       `json:"href"`
	Role  string       `gorm:"index" json:"role"`
	Order int          `gorm:"column:rank" json:"order"`
}

// Action is a statically declared (role, state, href, label) tuple
// shown to users in the UI based on run state.
type Action struct {
	ID    uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	Role  string       `gorm:"index;not null" json:"role"`
	State OperationState `gorm:"type:text;not null" json:"state"`
	Href  string       `json:"href"`
	Label string       `json:"label"`
}

// DefaultWorkflowOperations is the static seed set loaded at schema init.
var DefaultWorkflowOperations = []*WorkflowOperation{
	{Code: WorkflowCollection, Href: "/collection", Role: "collector", Order: 0},
	{Code: WorkflowLoad, Href: "/load", Role: "loader", Order: 1},
	{Code: WorkflowCheck, Href: "/check", Role: "checker", Order: 2},
	{Code: WorkflowQA, Href: "/qa", Role: "qa", Order: 3},
}

// DefaultActions is the static seed set loaded at schema init.
var DefaultActions = []*Action{
	{Role: "collector", State: OperationStateReady, Href: "/pickup", Label: "Pick up run"},
	{Role: "collector", State: OperationStateActive, Href: "/continue", Label: "Continue collection"},
	{Role: "loader", State: OperationStateReady, Href: "/pickup", Label: "Pick up run"},
	{Role: "loader", State: OperationStateActive, Href: "/continue", Label: "Continue load"},
	{Role: "checker", State: OperationStateReady, Href: "/pickup", Label: "Pick up run"},
	{Role: "checker", State: OperationStateActive, Href: "/continue", Label: "Continue check"},
	{Role: "qa", State: OperationStateReady, Href: "/pickup", Label: "Pick up run"},
	{Role: "qa", State: OperationStateActive, Href: "/continue", Label: "Continue qa"},
}
