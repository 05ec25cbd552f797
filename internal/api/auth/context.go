package auth

import "github.com/labstack/echo/v4"

// ContextKey represents keys for context values
type ContextKey string

// OperatorContextKey holds the authenticated *Operator.
const OperatorContextKey ContextKey = "operator"

// Operator is the moderator a request acts for.
type Operator struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// OperatorFrom returns the authenticated operator, or nil.
func OperatorFrom(c echo.Context) *Operator {
	op, _ := c.Get(string(OperatorContextKey)).(*Operator)
	return op
}
