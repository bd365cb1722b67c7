// Package elicit asks the end user, through the MCP client, to confirm
// destructive operations before they run.
package elicit

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Confirmer requests user approval for an action described by message.
// A false result with a nil error means the user declined.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Func adapts a function to the Confirmer interface.
type Func func(ctx context.Context, message string) (bool, error)

func (f Func) Confirm(ctx context.Context, message string) (bool, error) {
	return f(ctx, message)
}

// SessionConfirmer drives confirmation through MCP elicitation on a live
// server session. Clients without elicitation support fail the request; the
// caller treats that as a decline with an explanatory error.
type SessionConfirmer struct {
	Session *mcp.ServerSession
}

func (c *SessionConfirmer) Confirm(ctx context.Context, message string) (bool, error) {
	res, err := c.Session.Elicit(ctx, &mcp.ElicitParams{
		Message: message,
		RequestedSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"confirm": {
					Type:        "boolean",
					Description: "Set to true to approve the operation.",
				},
			},
			Required: []string{"confirm"},
		},
	})
	if err != nil {
		return false, err
	}
	if res.Action != "accept" {
		return false, nil
	}
	confirmed, _ := res.Content["confirm"].(bool)
	return confirmed, nil
}
