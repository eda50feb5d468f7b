// Package trustgate provides in-process maturity governance for Go agent
// frameworks. It wraps tool functions, routes each attempt through the
// trigger interceptor, and only runs the tool when the agent's tier allows
// it: autonomous agents execute, supervised agents execute under a live
// session, and everything else is blocked with a training plan, a proposal,
// or a deferred execution.
//
// Usage:
//
//	tg, err := trustgate.New(trustgate.WithAgent("billing-bot"), trustgate.WithSupervisor("alice"))
//	defer tg.Close()
//	wrapped := tg.Wrap(sendInvoice)
//	result, err := wrapped(ctx, trustgate.Action{
//	    Type:    "send_email",
//	    Context: map[string]any{"invoice": "INV-42"},
//	})
//
// The SDK links directly against internal packages and shares the server's
// database, policy and denylist files. External users import
// github.com/ppiankov/trustgate/sdk/go/trustgate.
package trustgate
