// Package connect instruments middleware registration so handlers resume the
// request's transaction and error handlers report the errors they receive.
package connect

import (
	"go.uber.org/zap"

	"github.com/zoobzio/shimz"
)

const (
	// AppResource is the table resource the use wrapper is registered under.
	AppResource = "connect.App"
	// UseMethod is the handler registration method.
	UseMethod = "use"
)

// Instrumentation registers the use wrapper on an agent.
type Instrumentation struct {
	agent  *shimz.Agent
	logger *zap.Logger
}

// Register adds the use wrapper to the agent's table.
func Register(agent *shimz.Agent) *Instrumentation {
	agent.Table.Register(AppResource, UseMethod, agent.Adapters.Middleware())
	return &Instrumentation{
		agent:  agent,
		logger: agent.Logger.Named("connect"),
	}
}

// Instrument wraps app's use method. It reports false when app could not be
// instrumented.
func (i *Instrumentation) Instrument(app any) bool {
	if i.agent.Apply(AppResource, app) == 0 {
		i.logger.Warn("app not instrumented")
		return false
	}
	return true
}
