package paas

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Reporter sends best-effort audit entries to the platform. A nil Reporter,
// or one without a client, drops everything.
type Reporter struct {
	Client *Client
	Agent  string
	Logger *zap.Logger
}

func NewReporter(c *Client, agent string, logger *zap.Logger) *Reporter {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		agent = "copyfund-scheduler"
	}
	return &Reporter{Client: c, Agent: agent, Logger: logger}
}

func (r *Reporter) Enabled() bool {
	return r != nil && r.Client != nil
}

// Report never blocks the caller for more than two seconds and never fails it.
func (r *Reporter) Report(action, level string, details map[string]any) {
	if !r.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.Client.CreateLog(ctx, CreateLogRequest{
		Agent:   r.Agent,
		Action:  action,
		Level:   level,
		Details: details,
	})
	if err != nil && r.Logger != nil {
		r.Logger.Debug("paas report failed", zap.String("action", action), zap.Error(err))
	}
}

// Login verifies the credentials at startup. On failure reporting is
// switched off for the rest of the process.
func (r *Reporter) Login(ctx context.Context) {
	if !r.Enabled() {
		return
	}
	if err := r.Client.Login(ctx); err != nil {
		if r.Logger != nil {
			r.Logger.Warn("paas login failed (audit logs disabled)", zap.Error(err))
		}
		r.Client = nil
		return
	}
	if r.Logger != nil {
		r.Logger.Info("paas login ok")
	}
}
