package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
)

// TaskLogicInvoke executes a logic unit outside the request that scheduled it.
const TaskLogicInvoke = "logic:invoke"

// QueueFor returns the queue holding the tasks of tenant. Workers of different
// tenants sharing one Redis never dequeue each other's tasks.
func QueueFor(tenant string) string {
	return "edge:" + tenant
}

// invokeOptions are the enqueue options of an invoke task for tenant.
func invokeOptions(tenant string, extra ...asynq.Option) []asynq.Option {
	return append([]asynq.Option{asynq.Queue(QueueFor(tenant)), asynq.MaxRetry(3)}, extra...)
}

// Principal is the serialisable identity a deferred invocation runs as.
type Principal struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// PrincipalFrom captures u, nil for anonymous callers.
func PrincipalFrom(u *auth.UserInfo) *Principal {
	if u == nil {
		return nil
	}
	return &Principal{ID: u.ID, Email: u.Email, Roles: u.RoleList()}
}

// User rebuilds the identity.
func (p *Principal) User() *auth.UserInfo {
	if p == nil {
		return nil
	}
	return auth.NewUserInfo(p.ID, p.Email, p.Roles...)
}

// InvokePayload describes one deferred invocation.
type InvokePayload struct {
	Tenant    string         `json:"tenant"`
	Path      string         `json:"path"`
	Params    map[string]any `json:"params,omitempty"`
	User      *Principal     `json:"user,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

// NewInvokeTask constructs an Asynq task.
func NewInvokeTask(payload InvokePayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.Tenant) == "" || strings.TrimSpace(payload.Path) == "" {
		return nil, fmt.Errorf("jobs: invoke task requires tenant and path")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLogicInvoke, data), nil
}
