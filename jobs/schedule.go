package jobs

import (
	"fmt"
	"strings"
)

// ParseSchedules reads "cron|namespace/name;cron|namespace/name" into cron
// registrations invoking each unit anonymously for tenant.
func ParseSchedules(tenant, raw string) ([]CronRegistration, error) {
	var out []CronRegistration
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		spec, path, ok := strings.Cut(entry, "|")
		spec, path = strings.TrimSpace(spec), strings.Trim(strings.TrimSpace(path), "/")
		if !ok || spec == "" || path == "" {
			return nil, fmt.Errorf("jobs: invalid schedule %q", entry)
		}
		task, err := NewInvokeTask(InvokePayload{Tenant: tenant, Path: path})
		if err != nil {
			return nil, err
		}
		out = append(out, CronRegistration{
			Spec:    spec,
			Task:    task,
			Options: invokeOptions(tenant),
		})
	}
	return out, nil
}
