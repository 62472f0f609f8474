// Package monitor is the read/mutate model over the monitoring system.
// It depends only on the structured query and command contracts, not on
// the LiveStatus client itself, so tests (and other backends) can stand in
// a fake.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deexno/checkmk-telegram-plus/internal/livestatus"
)

type Querier interface {
	Query(ctx context.Context, q livestatus.Query) ([][]any, error)
}

type Commander interface {
	Command(ctx context.Context, command string) error
}

type Service struct {
	Host        string
	Description string
	State       int
}

type ServiceDetails struct {
	Host             string
	Description      string
	State            int
	PerfData         string
	PluginOutput     string
	LongPluginOutput string
	LastCheck        time.Time
}

type HostProblem struct {
	Name  string
	State int
}

type ServiceProblem struct {
	Host        string
	Description string
	State       int
}

// Metric is one parsed perf_data entry (name=value;warn;crit;min;max).
type Metric struct {
	Name  string
	Value string
}

type Source struct {
	querier   Querier
	commander Commander
	nowFn     func() time.Time
}

func New(querier Querier, commander Commander) (*Source, error) {
	if querier == nil {
		return nil, fmt.Errorf("missing querier")
	}
	if commander == nil {
		return nil, fmt.Errorf("missing commander")
	}
	return &Source{querier: querier, commander: commander, nowFn: time.Now}, nil
}

func (s *Source) Hostgroups(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, livestatus.NewQuery("hostgroups", "name"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, rowString(row, 0))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Source) HostsOfGroup(ctx context.Context, group string) ([]string, error) {
	rows, err := s.query(ctx, livestatus.NewQuery("hostsbygroup", "name").
		Filter("hostgroup_name", "=", group))
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(rows))
	for _, row := range rows {
		hosts = append(hosts, rowString(row, 0))
	}
	sort.Strings(hosts)
	return hosts, nil
}

// HostStatus returns the numeric host state (0 up, nonzero down).
func (s *Source) HostStatus(ctx context.Context, host string) (int, error) {
	rows, err := s.query(ctx, livestatus.NewQuery("hosts", "state").
		Filter("name", "=", host))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("unknown host: %q", host)
	}
	return rowInt(rows[0], 0), nil
}

func (s *Source) ServicesOfHost(ctx context.Context, host string) ([]Service, error) {
	rows, err := s.query(ctx, livestatus.NewQuery("services", "description", "state").
		Filter("host_name", "=", host))
	if err != nil {
		return nil, err
	}
	services := make([]Service, 0, len(rows))
	for _, row := range rows {
		services = append(services, Service{
			Host:        host,
			Description: rowString(row, 0),
			State:       rowInt(row, 1),
		})
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Description < services[j].Description
	})
	return services, nil
}

func (s *Source) ServiceDetails(ctx context.Context, host, service string) (ServiceDetails, error) {
	rows, err := s.query(ctx, livestatus.NewQuery("services",
		"description", "state", "perf_data", "plugin_output", "long_plugin_output", "last_check").
		Filter("host_name", "=", host).
		Filter("description", "=", service))
	if err != nil {
		return ServiceDetails{}, err
	}
	if len(rows) == 0 {
		return ServiceDetails{}, fmt.Errorf("unknown service: %q on %q", service, host)
	}
	row := rows[0]
	return ServiceDetails{
		Host:             host,
		Description:      rowString(row, 0),
		State:            rowInt(row, 1),
		PerfData:         rowString(row, 2),
		PluginOutput:     rowString(row, 3),
		LongPluginOutput: rowString(row, 4),
		LastCheck:        time.Unix(int64(rowInt(row, 5)), 0),
	}, nil
}

// HostProblems lists hosts of a group in a non-OK state, worst first.
func (s *Source) HostProblems(ctx context.Context, group string) ([]HostProblem, error) {
	rows, err := s.query(ctx, livestatus.NewQuery("hostsbygroup", "name", "state").
		Filter("state", "=", "1").
		Filter("state", "=", "2").
		Filter("state", "=", "3").
		Or(3).
		Filter("hostgroup_name", "=", group))
	if err != nil {
		return nil, err
	}
	problems := make([]HostProblem, 0, len(rows))
	for _, row := range rows {
		problems = append(problems, HostProblem{
			Name:  rowString(row, 0),
			State: rowInt(row, 1),
		})
	}
	sort.SliceStable(problems, func(i, j int) bool {
		return problems[i].State > problems[j].State
	})
	return problems, nil
}

func (s *Source) ServiceProblems(ctx context.Context, group string) ([]ServiceProblem, error) {
	rows, err := s.query(ctx, livestatus.NewQuery("servicesbyhostgroup",
		"host_name", "description", "state").
		Filter("state", "=", "1").
		Filter("state", "=", "2").
		Filter("state", "=", "3").
		Or(3).
		Filter("hostgroup_name", "=", group))
	if err != nil {
		return nil, err
	}
	problems := make([]ServiceProblem, 0, len(rows))
	for _, row := range rows {
		problems = append(problems, ServiceProblem{
			Host:        rowString(row, 0),
			Description: rowString(row, 1),
			State:       rowInt(row, 2),
		})
	}
	sort.SliceStable(problems, func(i, j int) bool {
		return problems[i].State > problems[j].State
	})
	return problems, nil
}

// RecheckHost forces an immediate host check.
func (s *Source) RecheckHost(ctx context.Context, host string) error {
	return s.commander.Command(ctx, livestatus.ScheduleForcedHostCheck(host, s.nowFn()))
}

func (s *Source) RecheckService(ctx context.Context, host, service string) error {
	return s.commander.Command(ctx, livestatus.ScheduleForcedServiceCheck(host, service, s.nowFn()))
}

func (s *Source) AcknowledgeService(ctx context.Context, host, service, author, comment string) error {
	return s.commander.Command(ctx, livestatus.AcknowledgeServiceProblem(host, service, author, comment))
}

func (s *Source) query(ctx context.Context, q livestatus.Query) ([][]any, error) {
	if s == nil || s.querier == nil {
		return nil, fmt.Errorf("monitor source is not initialized")
	}
	return s.querier.Query(ctx, q)
}

// ParseMetrics extracts name/value pairs from a perf_data string. Entries
// without the full five-part value list are skipped, as are bare words.
func ParseMetrics(perfData string) []Metric {
	perfData = strings.TrimSpace(perfData)
	if perfData == "" {
		return nil
	}
	var metrics []Metric
	for _, part := range strings.Fields(perfData) {
		name, values, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		value, _, _ := strings.Cut(values, ";")
		metrics = append(metrics, Metric{Name: name, Value: value})
	}
	return metrics
}

func rowString(row []any, idx int) string {
	if idx >= len(row) {
		return ""
	}
	if s, ok := row[idx].(string); ok {
		return s
	}
	return fmt.Sprintf("%v", row[idx])
}

func rowInt(row []any, idx int) int {
	if idx >= len(row) {
		return 0
	}
	switch v := row[idx].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
