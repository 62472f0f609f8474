package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/deexno/checkmk-telegram-plus/internal/monitor"
	"github.com/deexno/checkmk-telegram-plus/internal/settings"
)

// Monitoring is the read surface of the monitoring source the flows
// query.
type Monitoring interface {
	Hostgroups(ctx context.Context) ([]string, error)
	HostsOfGroup(ctx context.Context, group string) ([]string, error)
	HostStatus(ctx context.Context, host string) (int, error)
	ServicesOfHost(ctx context.Context, host string) ([]monitor.Service, error)
	ServiceDetails(ctx context.Context, host, service string) (monitor.ServiceDetails, error)
	HostProblems(ctx context.Context, group string) ([]monitor.HostProblem, error)
	ServiceProblems(ctx context.Context, group string) ([]monitor.ServiceProblem, error)
}

// GraphSource fetches rendered metric graphs for one service.
type GraphSource interface {
	FetchGraphs(ctx context.Context, host, service string) ([][]byte, error)
}

// Subscriptions is the slice of the settings repository the
// notification-settings flow needs.
type Subscriptions interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
	SetSubscription(ctx context.Context, userID int64, ch settings.Channel, enabled bool) error
}

// Reply is one outbound chat message. MediaGroup, when set, replaces
// the text body with a photo album.
type Reply struct {
	Text                string
	HTML                bool
	Keyboard            any
	DisableNotification bool
	MediaGroup          [][]byte
}

// Step is one question of a flow. Options recomputes the valid answers
// from live data each time the step is shown; the user's answer must be
// one of them.
type Step struct {
	Key         string
	Prompt      string
	Placeholder string
	Options     func(ctx context.Context, userID int64, selections map[string]string) ([]string, error)
}

// Flow is one conversation: an entry label, the ordered steps and the
// terminal action run once every step has an answer.
type Flow struct {
	Label  string
	Steps  []Step
	Action func(ctx context.Context, userID int64, selections map[string]string) ([]Reply, error)
}

const (
	stepHostgroup    = "hostgroup"
	stepHost         = "host"
	stepService      = "service"
	stepSubscription = "subscription"

	serviceSeparator = " / "
)

const (
	optActivate = "➕ ACTIVATE"
	optDisable  = "➖ DISABLE"
	optLoud     = "AUTOMATIC MESSAGES (LOUD)"
	optSilent   = "AUTOMATIC MESSAGES (SILENT)"
)

// splitServiceSelection undoes the "host / description" option label.
func splitServiceSelection(selection string) (host, service string, err error) {
	host, service, ok := strings.Cut(selection, serviceSeparator)
	if !ok {
		return "", "", fmt.Errorf("invalid service selection %q", selection)
	}
	return host, service, nil
}

func (e *Engine) hostgroupStep() Step {
	return Step{
		Key:         stepHostgroup,
		Prompt:      "PLEASE TELL ME THE HOSTGROUP OF THE HOST",
		Placeholder: "SELECT A HOSTGROUP IN THE MENU",
		Options: func(ctx context.Context, _ int64, _ map[string]string) ([]string, error) {
			return e.monitor.Hostgroups(ctx)
		},
	}
}

func (e *Engine) hostStep() Step {
	return Step{
		Key:         stepHost,
		Prompt:      "PLEASE TELL ME THE HOSTNAME",
		Placeholder: "SELECT A HOST IN THE MENU",
		Options: func(ctx context.Context, _ int64, selections map[string]string) ([]string, error) {
			return e.monitor.HostsOfGroup(ctx, selections[stepHostgroup])
		},
	}
}

func (e *Engine) serviceStep() Step {
	return Step{
		Key:         stepService,
		Prompt:      "PLEASE TELL ME THE SERVICE NAME",
		Placeholder: "SELECT A SERVICE IN THE MENU",
		Options: func(ctx context.Context, _ int64, selections map[string]string) ([]string, error) {
			host := selections[stepHost]
			services, err := e.monitor.ServicesOfHost(ctx, host)
			if err != nil {
				return nil, err
			}
			options := make([]string, 0, len(services))
			for _, svc := range services {
				options = append(options, host+serviceSeparator+svc.Description)
			}
			return options, nil
		},
	}
}

// standardFlows builds the flow table backing the home menu.
func (e *Engine) standardFlows() []Flow {
	flows := []Flow{
		{
			Label: MenuHostStatus,
			Steps: []Step{e.hostgroupStep(), e.hostStep()},
			Action: func(ctx context.Context, _ int64, selections map[string]string) ([]Reply, error) {
				host := selections[stepHost]
				state, err := e.monitor.HostStatus(ctx, host)
				if err != nil {
					return nil, err
				}
				return []Reply{{Text: HostStatusMessage(host, state), HTML: true, Keyboard: HomeMenu()}}, nil
			},
		},
		{
			Label: MenuServicesOfHost,
			Steps: []Step{e.hostgroupStep(), e.hostStep()},
			Action: func(ctx context.Context, _ int64, selections map[string]string) ([]Reply, error) {
				host := selections[stepHost]
				services, err := e.monitor.ServicesOfHost(ctx, host)
				if err != nil {
					return nil, err
				}
				return []Reply{{Text: ServiceListMessage(host, services), HTML: true, Keyboard: HomeMenu()}}, nil
			},
		},
		{
			Label: MenuServiceDetails,
			Steps: []Step{e.hostgroupStep(), e.hostStep(), e.serviceStep()},
			Action: func(ctx context.Context, _ int64, selections map[string]string) ([]Reply, error) {
				host, service, err := splitServiceSelection(selections[stepService])
				if err != nil {
					return nil, err
				}
				details, err := e.monitor.ServiceDetails(ctx, host, service)
				if err != nil {
					return nil, err
				}
				return []Reply{{Text: ServiceDetailsMessage(details), HTML: true, Keyboard: HomeMenu()}}, nil
			},
		},
		{
			Label: MenuHostProblems,
			Steps: []Step{e.hostgroupStep()},
			Action: func(ctx context.Context, _ int64, selections map[string]string) ([]Reply, error) {
				problems, err := e.monitor.HostProblems(ctx, selections[stepHostgroup])
				if err != nil {
					return nil, err
				}
				return []Reply{{Text: HostProblemsMessage(problems), HTML: true, Keyboard: HomeMenu()}}, nil
			},
		},
		{
			Label: MenuServiceProblems,
			Steps: []Step{e.hostgroupStep()},
			Action: func(ctx context.Context, _ int64, selections map[string]string) ([]Reply, error) {
				problems, err := e.monitor.ServiceProblems(ctx, selections[stepHostgroup])
				if err != nil {
					return nil, err
				}
				return []Reply{{Text: ServiceProblemsMessage(problems), HTML: true, Keyboard: HomeMenu()}}, nil
			},
		},
		{
			Label: MenuNotificationSettings,
			Steps: []Step{{
				Key:         stepSubscription,
				Prompt:      "WHAT WOULD YOU LIKE TO CHANGE?",
				Placeholder: "Choose an option",
				Options: func(ctx context.Context, userID int64, _ map[string]string) ([]string, error) {
					snap, err := e.subscriptions.Snapshot(ctx)
					if err != nil {
						return nil, err
					}
					loud := optActivate
					if snap.IsSubscribed(userID, settings.ChannelLoud) {
						loud = optDisable
					}
					silent := optActivate
					if snap.IsSubscribed(userID, settings.ChannelSilent) {
						silent = optDisable
					}
					return []string{
						loud + " " + optLoud,
						silent + " " + optSilent,
					}, nil
				},
			}},
			Action: func(ctx context.Context, userID int64, selections map[string]string) ([]Reply, error) {
				selection := selections[stepSubscription]
				channel := settings.ChannelSilent
				if strings.Contains(selection, "LOUD") {
					channel = settings.ChannelLoud
				}
				enable := strings.Contains(selection, "ACTIVATE")
				if err := e.subscriptions.SetSubscription(ctx, userID, channel, enable); err != nil {
					return nil, err
				}
				return []Reply{{Text: msgDone, Keyboard: HomeMenu()}}, nil
			},
		},
	}

	if e.graphs != nil {
		flows = append(flows, Flow{
			Label: MenuServiceGraphs,
			Steps: []Step{e.hostgroupStep(), e.hostStep(), e.serviceStep()},
			Action: func(ctx context.Context, _ int64, selections map[string]string) ([]Reply, error) {
				host, service, err := splitServiceSelection(selections[stepService])
				if err != nil {
					return nil, err
				}
				images, err := e.graphs.FetchGraphs(ctx, host, service)
				if err != nil {
					return []Reply{{Text: msgGraphsError, Keyboard: HomeMenu()}}, nil
				}
				replies := []Reply{{Text: GraphsAnnouncement(host, service), HTML: true, Keyboard: HomeMenu()}}
				for _, chunk := range monitor.ChunkGraphs(images, monitor.MediaGroupLimit) {
					replies = append(replies, Reply{MediaGroup: chunk})
				}
				return replies, nil
			},
		})
	}
	return flows
}
