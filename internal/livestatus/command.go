package livestatus

import (
	"fmt"
	"strings"
	"time"
)

// External command builders. The rendered strings are the payload after
// "COMMAND [ts]"; Client.Command adds the envelope.

func ScheduleForcedHostCheck(host string, at time.Time) string {
	return fmt.Sprintf("SCHEDULE_FORCED_HOST_CHECK;%s;%d", sanitizeArg(host), at.Unix())
}

func ScheduleForcedServiceCheck(host, service string, at time.Time) string {
	return fmt.Sprintf("SCHEDULE_FORCED_SVC_CHECK;%s;%s;%d", sanitizeArg(host), sanitizeArg(service), at.Unix())
}

func AcknowledgeHostProblem(host, author, comment string) string {
	return fmt.Sprintf("ACKNOWLEDGE_HOST_PROBLEM;%s;2;1;1;%s;%s",
		sanitizeArg(host), sanitizeArg(author), sanitizeArg(comment))
}

func AcknowledgeServiceProblem(host, service, author, comment string) string {
	return fmt.Sprintf("ACKNOWLEDGE_SVC_PROBLEM;%s;%s;2;1;1;%s;%s",
		sanitizeArg(host), sanitizeArg(service), sanitizeArg(author), sanitizeArg(comment))
}

// sanitizeArg strips characters that would break the command framing.
func sanitizeArg(s string) string {
	s = strings.ReplaceAll(s, ";", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}
