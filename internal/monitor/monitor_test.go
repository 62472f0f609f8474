package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deexno/checkmk-telegram-plus/internal/livestatus"
)

// fakeBackend answers queries by matching a substring of the rendered
// request and records every external command.
type fakeBackend struct {
	rows     map[string][][]any
	err      error
	queries  []string
	commands []string
}

func (f *fakeBackend) Query(_ context.Context, q livestatus.Query) ([][]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	rendered, err := q.Render()
	if err != nil {
		return nil, err
	}
	f.queries = append(f.queries, rendered)
	for needle, rows := range f.rows {
		if strings.Contains(rendered, needle) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) Command(_ context.Context, command string) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, command)
	return nil
}

func newTestSource(t *testing.T, backend *fakeBackend) *Source {
	t.Helper()
	src, err := New(backend, backend)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return src
}

func TestHostgroupsSorted(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{rows: map[string][][]any{
		"GET hostgroups": {{"web"}, {"db"}, {"infra"}},
	}}
	src := newTestSource(t, backend)

	groups, err := src.Hostgroups(context.Background())
	if err != nil {
		t.Fatalf("Hostgroups() error = %v", err)
	}
	want := []string{"db", "infra", "web"}
	for i := range want {
		if groups[i] != want[i] {
			t.Fatalf("Hostgroups() = %v, want %v", groups, want)
		}
	}
}

func TestHostStatus(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{rows: map[string][][]any{
		"Filter: name = web01": {{float64(0)}},
	}}
	src := newTestSource(t, backend)

	state, err := src.HostStatus(context.Background(), "web01")
	if err != nil {
		t.Fatalf("HostStatus() error = %v", err)
	}
	if state != 0 {
		t.Fatalf("HostStatus() = %d, want 0", state)
	}

	if _, err := src.HostStatus(context.Background(), "ghost"); err == nil {
		t.Fatalf("HostStatus(ghost) expected error for unknown host")
	}
}

func TestServiceProblemsSortedWorstFirst(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{rows: map[string][][]any{
		"GET servicesbyhostgroup": {
			{"web01", "CPU load", float64(1)},
			{"web02", "HTTP", float64(2)},
			{"web03", "Disk", float64(1)},
		},
	}}
	src := newTestSource(t, backend)

	problems, err := src.ServiceProblems(context.Background(), "web")
	if err != nil {
		t.Fatalf("ServiceProblems() error = %v", err)
	}
	if len(problems) != 3 {
		t.Fatalf("ServiceProblems() = %d rows, want 3", len(problems))
	}
	if problems[0].Host != "web02" {
		t.Fatalf("worst problem = %+v, want web02 first", problems[0])
	}
	// Equal states keep query order.
	if problems[1].Host != "web01" || problems[2].Host != "web03" {
		t.Fatalf("tie order = %v/%v, want web01/web03", problems[1].Host, problems[2].Host)
	}

	if len(backend.queries) != 1 || !strings.Contains(backend.queries[0], "Or: 3") {
		t.Fatalf("query = %v, want Or: 3 combinator", backend.queries)
	}
}

func TestRecheckAndAcknowledgeCommands(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	src := newTestSource(t, backend)
	ctx := context.Background()

	if err := src.RecheckHost(ctx, "web01"); err != nil {
		t.Fatalf("RecheckHost() error = %v", err)
	}
	if err := src.RecheckService(ctx, "web01", "CPU load"); err != nil {
		t.Fatalf("RecheckService() error = %v", err)
	}
	if err := src.AcknowledgeService(ctx, "web01", "CPU load", "bot", "on it"); err != nil {
		t.Fatalf("AcknowledgeService() error = %v", err)
	}

	if len(backend.commands) != 3 {
		t.Fatalf("commands = %d, want 3", len(backend.commands))
	}
	if !strings.HasPrefix(backend.commands[0], "SCHEDULE_FORCED_HOST_CHECK;web01;") {
		t.Fatalf("commands[0] = %q", backend.commands[0])
	}
	if !strings.HasPrefix(backend.commands[1], "SCHEDULE_FORCED_SVC_CHECK;web01;CPU load;") {
		t.Fatalf("commands[1] = %q", backend.commands[1])
	}
	if !strings.HasPrefix(backend.commands[2], "ACKNOWLEDGE_SVC_PROBLEM;web01;CPU load;") {
		t.Fatalf("commands[2] = %q", backend.commands[2])
	}
}

func TestStateDetails(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in        any
		wantEmoji string
		wantText  string
	}{
		{0, "✅", "OK"},
		{float64(0), "✅", "OK"},
		{"OK", "✅", "OK"},
		{"UP", "✅", "OK"},
		{1, "⚠️", "WARN"},
		{"WARN", "⚠️", "WARN"},
		{2, "🛑", "CRIT"},
		{"DOWN", "🛑", "CRIT"},
		{3, "🟠", "UNKNOWN"},
		{"UNKN", "🟠", "UNKNOWN"},
		{99, "", "???"},
		{"FLAPPING", "", "???"},
	}
	for _, tc := range cases {
		emoji, text := StateDetails(tc.in)
		if emoji != tc.wantEmoji || text != tc.wantText {
			t.Fatalf("StateDetails(%v) = (%q, %q), want (%q, %q)",
				tc.in, emoji, text, tc.wantEmoji, tc.wantText)
		}
	}
}

func TestParseMetrics(t *testing.T) {
	t.Parallel()

	metrics := ParseMetrics("load1=0.52;5;10;0;8 load5=0.30;5;10;0;8 uptime")
	if len(metrics) != 2 {
		t.Fatalf("ParseMetrics() = %d metrics, want 2", len(metrics))
	}
	if metrics[0].Name != "load1" || metrics[0].Value != "0.52" {
		t.Fatalf("metrics[0] = %+v, want load1=0.52", metrics[0])
	}
	if metrics[1].Name != "load5" || metrics[1].Value != "0.30" {
		t.Fatalf("metrics[1] = %+v, want load5=0.30", metrics[1])
	}

	if got := ParseMetrics(""); got != nil {
		t.Fatalf("ParseMetrics(empty) = %v, want nil", got)
	}
}

func TestChunkGraphs(t *testing.T) {
	t.Parallel()

	images := make([][]byte, 23)
	for i := range images {
		images[i] = []byte{byte(i)}
	}
	chunks := ChunkGraphs(images, 10)
	if len(chunks) != 3 {
		t.Fatalf("ChunkGraphs() = %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[1]) != 10 || len(chunks[2]) != 3 {
		t.Fatalf("chunk sizes = %d/%d/%d, want 10/10/3",
			len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	if got := ChunkGraphs(nil, 10); got != nil {
		t.Fatalf("ChunkGraphs(nil) = %v, want nil", got)
	}
}

func TestGraphFetcher(t *testing.T) {
	t.Parallel()

	img := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/mon/check_mk/ajax_graph_images.py") {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("host") != "web01" || r.URL.Query().Get("service") != "CPU load" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode([]string{base64.StdEncoding.EncodeToString(img)})
	}))
	defer srv.Close()

	fetcher, err := NewGraphFetcher(srv.Client(), srv.URL, "mon")
	if err != nil {
		t.Fatalf("NewGraphFetcher() error = %v", err)
	}
	images, err := fetcher.FetchGraphs(context.Background(), "web01", "CPU load")
	if err != nil {
		t.Fatalf("FetchGraphs() error = %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("FetchGraphs() = %d images, want 1", len(images))
	}
	if string(images[0]) != string(img) {
		t.Fatalf("image roundtrip mismatch")
	}
}
