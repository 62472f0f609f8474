// Package queue is the durable notification queue shared between the
// monitoring side (producer) and the bot side (dispatcher). Records live in
// a single text file, one record per line, rewritten whole on every
// mutation. Nothing is cached in memory between calls: every operation
// re-reads the file, so a second process observing the same path sees every
// completed mutation.
package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deexno/checkmk-telegram-plus/internal/fsstore"
)

const fieldSeparator = ";;"

// Record is one stored notification awaiting delivery. Records are never
// mutated after Append; they are only removed.
type Record struct {
	ID       string
	Event    string
	Priority int
	Created  time.Time
}

type OrderKey string

const (
	OrderByCreated  OrderKey = "created"
	OrderByPriority OrderKey = "priority"
)

type Options struct {
	Path     string
	LockRoot string
	// OrderBy selects the List sort key, default created. Ties keep
	// insertion order.
	OrderBy    OrderKey
	Descending bool
	// Now is overridable for tests.
	Now func() time.Time
}

type Store struct {
	path       string
	lockPath   string
	orderBy    OrderKey
	descending bool
	nowFn      func() time.Time
}

func NewStore(opts Options) (*Store, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("missing queue file path")
	}
	if strings.TrimSpace(opts.LockRoot) == "" {
		return nil, fmt.Errorf("missing lock root")
	}
	lockPath, err := fsstore.BuildLockPath(opts.LockRoot, "state.notify_queue")
	if err != nil {
		return nil, err
	}
	orderBy := opts.OrderBy
	switch orderBy {
	case "":
		orderBy = OrderByCreated
	case OrderByCreated, OrderByPriority:
	default:
		return nil, fmt.Errorf("invalid order key: %q", orderBy)
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Store{
		path:       path,
		lockPath:   lockPath,
		orderBy:    orderBy,
		descending: opts.Descending,
		nowFn:      nowFn,
	}, nil
}

// Append stores event as a new record and returns its id. The full record
// set is durably rewritten before Append returns.
func (s *Store) Append(ctx context.Context, event string, priority int) (string, error) {
	if s == nil {
		return "", fmt.Errorf("nil queue store")
	}
	if strings.TrimSpace(event) == "" {
		return "", fmt.Errorf("missing event payload")
	}
	rec := Record{
		ID:       uuid.NewString(),
		Event:    event,
		Priority: priority,
		Created:  s.nowFn().UTC(),
	}
	if err := fsstore.WithLock(ctx, s.lockPath, func() error {
		records, err := s.load()
		if err != nil {
			return err
		}
		records = append(records, rec)
		return s.save(records)
	}); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// List re-reads the backing file and returns records sorted by the
// configured key. A missing file yields an empty queue, not an error.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	if s == nil {
		return nil, fmt.Errorf("nil queue store")
	}
	var records []Record
	if err := fsstore.WithLock(ctx, s.lockPath, func() error {
		loaded, err := s.load()
		if err != nil {
			return err
		}
		records = loaded
		return nil
	}); err != nil {
		return nil, err
	}
	s.sortRecords(records)
	return records, nil
}

// Remove deletes the record with the given id. Removing an absent id is a
// no-op, so retrying after a crash between delivery and removal is safe.
func (s *Store) Remove(ctx context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("nil queue store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("missing record id")
	}
	return fsstore.WithLock(ctx, s.lockPath, func() error {
		records, err := s.load()
		if err != nil {
			return err
		}
		kept := records[:0]
		for _, rec := range records {
			if rec.ID != id {
				kept = append(kept, rec)
			}
		}
		if len(kept) == len(records) {
			return nil
		}
		return s.save(kept)
	})
}

func (s *Store) sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		var less bool
		switch s.orderBy {
		case OrderByPriority:
			less = records[i].Priority < records[j].Priority
		default:
			less = records[i].Created.Before(records[j].Created)
		}
		if s.descending {
			return !less && !equalByKey(s.orderBy, records[i], records[j])
		}
		return less
	})
}

func equalByKey(key OrderKey, a, b Record) bool {
	switch key {
	case OrderByPriority:
		return a.Priority == b.Priority
	default:
		return a.Created.Equal(b.Created)
	}
}

func (s *Store) load() ([]Record, error) {
	content, ok, err := fsstore.ReadText(s.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var records []Record
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, err := parseRecordLine(line)
		if err != nil {
			return nil, fmt.Errorf("queue file %s line %d: %w", s.path, i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) save(records []Record) error {
	var b strings.Builder
	for _, rec := range records {
		b.WriteString(formatRecordLine(rec))
		b.WriteByte('\n')
	}
	return fsstore.WriteTextAtomic(s.path, b.String())
}

// formatRecordLine renders event;;id;;priority;;created. The event field is
// strconv-quoted so payload bytes can never be confused with the separator
// or a newline.
func formatRecordLine(rec Record) string {
	return strings.Join([]string{
		strconv.Quote(rec.Event),
		rec.ID,
		strconv.Itoa(rec.Priority),
		rec.Created.Format(time.RFC3339Nano),
	}, fieldSeparator)
}

func parseRecordLine(line string) (Record, error) {
	parts := strings.Split(line, fieldSeparator)
	if len(parts) < 4 {
		return Record{}, fmt.Errorf("malformed record line")
	}
	// The quoted event field may itself contain the separator; the trailing
	// three fields never do, so rejoin everything before them.
	created := parts[len(parts)-1]
	priorityRaw := parts[len(parts)-2]
	id := strings.TrimSpace(parts[len(parts)-3])
	eventQuoted := strings.Join(parts[:len(parts)-3], fieldSeparator)

	event, err := strconv.Unquote(eventQuoted)
	if err != nil {
		return Record{}, fmt.Errorf("malformed event field: %v", err)
	}
	if id == "" {
		return Record{}, fmt.Errorf("missing record id")
	}
	priority, err := strconv.Atoi(strings.TrimSpace(priorityRaw))
	if err != nil {
		return Record{}, fmt.Errorf("malformed priority field: %v", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(created))
	if err != nil {
		return Record{}, fmt.Errorf("malformed created field: %v", err)
	}
	return Record{
		ID:       id,
		Event:    event,
		Priority: priority,
		Created:  createdAt,
	}, nil
}
