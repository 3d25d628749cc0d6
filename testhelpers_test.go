package lagoon

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// fakeProvider is an in-memory Provider with scripted states, call counters,
// and per-operation error injection. Shared across manager_test.go and
// reaper_test.go.
type fakeProvider struct {
	mu sync.Mutex

	instances map[string]Instance
	sessions  map[string]bool // "sandboxID/session"
	nextID    int
	lastSpec  CreateSpec

	createErr  error
	fetchErr   error // returned for every Fetch when set
	startErr   error
	deleteErr  map[string]error
	sessionErr error
	execErr    error

	creates        int
	fetches        int
	starts         int
	deletes        []string
	sessionCreates int
	execs          []string // "sandboxID: command", in order
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		instances: make(map[string]Instance),
		sessions:  make(map[string]bool),
		deleteErr: make(map[string]error),
	}
}

// add registers an existing instance in the given state.
func (p *fakeProvider) add(id string, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[id] = Instance{
		ID:    id,
		State: state,
		Previews: map[string]string{
			"novnc":   "https://6080-" + id + ".preview.test",
			"website": "https://8080-" + id + ".preview.test",
		},
	}
}

func (p *fakeProvider) Create(_ context.Context, spec CreateSpec) (Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	p.lastSpec = spec
	if p.createErr != nil {
		return Instance{}, p.createErr
	}
	p.nextID++
	id := fmt.Sprintf("sb-%d", p.nextID)
	inst := Instance{
		ID:    id,
		State: StateRunning,
		Previews: map[string]string{
			"novnc":   "https://6080-" + id + ".preview.test",
			"website": "https://8080-" + id + ".preview.test",
		},
	}
	p.instances[id] = inst
	return inst, nil
}

func (p *fakeProvider) Fetch(_ context.Context, id string) (Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.fetchErr != nil {
		return Instance{}, p.fetchErr
	}
	inst, ok := p.instances[id]
	if !ok {
		return Instance{}, fmt.Errorf("fetch %s: %w", id, ErrNotFound)
	}
	return inst, nil
}

func (p *fakeProvider) Start(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.startErr != nil {
		return p.startErr
	}
	inst, ok := p.instances[id]
	if !ok {
		return fmt.Errorf("start %s: %w", id, ErrNotFound)
	}
	inst.State = StateRunning
	p.instances[id] = inst
	return nil
}

func (p *fakeProvider) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes = append(p.deletes, id)
	if err := p.deleteErr[id]; err != nil {
		return err
	}
	if _, ok := p.instances[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(p.instances, id)
	return nil
}

func (p *fakeProvider) CreateSession(_ context.Context, id, session string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionCreates++
	if p.sessionErr != nil {
		return p.sessionErr
	}
	key := id + "/" + session
	if p.sessions[key] {
		return fmt.Errorf("session %s: %w", session, ErrSessionExists)
	}
	p.sessions[key] = true
	return nil
}

func (p *fakeProvider) ExecSession(_ context.Context, id, session, command string, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.execErr != nil {
		return p.execErr
	}
	p.execs = append(p.execs, id+": "+command)
	return nil
}

var _ Provider = (*fakeProvider)(nil)

// fakeDirectory is an in-memory Directory.
type fakeDirectory struct {
	mu sync.Mutex

	records map[string]Record

	getErr    error
	upsertErr error
	touchErr  error
	deleteErr map[string]error
	listErr   error

	upserts int
	touches int
	deleted []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		records:   make(map[string]Record),
		deleteErr: make(map[string]error),
	}
}

func (d *fakeDirectory) Get(_ context.Context, userID string) (Record, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.getErr != nil {
		return Record{}, false, d.getErr
	}
	rec, ok := d.records[userID]
	return rec, ok, nil
}

func (d *fakeDirectory) Upsert(_ context.Context, rec Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upserts++
	if d.upsertErr != nil {
		return d.upsertErr
	}
	d.records[rec.UserID] = rec
	return nil
}

func (d *fakeDirectory) Touch(_ context.Context, userID string, now int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touches++
	if d.touchErr != nil {
		return d.touchErr
	}
	rec, ok := d.records[userID]
	if !ok {
		return errors.New("no record for " + userID)
	}
	rec.LastActiveAt = now
	d.records[userID] = rec
	return nil
}

func (d *fakeDirectory) Delete(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.deleteErr[userID]; err != nil {
		return err
	}
	delete(d.records, userID)
	d.deleted = append(d.deleted, userID)
	return nil
}

func (d *fakeDirectory) List(_ context.Context) ([]Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]Record, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, rec)
	}
	return out, nil
}

func (d *fakeDirectory) Init(context.Context) error { return nil }
func (d *fakeDirectory) Close() error               { return nil }

var _ Directory = (*fakeDirectory)(nil)

// record returns the stored record for userID.
func (d *fakeDirectory) record(userID string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[userID]
	return rec, ok
}
