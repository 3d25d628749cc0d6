package lagoon

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestResolveCreatesWhenNoRecord(t *testing.T) {
	prov := newFakeProvider()
	dir := newFakeDirectory()
	mgr := NewManager(prov, dir, WithClock(func() int64 { return 1000 }))

	handle, err := mgr.Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if prov.creates != 1 {
		t.Errorf("creates = %d, want 1", prov.creates)
	}
	rec, ok := dir.record("u1")
	if !ok {
		t.Fatal("no record stored")
	}
	if rec.SandboxID != handle.SandboxID {
		t.Errorf("record sandbox %q != handle sandbox %q", rec.SandboxID, handle.SandboxID)
	}
	if rec.Credential == "" || rec.Credential != handle.Credential {
		t.Errorf("credential mismatch: record %q, handle %q", rec.Credential, handle.Credential)
	}
	if rec.LastActiveAt != 1000 {
		t.Errorf("LastActiveAt = %d, want 1000", rec.LastActiveAt)
	}
	if prov.sessionCreates != 1 || len(prov.execs) != 1 {
		t.Errorf("bootstrap: %d session creates, %d execs, want 1 and 1",
			prov.sessionCreates, len(prov.execs))
	}
	if got := prov.lastSpec.EnvVars[credentialEnvVar]; got != handle.Credential {
		t.Errorf("credential env var = %q, want %q", got, handle.Credential)
	}
	if handle.Previews["novnc"] == "" || handle.Previews["website"] == "" {
		t.Errorf("missing preview URLs: %v", handle.Previews)
	}
}

func TestResolveRunningOnlyTouches(t *testing.T) {
	prov := newFakeProvider()
	prov.add("sb-live", StateRunning)
	dir := newFakeDirectory()
	dir.records["u1"] = Record{UserID: "u1", SandboxID: "sb-live", Credential: "secret", LastActiveAt: 5}
	mgr := NewManager(prov, dir, WithClock(func() int64 { return 2000 }))

	handle, err := mgr.Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if prov.creates != 0 || prov.starts != 0 {
		t.Errorf("creates = %d, starts = %d, want 0 and 0", prov.creates, prov.starts)
	}
	if handle.SandboxID != "sb-live" || handle.Credential != "secret" {
		t.Errorf("handle = %+v", handle)
	}
	rec, _ := dir.record("u1")
	if rec.LastActiveAt != 2000 {
		t.Errorf("LastActiveAt = %d, want 2000", rec.LastActiveAt)
	}
	if prov.sessionCreates != 0 {
		t.Errorf("running sandbox should not bootstrap, got %d session creates", prov.sessionCreates)
	}
}

func TestResolveStartsStoppedSandbox(t *testing.T) {
	for _, state := range []State{StateStopped, StateArchived} {
		t.Run(string(state), func(t *testing.T) {
			prov := newFakeProvider()
			prov.add("sb-old", state)
			dir := newFakeDirectory()
			dir.records["u2"] = Record{UserID: "u2", SandboxID: "sb-old", Credential: "c"}
			mgr := NewManager(prov, dir)

			handle, err := mgr.Resolve(context.Background(), "u2")
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}

			if prov.starts != 1 {
				t.Errorf("starts = %d, want 1", prov.starts)
			}
			if prov.creates != 0 {
				t.Errorf("creates = %d, want 0", prov.creates)
			}
			if handle.SandboxID != "sb-old" {
				t.Errorf("sandbox id changed to %q", handle.SandboxID)
			}
			if handle.State != StateRunning {
				t.Errorf("state after re-fetch = %q, want running", handle.State)
			}
			// Restart bootstraps the supervisor session again.
			if prov.sessionCreates != 1 {
				t.Errorf("session creates = %d, want 1", prov.sessionCreates)
			}
			rec, _ := dir.record("u2")
			if rec.SandboxID != "sb-old" {
				t.Errorf("record sandbox id = %q, want sb-old", rec.SandboxID)
			}
		})
	}
}

func TestResolveRecreatesWhenRemoteGone(t *testing.T) {
	prov := newFakeProvider()
	dir := newFakeDirectory()
	dir.records["u3"] = Record{UserID: "u3", SandboxID: "sb-dead", Credential: "old"}
	mgr := NewManager(prov, dir)

	handle, err := mgr.Resolve(context.Background(), "u3")
	if err != nil {
		t.Fatalf("resolve should recover from not-found, got %v", err)
	}

	if prov.creates != 1 {
		t.Errorf("creates = %d, want 1", prov.creates)
	}
	rec, _ := dir.record("u3")
	if rec.SandboxID == "sb-dead" || rec.SandboxID != handle.SandboxID {
		t.Errorf("record sandbox id = %q, handle %q", rec.SandboxID, handle.SandboxID)
	}
	if rec.Credential == "old" {
		t.Error("credential should be regenerated with the new sandbox")
	}
}

func TestResolveRecreatesOnFetchTimeout(t *testing.T) {
	prov := newFakeProvider()
	prov.fetchErr = context.DeadlineExceeded
	dir := newFakeDirectory()
	dir.records["u4"] = Record{UserID: "u4", SandboxID: "sb-slow"}
	mgr := NewManager(prov, dir)

	if _, err := mgr.Resolve(context.Background(), "u4"); err != nil {
		t.Fatalf("fetch timeout should fall through to create, got %v", err)
	}
	if prov.creates != 1 {
		t.Errorf("creates = %d, want 1", prov.creates)
	}
}

func TestResolveIdempotent(t *testing.T) {
	prov := newFakeProvider()
	dir := newFakeDirectory()
	mgr := NewManager(prov, dir)

	first, err := mgr.Resolve(context.Background(), "u5")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := mgr.Resolve(context.Background(), "u5")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	if first.SandboxID != second.SandboxID {
		t.Errorf("sandbox ids differ: %q vs %q", first.SandboxID, second.SandboxID)
	}
	if prov.creates != 1 {
		t.Errorf("creates = %d, want 1", prov.creates)
	}
}

func TestResolveEmptyUserID(t *testing.T) {
	mgr := NewManager(newFakeProvider(), newFakeDirectory())
	if _, err := mgr.Resolve(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestResolveCreateFailureSurfacesProvisionError(t *testing.T) {
	prov := newFakeProvider()
	prov.createErr = errors.New("quota exceeded")
	dir := newFakeDirectory()
	mgr := NewManager(prov, dir)

	_, err := mgr.Resolve(context.Background(), "u6")
	var pe *ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProvisionError, got %v", err)
	}
	if pe.Op != "create" {
		t.Errorf("op = %q, want create", pe.Op)
	}
	if _, ok := dir.record("u6"); ok {
		t.Error("no record should be stored after a failed create")
	}
}

func TestResolveStartFailureSurfacesProvisionError(t *testing.T) {
	prov := newFakeProvider()
	prov.add("sb-stuck", StateStopped)
	prov.startErr = errors.New("invalid state transition")
	dir := newFakeDirectory()
	dir.records["u7"] = Record{UserID: "u7", SandboxID: "sb-stuck"}
	mgr := NewManager(prov, dir)

	_, err := mgr.Resolve(context.Background(), "u7")
	var pe *ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProvisionError, got %v", err)
	}
	if pe.Op != "start" || pe.SandboxID != "sb-stuck" {
		t.Errorf("unexpected error detail: %+v", pe)
	}
	if prov.creates != 0 {
		t.Errorf("start failure must not trigger a new allocation, creates = %d", prov.creates)
	}
}

func TestResolveBootstrapFailureKeepsAllocation(t *testing.T) {
	prov := newFakeProvider()
	prov.execErr = errors.New("supervisord crashed")
	dir := newFakeDirectory()
	mgr := NewManager(prov, dir)

	_, err := mgr.Resolve(context.Background(), "u8")
	var be *BootstrapError
	if !errors.As(err, &be) {
		t.Fatalf("want BootstrapError, got %v", err)
	}

	// The sandbox stays allocated and recorded so a retry reuses it.
	rec, ok := dir.record("u8")
	if !ok || rec.SandboxID == "" {
		t.Fatal("record should survive a bootstrap failure")
	}
	prov.execErr = nil
	handle, err := mgr.Resolve(context.Background(), "u8")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if handle.SandboxID != rec.SandboxID {
		t.Errorf("retry allocated a new sandbox: %q vs %q", handle.SandboxID, rec.SandboxID)
	}
	if prov.creates != 1 {
		t.Errorf("creates = %d, want 1", prov.creates)
	}
}

func TestResolveSessionExistsIsNoOp(t *testing.T) {
	prov := newFakeProvider()
	prov.add("sb-warm", StateStopped)
	prov.sessions["sb-warm/"+DefaultBootstrapSession] = true
	dir := newFakeDirectory()
	dir.records["u9"] = Record{UserID: "u9", SandboxID: "sb-warm"}
	mgr := NewManager(prov, dir)

	if _, err := mgr.Resolve(context.Background(), "u9"); err != nil {
		t.Fatalf("existing session must not fail resolve: %v", err)
	}
	if len(prov.execs) != 0 {
		t.Errorf("supervisor re-exec'd into an existing session: %v", prov.execs)
	}
}

func TestResolveDirectoryFailureSurfaces(t *testing.T) {
	prov := newFakeProvider()
	dir := newFakeDirectory()
	dir.getErr = errors.New("connection refused")
	mgr := NewManager(prov, dir)

	_, err := mgr.Resolve(context.Background(), "u10")
	var de *DirectoryError
	if !errors.As(err, &de) {
		t.Fatalf("want DirectoryError, got %v", err)
	}
	if prov.creates != 0 {
		t.Error("no sandbox should be created when the directory is down")
	}
}

func TestResolveConcurrentCallsCoalesce(t *testing.T) {
	prov := newFakeProvider()
	dir := newFakeDirectory()
	mgr := NewManager(prov, dir)

	const callers = 16
	handles := make([]Handle, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = mgr.Resolve(context.Background(), "u11")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if handles[i].SandboxID != handles[0].SandboxID {
			t.Fatalf("caller %d got %q, caller 0 got %q", i, handles[i].SandboxID, handles[0].SandboxID)
		}
	}
	// All callers in the first wave share one creation; stragglers that
	// arrive after it finished reuse via the directory, never create.
	if prov.creates != 1 {
		t.Errorf("creates = %d, want 1", prov.creates)
	}
}
