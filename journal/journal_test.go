package journal

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-softwarelab/common/pkg/seq"
	"github.com/lymar/actionkit"
)

var (
	addAction       = actionkit.CreateAction[int, any]("ADD")
	incrementAction = actionkit.CreateAction[struct{}, any]("INCREMENT")
	resetAction     = actionkit.CreateAction[struct{}, string]("RESET")
)

type counterState struct {
	Total   int
	Applied int
}

func counterReducer() *actionkit.ReducerBuilder[counterState] {
	return actionkit.CreateReducer(counterState{}).
		HandleAction(actionkit.Creators{addAction, incrementAction},
			func(st counterState, a actionkit.Action) counterState {
				if p, ok := addAction.Match(a); ok {
					st.Total += p
				} else {
					st.Total++
				}
				st.Applied++
				return st
			}).
		HandleAction(resetAction, func(st counterState, _ actionkit.Action) counterState {
			return counterState{Applied: st.Applied + 1}
		})
}

func testCodec(t *testing.T) *actionkit.Codec {
	t.Helper()
	codec, err := actionkit.NewCodec(addAction, incrementAction, resetAction)
	if err != nil {
		t.Fatal(err)
	}
	return codec
}

func openTemp(t *testing.T, opts ...Option) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, testCodec(t), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j, path
}

func collectEntries(t *testing.T, j *Journal, fromID uint64) []*Entry {
	t.Helper()
	var res []*Entry
	for e, err := range j.Entries(fromID) {
		if err != nil {
			t.Fatal(err)
		}
		res = append(res, e)
	}
	return res
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	j, path := openTemp(t, WithReadBatch(2))

	last, err := j.Append(addAction.New(3), incrementAction.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if last != 2 {
		t.Fatalf("last id %d, want 2", last)
	}
	last, err = j.Append(resetAction.NewWithMeta(struct{}{}, "manual"), addAction.New(5), addAction.New(1))
	if err != nil {
		t.Fatal(err)
	}
	if last != 5 || j.LatestID() != 5 {
		t.Fatalf("last id %d / %d, want 5", last, j.LatestID())
	}

	entries := collectEntries(t, j, 0)
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	for i, e := range entries {
		if e.ID != uint64(i+1) {
			t.Fatalf("entry %d has id %d", i, e.ID)
		}
		if e.Session != j.Session() {
			t.Fatalf("entry %d session %q, want %q", i, e.Session, j.Session())
		}
		if time.Since(e.ReadTimestamp()) > time.Minute {
			t.Fatalf("entry %d timestamp %v", i, e.ReadTimestamp())
		}
	}
	if m, ok := resetAction.MetaOf(entries[2].Action); !ok || m != "manual" {
		t.Fatalf("meta lost: %v %v", m, ok)
	}

	tail := collectEntries(t, j, 4)
	if len(tail) != 2 || tail[0].ID != 4 {
		t.Fatalf("tail from 4: %d entries", len(tail))
	}

	// reopening continues the sequence with a new session
	session := j.Session()
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	j2, err := Open(path, testCodec(t))
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()
	if j2.LatestID() != 5 || j2.Session() == session {
		t.Fatalf("reopened journal: latest %d, session %q", j2.LatestID(), j2.Session())
	}
	last, err = j2.Append(incrementAction.Empty())
	if err != nil {
		t.Fatal(err)
	}
	if last != 6 {
		t.Fatalf("last id after reopen %d, want 6", last)
	}
}

func TestAppendRejectsUnknownTypes(t *testing.T) {
	j, _ := openTemp(t)

	_, err := j.Append(addAction.New(1), actionkit.Action{Type: "UNKNOWN"})
	if !errors.Is(err, actionkit.ErrUnknownType) {
		t.Fatalf("append unknown: %v", err)
	}
	if j.LatestID() != 0 || len(collectEntries(t, j, 1)) != 0 {
		t.Fatalf("partial append was written")
	}
}

func TestAppendRejectsMistypedPayload(t *testing.T) {
	j, _ := openTemp(t)
	reducer := counterReducer()

	_, err := j.Append(addAction.New(1), actionkit.Action{Type: "ADD", Payload: "not an int"})
	if !errors.Is(err, actionkit.ErrPayloadType) {
		t.Fatalf("append mistyped payload: %v", err)
	}
	_, err = j.Append(actionkit.Action{Type: "RESET", Meta: 42})
	if !errors.Is(err, actionkit.ErrPayloadType) {
		t.Fatalf("append mistyped meta: %v", err)
	}
	if j.LatestID() != 0 || len(collectEntries(t, j, 1)) != 0 {
		t.Fatalf("mistyped append was written")
	}

	if _, err := j.Append(addAction.New(3), incrementAction.Empty()); err != nil {
		t.Fatal(err)
	}
	st, err := Replay(j, reducer.Func(), reducer.InitialState())
	if err != nil {
		t.Fatal(err)
	}
	if st != (counterState{Total: 4, Applied: 2}) {
		t.Fatalf("replayed state %+v", st)
	}
}

func TestReplayMatchesDirectFold(t *testing.T) {
	j, _ := openTemp(t)
	reducer := counterReducer()

	actions := []actionkit.Action{
		addAction.New(10),
		incrementAction.Empty(),
		resetAction.Empty(),
		addAction.New(4),
		incrementAction.Empty(),
	}
	if _, err := j.Append(actions...); err != nil {
		t.Fatal(err)
	}

	want := reducer.Func().Fold(reducer.InitialState(), seq.FromSlice(actions))
	got, err := Replay(j, reducer.Func(), reducer.InitialState())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("replay %+v, direct fold %+v", got, want)
	}
	if got.Total != 5 || got.Applied != 5 {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestProjectCatchesUp(t *testing.T) {
	j, _ := openTemp(t)
	reducer := counterReducer()

	st, err := Project(j, "counter", "v1", reducer.Func(), reducer.InitialState())
	if err != nil {
		t.Fatal(err)
	}
	if st != (counterState{}) {
		t.Fatalf("empty journal projection %+v", st)
	}

	if _, err := j.Append(addAction.New(2), addAction.New(3)); err != nil {
		t.Fatal(err)
	}
	st, err = Project(j, "counter", "v1", reducer.Func(), reducer.InitialState())
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 5 || st.Applied != 2 {
		t.Fatalf("first projection %+v", st)
	}

	// a reducer that counts calls shows that only new entries are reduced
	calls := 0
	counting := func(s counterState, a actionkit.Action) counterState {
		calls++
		return reducer.Reduce(s, a)
	}

	if _, err := j.Append(incrementAction.Empty()); err != nil {
		t.Fatal(err)
	}
	st, err = Project(j, "counter", "v1", counting, reducer.InitialState())
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || st.Total != 6 || st.Applied != 3 {
		t.Fatalf("incremental projection: %d calls, %+v", calls, st)
	}

	calls = 0
	st, err = Project(j, "counter", "v2", counting, reducer.InitialState())
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 || st.Total != 6 {
		t.Fatalf("rebuilt projection: %d calls, %+v", calls, st)
	}

	if err := j.DropProjection("counter"); err != nil {
		t.Fatal(err)
	}
	if err := j.DropProjection("never-existed"); err != nil {
		t.Fatal(err)
	}
	calls = 0
	if _, err := Project(j, "counter", "v2", counting, reducer.InitialState()); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("dropped projection reduced %d entries, want 3", calls)
	}
}

func TestSubscribe(t *testing.T) {
	j, _ := openTemp(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch := j.Subscribe(ctx)

	if _, err := j.Append(addAction.New(1), addAction.New(2)); err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-ch:
		if id != 2 {
			t.Fatalf("notified id %d, want 2", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no notification")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected notification after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscription not closed")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, testCodec(t))
	if err != nil {
		t.Fatal(err)
	}
	ch := j.Subscribe(context.Background())
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected notification")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("subscription not closed")
	}
}

func TestBackupRestore(t *testing.T) {
	j, _ := openTemp(t)
	reducer := counterReducer()

	actions := []actionkit.Action{
		addAction.New(7),
		resetAction.NewWithMeta(struct{}{}, "test"),
		addAction.New(2),
		incrementAction.Empty(),
	}
	if _, err := j.Append(actions...); err != nil {
		t.Fatal(err)
	}
	want, err := Project(j, "counter", "v1", reducer.Func(), reducer.InitialState())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := j.BackupTo(context.Background(), 5, &buf); err != nil {
		t.Fatal(err)
	}

	restoredPath := filepath.Join(t.TempDir(), "restored.db")
	if err := Restore(context.Background(), restoredPath, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
	if err := Restore(context.Background(), restoredPath, bytes.NewReader(buf.Bytes())); !errors.Is(err, ErrJournalExists) {
		t.Fatalf("restore over existing file: %v", err)
	}

	restored, err := Open(restoredPath, testCodec(t))
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()

	if restored.LatestID() != 4 {
		t.Fatalf("restored latest id %d", restored.LatestID())
	}
	orig := collectEntries(t, j, 1)
	got := collectEntries(t, restored, 1)
	if !slices.EqualFunc(orig, got, func(a, b *Entry) bool {
		return a.ID == b.ID && a.Session == b.Session &&
			a.Timestamp == b.Timestamp && a.Action == b.Action
	}) {
		t.Fatalf("restored entries differ")
	}

	calls := 0
	st, err := Project(restored, "counter", "v1", func(s counterState, a actionkit.Action) counterState {
		calls++
		return reducer.Reduce(s, a)
	}, reducer.InitialState())
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 || st != want {
		t.Fatalf("restored projection: %d calls, %+v, want %+v", calls, st, want)
	}
}

func TestRestoreRemovesFileOnBadBackup(t *testing.T) {
	j, _ := openTemp(t)
	if _, err := j.Append(addAction.New(5)); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := j.BackupTo(context.Background(), 5, &buf); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "restored.db")
	if err := Restore(context.Background(), path, strings.NewReader("garbage")); err == nil {
		t.Fatalf("restore from garbage succeeded")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("failed restore left %s behind: %v", path, err)
	}

	if err := Restore(context.Background(), path, &buf); err != nil {
		t.Fatalf("retry after failed restore: %v", err)
	}
	restored, err := Open(path, testCodec(t))
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()
	if restored.LatestID() != 1 {
		t.Fatalf("restored latest id %d", restored.LatestID())
	}
}

func TestWriteBackupHonoursContext(t *testing.T) {
	items := make([]backupItem, 0, 2*checkEvery)
	for i := range 2 * checkEvery {
		items = append(items, backupItem{Entry: &backupEntry{ID: uint64(i + 1), Data: []byte("x")}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := writeBackup(ctx, &buf, 1, seq.FromSlice(items))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("writeBackup with cancelled context: %v", err)
	}

	buf.Reset()
	if err := writeBackup(context.Background(), &buf, 1, seq.FromSlice(items)); err != nil {
		t.Fatal(err)
	}
	n := 0
	for item, err := range loadBackup(&buf) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if item.Entry == nil || item.Entry.ID != uint64(n) {
			t.Fatalf("item %d out of order", n)
		}
	}
	if n != len(items) {
		t.Fatalf("loaded %d items, want %d", n, len(items))
	}
}
