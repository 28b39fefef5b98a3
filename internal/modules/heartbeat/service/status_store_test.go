package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"grid_bot/internal/models"
	"grid_bot/internal/modules/storage/service/memory"
)

type fakeKV struct {
	data map[string]string
	ttl  map[string]time.Duration
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	f.data[key] = value.(string)
	f.ttl[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.data[k]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func newStores(t *testing.T) (*StatusStore, *memory.Store, *fakeKV) {
	t.Helper()
	mem, err := memory.New("")
	if err != nil {
		t.Fatal(err)
	}
	kv := newFakeKV()
	return NewStatusStore(mem, NewCache(kv, "test:", time.Minute), zaptest.NewLogger(t)), mem, kv
}

func TestHeartbeatWritesCacheWithTTL(t *testing.T) {
	ctx := context.Background()
	st, _, kv := newStores(t)
	at := time.Now().Truncate(time.Second)

	if err := st.Heartbeat(ctx, 3, "MONITORING", at); err != nil {
		t.Fatal(err)
	}
	if kv.ttl["test:hb:3"] != time.Minute {
		t.Fatalf("ttl = %v", kv.ttl["test:hb:3"])
	}
	b, ok, err := st.cache.Get(ctx, 3)
	if err != nil || !ok || b.State != "MONITORING" || !b.At.Equal(at) {
		t.Fatalf("beat = %+v ok=%v err=%v", b, ok, err)
	}
}

func TestFresherBeatOverlaysStoredStatus(t *testing.T) {
	ctx := context.Background()
	st, mem, _ := newStores(t)
	old := time.Now().Add(-time.Hour)

	_ = st.UpdateRunStatus(ctx, models.RunStatusRecord{UserID: 1, Status: models.StatusRunning, RunID: "r", State: "ENTERING", LastHeartbeat: old})
	// в БД пульс не доехал: только в кэше
	fresh := time.Now()
	_ = st.cache.Put(ctx, Beat{UserID: 1, State: "LADDERING", At: fresh})

	rec, ok, err := st.GetRunStatus(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if rec.State != "LADDERING" || !rec.LastHeartbeat.Equal(fresh) {
		t.Fatalf("overlay not applied: %+v", rec)
	}

	stored, _, _ := mem.GetRunStatus(ctx, 1)
	if stored.State != "ENTERING" {
		t.Fatalf("underlying store changed by read: %+v", stored)
	}

	list, _ := st.ListRunStatuses(ctx)
	if len(list) != 1 || list[0].State != "LADDERING" {
		t.Fatalf("list overlay: %+v", list)
	}
}

func TestFinalStatusDropsBeat(t *testing.T) {
	ctx := context.Background()
	st, _, kv := newStores(t)

	_ = st.UpdateRunStatus(ctx, models.RunStatusRecord{UserID: 2, Status: models.StatusRunning})
	if _, ok := kv.data["test:hb:2"]; !ok {
		t.Fatal("running status should publish a beat")
	}
	_ = st.UpdateRunStatus(ctx, models.RunStatusRecord{UserID: 2, Status: models.StatusStopped, State: "TERMINATED"})
	if _, ok := kv.data["test:hb:2"]; ok {
		t.Fatal("stopped run must not keep a beat")
	}
	rec, _, _ := st.GetRunStatus(ctx, 2)
	if rec.Status != models.StatusStopped || rec.State != "TERMINATED" {
		t.Fatalf("status = %+v", rec)
	}
}

func TestWithoutCachePassesThrough(t *testing.T) {
	ctx := context.Background()
	mem, _ := memory.New("")
	st := NewStatusStore(mem, nil, zaptest.NewLogger(t))

	_ = st.Heartbeat(ctx, 4, "NO_POSITION", time.Now())
	rec, ok, err := st.GetRunStatus(ctx, 4)
	if err != nil || !ok || rec.State != "NO_POSITION" {
		t.Fatalf("rec = %+v ok=%v err=%v", rec, ok, err)
	}
}
