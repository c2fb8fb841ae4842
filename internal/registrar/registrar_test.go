package registrar

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"greenservers-backend/internal/bus"
	"greenservers-backend/internal/storage"
)

// fakeServerRepo mimics the unique-constraint behavior of the real table:
// inserting an existing (userID, hostname) pair is a no-op.
type fakeServerRepo struct {
	mu      sync.Mutex
	servers map[string]storage.ServerRecord
	inserts int
}

func newFakeServerRepo() *fakeServerRepo {
	return &fakeServerRepo{servers: map[string]storage.ServerRecord{}}
}

func (f *fakeServerRepo) GetServer(_ context.Context, userID, hostname string) (storage.ServerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.servers[userID+"/"+hostname]
	if !ok {
		return storage.ServerRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (f *fakeServerRepo) CreateServer(_ context.Context, userID, hostname string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	key := userID + "/" + hostname
	if existing, ok := f.servers[key]; ok {
		return existing.ID, nil
	}
	rec := storage.ServerRecord{ID: uuid.NewString(), UserID: userID, Hostname: hostname}
	f.servers[key] = rec
	return rec.ID, nil
}

func testRegistrar(repo ServerRepository) *Registrar {
	return &Registrar{Repo: repo, Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

func TestRegistrarCreatesServerOnFirstLogin(t *testing.T) {
	repo := newFakeServerRepo()
	reg := testRegistrar(repo)

	reg.HandleWatcherLogin(context.Background(), bus.WatcherLoginAttemptEvent{UserID: "u1", Hostname: "web-1", Success: true})

	assert.Len(t, repo.servers, 1)
	assert.Equal(t, 1, repo.inserts)
}

func TestRegistrarIdempotentOnRepeatLogin(t *testing.T) {
	repo := newFakeServerRepo()
	reg := testRegistrar(repo)
	evt := bus.WatcherLoginAttemptEvent{UserID: "u1", Hostname: "web-1", Success: true}

	reg.HandleWatcherLogin(context.Background(), evt)
	reg.HandleWatcherLogin(context.Background(), evt)

	assert.Len(t, repo.servers, 1)
	assert.Equal(t, 1, repo.inserts, "second login should no-op before the insert")
}

func TestRegistrarConcurrentLoginsSingleRecord(t *testing.T) {
	repo := newFakeServerRepo()
	reg := testRegistrar(repo)
	evt := bus.WatcherLoginAttemptEvent{UserID: "u1", Hostname: "web-1", Success: true}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.HandleWatcherLogin(context.Background(), evt)
		}()
	}
	wg.Wait()

	assert.Len(t, repo.servers, 1)
}

func TestRegistrarSeparateHostnamesSeparateRecords(t *testing.T) {
	repo := newFakeServerRepo()
	reg := testRegistrar(repo)

	reg.HandleWatcherLogin(context.Background(), bus.WatcherLoginAttemptEvent{UserID: "u1", Hostname: "web-1", Success: true})
	reg.HandleWatcherLogin(context.Background(), bus.WatcherLoginAttemptEvent{UserID: "u1", Hostname: "web-2", Success: true})

	assert.Len(t, repo.servers, 2)
}
