package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/fx/fxtest"

	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/storage/memory"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("SERVER_ADDR", "127.0.0.1:0")
	t.Setenv("REDIS_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("PUSH_SERVICE_URL", "")
}

func TestModuleGraphIsComplete(t *testing.T) {
	if err := fx.ValidateApp(fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }), Module(Params{Memory: true})); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryModeStartsAndServes(t *testing.T) {
	memoryEnv(t)

	var (
		h   http.Handler
		st  storage.Store
		svc *service.Service
		b   *bus.Bus
	)
	app := fxtest.New(t,
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
		Module(Params{Memory: true}),
		fx.Populate(&h, &st, &svc, &b),
	)
	app.RequireStart()
	defer app.RequireStop()

	if _, ok := st.(*memory.Store); !ok {
		t.Fatalf("store is %T, want memory store", st)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: got %d", rec.Code)
	}

	// Исход ядра доходит до подписчиков шины, собранных модулем.
	events, unsubscribe := b.Subscribe("test", "conversation.", 4)
	defer unsubscribe()
	if _, err := svc.CreateGroup(t.Context(), service.CreateGroupInput{OwnerID: "alice", Name: "team", MemberIDs: []string{"bob"}}); err != nil {
		t.Fatal(err)
	}
	if evt := <-events; evt.Kind != bus.KindMembersChanged {
		t.Errorf("got %s, want %s", evt.Kind, bus.KindMembersChanged)
	}
}
