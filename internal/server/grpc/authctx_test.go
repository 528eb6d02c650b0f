package grpcserver

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gamestats/internal/model"
)

func TestWithCaller_And_CallerFromCtx(t *testing.T) {
	t.Parallel()

	if c, ok := CallerFromCtx(context.Background()); ok || c.ID != uuid.Nil {
		t.Fatalf("expected no caller in empty ctx")
	}

	want := Caller{ID: uuid.Must(uuid.NewV4()), Role: model.RoleSuperAdmin}
	ctx := WithCaller(context.Background(), want)

	got, ok := CallerFromCtx(ctx)
	if !ok {
		t.Fatalf("expected caller in ctx")
	}
	if got != want {
		t.Fatalf("mismatch: got %+v, want %+v", got, want)
	}
	if adminSource(ctx) != "admin:"+want.ID.String() {
		t.Fatalf("source mismatch: %s", adminSource(ctx))
	}

	bad := context.WithValue(context.Background(), callerKey, "not-a-caller")
	if _, ok := CallerFromCtx(bad); ok {
		t.Fatalf("expected miss on wrong typed value")
	}
}
