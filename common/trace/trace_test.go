package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/glum/common/trace"
)

func TestGenerateID(t *testing.T) {
	a, b := trace.GenerateID(), trace.GenerateID()
	if !strings.HasPrefix(a, "t_") {
		t.Errorf("missing prefix: %q", a)
	}
	if a == b {
		t.Errorf("ids should differ: %q", a)
	}
}

func TestEnsure(t *testing.T) {
	ctx := trace.Ensure(context.Background())
	id := trace.FromContext(ctx)
	if id == "" {
		t.Fatal("Ensure did not attach an id")
	}
	if got := trace.FromContext(trace.Ensure(ctx)); got != id {
		t.Errorf("Ensure replaced existing id: %q != %q", got, id)
	}
	if trace.FromContext(context.Background()) != "" {
		t.Error("empty context should have no id")
	}
}
