package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossmedia/fourallportal/internal/model"
)

func recordingMapper(calls *[]string, name string) Mapper {
	return MapperFunc(func(_ context.Context, _ model.Module, ev model.Event) error {
		*calls = append(*calls, name+":"+ev.Target)
		return nil
	})
}

func TestRegistry_RegisterAndApply(t *testing.T) {
	var calls []string
	r := NewRegistry()
	require.NoError(t, r.Register("product", recordingMapper(&calls, "product")))

	err := r.Apply(context.Background(), model.Module{MappingClass: "product"}, model.Event{Target: "p1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"product:p1"}, calls)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	noop := MapperFunc(func(context.Context, model.Module, model.Event) error { return nil })

	require.NoError(t, r.Register("product", noop))
	assert.Error(t, r.Register("product", noop), "duplicate")
	assert.Error(t, r.Register(" ", noop), "empty name")
	assert.Error(t, r.Register("asset", nil), "nil mapper")
}

func TestRegistry_UnknownMapping(t *testing.T) {
	r := NewRegistry()
	err := r.Apply(context.Background(), model.Module{ModuleName: "products", MappingClass: "nope"}, model.Event{})
	assert.ErrorIs(t, err, ErrUnknownMapping)
	assert.False(t, model.IsFatal(err), "unknown mapping is a per-event failure")
}

func TestRegistry_Dynamic(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.SetDynamicMapper(recordingMapper(&calls, "dynamic"))
	require.NoError(t, r.Register("product", recordingMapper(&calls, "product")))
	r.RegisterDynamic("asset")

	ctx := context.Background()
	require.NoError(t, r.Apply(ctx, model.Module{MappingClass: "asset"}, model.Event{Target: "a"}))
	require.NoError(t, r.Apply(ctx, model.Module{MappingClass: "custom", EnableDynamicModel: true}, model.Event{Target: "c"}))
	require.NoError(t, r.Apply(ctx, model.Module{MappingClass: "product", EnableDynamicModel: true}, model.Event{Target: "p"}))

	assert.Equal(t, []string{"dynamic:a", "dynamic:c", "product:p"}, calls)
	assert.True(t, r.IsDynamic(model.Module{MappingClass: "asset"}))
	assert.False(t, r.IsDynamic(model.Module{MappingClass: "product"}))
	assert.Equal(t, []string{"asset", "product"}, r.Classes())
}

func TestRegistry_DynamicWithoutMapper(t *testing.T) {
	r := NewRegistry()
	r.RegisterDynamic("asset")
	_, err := r.Resolve(model.Module{MappingClass: "asset"})
	assert.ErrorIs(t, err, ErrUnknownMapping)
}

func TestRegistry_MapperErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	require.NoError(t, r.Register("x", MapperFunc(func(context.Context, model.Module, model.Event) error {
		return model.Fatal(boom)
	})))

	err := r.Apply(context.Background(), model.Module{MappingClass: "x"}, model.Event{})
	assert.ErrorIs(t, err, boom)
	assert.True(t, model.IsFatal(err))
}
