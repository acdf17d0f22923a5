package registry

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/tcprest/internal/mapper"
)

type calculator struct{}

func (calculator) Add(a, b int) int     { return a + b }
func (calculator) Greet() string        { return "hi" }
func (calculator) unexported() struct{} { return struct{}{} } //nolint:unused

type counter struct{ n atomic.Int64 }

func (c *counter) Next() int64 { return c.n.Add(1) }

type chanResource struct{}

func (chanResource) Stream() chan int { return nil }
func (chanResource) Fine() int        { return 0 }

func newRegistry(strict bool) *Registry {
	return New(mapper.NewRegistry(), strict)
}

func TestAddNamedAndLookup(t *testing.T) {
	r := newRegistry(false)
	require.NoError(t, r.AddNamed("Calculator", calculator{}))

	res, ok := r.Lookup("Calculator")
	require.True(t, ok)
	assert.Equal(t, "Calculator", res.Name)

	_, ok = r.Lookup("Nope")
	assert.False(t, ok)
}

func TestMethodResolution(t *testing.T) {
	r := newRegistry(false)
	require.NoError(t, r.AddNamed("Calculator", calculator{}))
	res, _ := r.Lookup("Calculator")

	t.Run("by descriptor", func(t *testing.T) {
		m, err := res.MethodByDescriptor("add", "(II)")
		require.NoError(t, err)
		assert.Equal(t, "Add", m.Name)

		_, err = res.MethodByDescriptor("add", "(I)")
		assert.Error(t, err)
	})

	t.Run("by name both spellings", func(t *testing.T) {
		m, err := res.MethodByName("add")
		require.NoError(t, err)
		assert.Equal(t, "Add", m.Name)

		m, err = res.MethodByName("Add")
		require.NoError(t, err)
		assert.Equal(t, "Add", m.Name)

		_, err = res.MethodByName("subtract")
		assert.Error(t, err)
	})

	t.Run("unexported methods invisible", func(t *testing.T) {
		_, err := res.MethodByName("unexported")
		assert.Error(t, err)
	})
}

func TestPerRequestInstance(t *testing.T) {
	r := newRegistry(false)
	require.NoError(t, r.AddNamed("Calculator", calculator{}))
	res, _ := r.Lookup("Calculator")

	a, err := res.Instance()
	require.NoError(t, err)
	b, err := res.Instance()
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestSingleton(t *testing.T) {
	r := newRegistry(false)
	c := &counter{}
	require.NoError(t, r.AddSingletonNamed("Counter", c))

	res, ok := r.Lookup("Counter")
	require.True(t, ok)

	got, err := res.Instance()
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestSingletonAliases(t *testing.T) {
	r := newRegistry(false)
	c := &counter{}
	require.NoError(t, r.AddSingletonNamed("Counter", c, "com.example.Counter"))

	_, ok := r.Lookup("Counter")
	assert.True(t, ok)
	aliased, ok := r.Lookup("com.example.Counter")
	require.True(t, ok)
	assert.Same(t, c, aliased.Singleton)

	// Removing the instance sweeps every name.
	r.RemoveSingleton(c)
	_, ok = r.Lookup("Counter")
	assert.False(t, ok)
	_, ok = r.Lookup("com.example.Counter")
	assert.False(t, ok)
}

func TestDuplicateRejected(t *testing.T) {
	r := newRegistry(false)
	require.NoError(t, r.AddNamed("Calculator", calculator{}))
	assert.Error(t, r.AddNamed("Calculator", calculator{}))
}

func TestRemoveNamed(t *testing.T) {
	r := newRegistry(false)
	require.NoError(t, r.AddNamed("Calculator", calculator{}))
	r.RemoveNamed("Calculator")
	_, ok := r.Lookup("Calculator")
	assert.False(t, ok)
}

func TestStrictMode(t *testing.T) {
	t.Run("strict rejects channel types", func(t *testing.T) {
		r := newRegistry(true)
		assert.Error(t, r.AddNamed("Stream", chanResource{}))
	})

	t.Run("lenient accepts with warning", func(t *testing.T) {
		r := newRegistry(false)
		require.NoError(t, r.AddNamed("Stream", chanResource{}))
		res, ok := r.Lookup("Stream")
		require.True(t, ok)
		// The supported method is still callable.
		_, err := res.MethodByName("fine")
		assert.NoError(t, err)
	})
}

func TestRejectsNilAndEmpty(t *testing.T) {
	r := newRegistry(false)
	assert.Error(t, r.AddNamed("X", nil))
	assert.Error(t, r.AddNamed("", calculator{}))
}

func TestNames(t *testing.T) {
	r := newRegistry(false)
	require.NoError(t, r.AddNamed("B", calculator{}))
	require.NoError(t, r.AddNamed("A", &counter{}))
	assert.Equal(t, []string{"A", "B"}, r.Names())
}

func TestMethodsListing(t *testing.T) {
	r := newRegistry(false)
	require.NoError(t, r.AddNamed("Calculator", calculator{}))
	res, _ := r.Lookup("Calculator")

	methods := res.Methods()
	assert.Contains(t, methods, "add(II)")
	assert.Contains(t, methods, "greet()")
}
