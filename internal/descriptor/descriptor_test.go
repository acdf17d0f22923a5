package descriptor

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForTypePrimitives(t *testing.T) {
	cases := []struct {
		value any
		want  string
	}{
		{int(0), "I"},
		{int32(0), "I"},
		{uint32(0), "I"},
		{int64(0), "J"},
		{uint64(0), "J"},
		{int8(0), "B"},
		{uint8(0), "B"},
		{int16(0), "S"},
		{float32(0), "F"},
		{float64(0), "D"},
		{false, "Z"},
		{"", "Ljava/lang/String;"},
		{map[string]int{}, "Ljava/util/Map;"},
		{[]int{}, "[I"},
		{[][]string{}, "[[Ljava/lang/String;"},
	}
	for _, c := range cases {
		got, err := ForType(reflect.TypeOf(c.value), nil)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%T", c.value)
	}
}

func TestForTypePointerDereferences(t *testing.T) {
	v := 5
	got, err := ForType(reflect.TypeOf(&v), nil)
	require.NoError(t, err)
	assert.Equal(t, "I", got)
}

func TestForTypeError(t *testing.T) {
	got, err := ForType(reflect.TypeOf((*error)(nil)).Elem(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Ljava/lang/Exception;", got)
}

type point struct{ X, Y int }

func TestForTypeStructUsesNamer(t *testing.T) {
	namer := func(reflect.Type) string { return "geom.Point" }
	got, err := ForType(reflect.TypeOf(point{}), namer)
	require.NoError(t, err)
	assert.Equal(t, "Lgeom/Point;", got)
}

func TestForTypeUnsupported(t *testing.T) {
	_, err := ForType(reflect.TypeOf(make(chan int)), nil)
	assert.Error(t, err)
}

func TestDefaultName(t *testing.T) {
	assert.Equal(t, StringClass, DefaultName(reflect.TypeOf("")))
	assert.Equal(t, ObjectClass, DefaultName(reflect.TypeOf(struct{}{})))

	name := DefaultName(reflect.TypeOf(point{}))
	assert.Contains(t, name, ".point")
	assert.NotContains(t, name, "/")
}

type calc struct{}

func (calc) Add(a, b int) int                          { return a + b }
func (calc) Echo(s string) string                      { return s }
func (calc) Fetch(ctx context.Context, id int64) error { return nil }

func TestForMethod(t *testing.T) {
	typ := reflect.TypeOf(calc{})

	add, ok := typ.MethodByName("Add")
	require.True(t, ok)
	desc, err := ForMethod(add, nil)
	require.NoError(t, err)
	assert.Equal(t, "(II)", desc)

	echo, ok := typ.MethodByName("Echo")
	require.True(t, ok)
	desc, err = ForMethod(echo, nil)
	require.NoError(t, err)
	assert.Equal(t, "(Ljava/lang/String;)", desc)
}

func TestForMethodSkipsContext(t *testing.T) {
	typ := reflect.TypeOf(calc{})
	fetch, ok := typ.MethodByName("Fetch")
	require.True(t, ok)

	desc, err := ForMethod(fetch, nil)
	require.NoError(t, err)
	assert.Equal(t, "(J)", desc)
}

func TestParse(t *testing.T) {
	t.Run("primitives", func(t *testing.T) {
		tokens, err := Parse("(II)")
		require.NoError(t, err)
		assert.Equal(t, []string{"I", "I"}, tokens)
	})

	t.Run("empty", func(t *testing.T) {
		tokens, err := Parse("()")
		require.NoError(t, err)
		assert.Empty(t, tokens)
	})

	t.Run("object types", func(t *testing.T) {
		tokens, err := Parse("(Ljava/lang/String;ILjava/util/Map;)")
		require.NoError(t, err)
		assert.Equal(t, []string{"Ljava/lang/String;", "I", "Ljava/util/Map;"}, tokens)
	})

	t.Run("arrays", func(t *testing.T) {
		tokens, err := Parse("([I[[Ljava/lang/String;)")
		require.NoError(t, err)
		assert.Equal(t, []string{"[I", "[[Ljava/lang/String;"}, tokens)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, bad := range []string{"", "(", ")", "II", "(X)", "(L)", "(Ljava/lang/String)", "(["} {
			_, err := Parse(bad)
			assert.Error(t, err, bad)
		}
	})
}

func TestArity(t *testing.T) {
	n, err := Arity("()")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = Arity("(II)")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = Arity("(Ljava/lang/String;[I)")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClassOf(t *testing.T) {
	name, err := ClassOf("Ljava/lang/String;")
	require.NoError(t, err)
	assert.Equal(t, "java.lang.String", name)

	_, err = ClassOf("I")
	assert.Error(t, err)
}
