package registry

import (
	"sync"
	"testing"

	"github.com/coreledger/hybridcore/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSchemaInstallsDefault(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterSchema(Schema{Name: "block.base_size", Kind: KindInt, Default: "1000000", Bounds: Bounds{Min: 0, Max: 100_000_000}}))

	v, err := r.GetInt("block.base_size")
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), v)
}

func TestRegisterSchemaDuplicateRejected(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterSchema(Schema{Name: "x", Kind: KindString, Default: "a"}))

	err := r.RegisterSchema(Schema{Name: "x", Kind: KindString, Default: "b"})
	require.Error(t, err)

	var appErr *errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.ERR_DUPLICATE, appErr.Code)
}

func TestGetUnknownParameter(t *testing.T) {
	r := New(nil)
	_, err := r.Get("missing")
	require.Error(t, err)

	var appErr *errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.ERR_UNKNOWN_PARAMETER, appErr.Code)
}

func TestSetOutOfBounds(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterSchema(Schema{Name: "n", Kind: KindInt, Default: "5", Bounds: Bounds{Min: 0, Max: 10}}))

	err := r.Set("n", "50")
	require.Error(t, err)

	var appErr *errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.ERR_OUT_OF_BOUNDS, appErr.Code)

	v, _ := r.GetInt("n")
	assert.Equal(t, int64(5), v, "rejected set must not mutate the snapshot")
}

func TestSetInvalidValue(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterSchema(Schema{Name: "flag", Kind: KindBool, Default: "true"}))

	err := r.Set("flag", "not-a-bool")
	require.Error(t, err)

	var appErr *errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.ERR_INVALID_PARAMETER_VALUE, appErr.Code)
}

func TestSetManyAllOrNothing(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterSchema(Schema{Name: "a", Kind: KindInt, Default: "1"}))
	require.NoError(t, r.RegisterSchema(Schema{Name: "b", Kind: KindInt, Default: "2", Bounds: Bounds{Min: 0, Max: 10}}))

	err := r.SetMany(map[string]string{"a": "100", "b": "999"})
	require.Error(t, err)

	va, _ := r.GetInt("a")
	assert.Equal(t, int64(1), va, "partial batch must not apply any change")
}

func TestSetManyAppliesAtomically(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterSchema(Schema{Name: "a", Kind: KindInt, Default: "1"}))
	require.NoError(t, r.RegisterSchema(Schema{Name: "b", Kind: KindInt, Default: "2"}))

	require.NoError(t, r.SetMany(map[string]string{"a": "10", "b": "20"}))

	va, _ := r.GetInt("a")
	vb, _ := r.GetInt("b")
	assert.Equal(t, int64(10), va)
	assert.Equal(t, int64(20), vb)
}

func TestConcurrentReadsDuringWrite(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterSchema(Schema{Name: "n", Kind: KindInt, Default: "0", Bounds: Bounds{Min: 0, Max: 1_000_000}}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.GetInt("n")
		}()
	}
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Set("n", "1")
		}(i)
	}
	wg.Wait()

	v, err := r.GetInt("n")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
