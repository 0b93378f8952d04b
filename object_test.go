package meridian

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject_UnmanagedStagesValues(t *testing.T) {
	obj := NewObject("Car", map[string]any{"make": "Tesla"})
	assert.False(t, obj.Managed())
	assert.True(t, obj.IsValid())

	require.NoError(t, obj.Set("year", 2022))
	v, err := obj.Get("year")
	require.NoError(t, err)
	assert.Equal(t, 2022, v)

	v, err = obj.Get("make")
	require.NoError(t, err)
	assert.Equal(t, "Tesla", v)
}

func TestObject_ReadAfterAdd(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{
		"make":  "Tesla",
		"model": "Model 3",
		"year":  2022,
		"price": 39999.5,
		"sold":  false,
	})

	assert.True(t, car.Managed())
	assert.Equal(t, "Car", car.Type())

	for name, want := range map[string]any{
		"make":  "Tesla",
		"model": "Model 3",
		"year":  int64(2022),
		"price": 39999.5,
		"sold":  false,
	} {
		v, err := car.Get(name)
		require.NoError(t, err, "property %s", name)
		assert.Equal(t, want, v, "property %s", name)
	}

	// Unset scalar properties read as nil.
	owner, err := car.Get("owner")
	require.NoError(t, err)
	assert.Nil(t, owner)
}

func TestObject_SetInsideWrite(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla", "year": 2022})

	err := s.Write(func() error {
		if err := car.Set("year", 2023); err != nil {
			return err
		}
		// Reads inside the transaction see the pending value.
		v, err := car.Get("year")
		require.NoError(t, err)
		assert.Equal(t, int64(2023), v)
		return nil
	})
	require.NoError(t, err)

	v, err := car.Get("year")
	require.NoError(t, err)
	assert.Equal(t, int64(2023), v)
}

func TestObject_SetOutsideWrite(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla"})

	err := car.Set("year", 2023)
	require.Error(t, err)
	assert.Equal(t, ErrCodeTransactionState, CodeOf(err))
}

func TestObject_PrimaryKeyImmutable(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla"})

	err := s.Write(func() error { return car.Set("make", "Opel") })
	require.Error(t, err)
	assert.Equal(t, ErrCodeReadOnlyProperty, CodeOf(err))

	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Car", me.Type)
	assert.Equal(t, "make", me.Property)
}

func TestObject_TypeMismatch(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla"})

	err := s.Write(func() error { return car.Set("year", "not a year") })
	require.Error(t, err)
	assert.Equal(t, ErrCodeTypeMismatch, CodeOf(err))

	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Car", me.Type)
	assert.Equal(t, "year", me.Property)
}

func TestObject_DeleteInvalidatesAllHandles(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla"})

	other, err := s.Find("Car", "Tesla")
	require.NoError(t, err)
	require.NotNil(t, other)

	require.NoError(t, s.Write(func() error { return s.Delete(car) }))

	assert.False(t, car.IsValid())
	assert.False(t, other.IsValid())

	_, err = other.Get("make")
	assert.True(t, IsInvalidObject(err))

	err = s.Write(func() error { return s.Delete(other) })
	assert.True(t, IsInvalidObject(err))
}

func TestObject_Equals(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla"})
	other, err := s.Find("Car", "Tesla")
	require.NoError(t, err)

	assert.True(t, car.Equals(other))
	assert.True(t, other.Equals(car))

	different := mustCreate(t, s, "Car", map[string]any{"make": "Opel"})
	assert.False(t, car.Equals(different))
	assert.False(t, car.Equals(nil))

	// Unmanaged objects are only equal to themselves.
	u1 := NewObject("Car", nil)
	u2 := NewObject("Car", nil)
	assert.True(t, u1.Equals(u1))
	assert.False(t, u1.Equals(u2))
	assert.False(t, u1.Equals(car))
}

func TestObject_LinkRoundTrip(t *testing.T) {
	s := openTestSession(t)
	person := mustCreate(t, s, "Person", map[string]any{"name": "ada"})
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla"})

	require.NoError(t, s.Write(func() error { return car.Set("owner", person) }))

	v, err := car.Get("owner")
	require.NoError(t, err)
	owner, ok := v.(*Object)
	require.True(t, ok)
	assert.True(t, person.Equals(owner))

	// nil clears the link.
	require.NoError(t, s.Write(func() error { return car.Set("owner", nil) }))
	v, err = car.Get("owner")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestObject_LinkAutoAddsUnmanagedTarget(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla"})
	person := NewObject("Person", map[string]any{"name": "ada"})

	require.NoError(t, s.Write(func() error { return car.Set("owner", person) }))

	assert.True(t, person.Managed())
	found, err := s.Find("Person", "ada")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, person.Equals(found))
}

func TestObject_CrossTypeLinkRejected(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla"})
	otherCar := mustCreate(t, s, "Car", map[string]any{"make": "Opel"})

	err := s.Write(func() error { return car.Set("owner", otherCar) })
	require.Error(t, err)
	assert.Equal(t, ErrCodeTypeMismatch, CodeOf(err))
}

func TestObject_LinkToDeletedTargetRejected(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla"})
	person := mustCreate(t, s, "Person", map[string]any{"name": "ada"})
	require.NoError(t, s.Write(func() error { return s.Delete(person) }))

	err := s.Write(func() error { return car.Set("owner", person) })
	require.Error(t, err)
	assert.True(t, IsInvalidObject(err))
}

func TestObject_DeleteTargetClearsLink(t *testing.T) {
	s := openTestSession(t)
	person := mustCreate(t, s, "Person", map[string]any{"name": "ada"})
	car := mustCreate(t, s, "Car", map[string]any{"make": "Tesla", "owner": person})

	require.NoError(t, s.Write(func() error { return s.Delete(person) }))

	v, err := car.Get("owner")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestObject_ListPropertyNeedsListAccessor(t *testing.T) {
	s := openTestSession(t)
	person := mustCreate(t, s, "Person", map[string]any{"name": "ada"})

	_, err := person.Get("cars")
	require.Error(t, err)
	assert.Equal(t, ErrCodeTypeMismatch, CodeOf(err))

	err = s.Write(func() error { return person.Set("cars", nil) })
	require.Error(t, err)
	assert.Equal(t, ErrCodeTypeMismatch, CodeOf(err))
}

func TestObject_UnicodeKeysNormalized(t *testing.T) {
	s := openTestSession(t)

	// "é" written decomposed (e + combining acute) must be findable
	// through its composed form.
	decomposed := "Citroe\u0301n"
	composed := "Citro\u00e9n"

	mustCreate(t, s, "Car", map[string]any{"make": decomposed})
	found, err := s.Find("Car", composed)
	require.NoError(t, err)
	require.NotNil(t, found)

	v, err := found.Get("make")
	require.NoError(t, err)
	assert.Equal(t, composed, v)
}
