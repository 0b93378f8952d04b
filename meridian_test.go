package meridian

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fleetSchema is the schema set shared by most tests: cars with a string
// primary key and a single link, people owning an ordered car list.
func fleetSchema() []ObjectSchema {
	return []ObjectSchema{
		{
			Name: "Car",
			Properties: []Property{
				{Name: "make", Type: StringType, PrimaryKey: true},
				{Name: "model", Type: StringType},
				{Name: "year", Type: IntType},
				{Name: "price", Type: FloatType},
				{Name: "sold", Type: BoolType},
				{Name: "owner", Type: ObjectType, LinkTarget: "Person"},
			},
		},
		{
			Name: "Person",
			Properties: []Property{
				{Name: "name", Type: StringType, PrimaryKey: true},
				{Name: "cars", Type: ListType, LinkTarget: "Car"},
			},
		},
	}
}

func openTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := Open(Config{
		Schema: fleetSchema(),
		Path:   filepath.Join(t.TempDir(), "fleet.meridian"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// mustCreate persists one object inside its own write transaction.
func mustCreate(t *testing.T, s *Session, typeName string, values map[string]any) *Object {
	t.Helper()
	var obj *Object
	err := s.Write(func() error {
		var err error
		obj, err = s.Create(typeName, values)
		return err
	})
	require.NoError(t, err)
	return obj
}
