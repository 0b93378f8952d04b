package engine

import (
	"context"
	"errors"
	"testing"
)

// commit runs fn inside a transaction and returns the normalized diff.
func commit(t *testing.T, e *Engine, fn func(tx *Tx) error) *Changes {
	t.Helper()
	ctx := context.Background()

	var captured *Changes
	e.OnCommit(func(ch *Changes) { captured = ch })

	tx, err := e.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("transaction body failed: %v", err)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return captured
}

func insertCar(t *testing.T, tx *Tx, mk string, year int64) int64 {
	t.Helper()
	rid, err := tx.Insert(context.Background(), "obj_Car", []string{"make", "year"}, []any{mk, year})
	if err != nil {
		t.Fatalf("insert car: %v", err)
	}
	return rid
}

func TestTx_InsertRecordsDiff(t *testing.T) {
	e := openTestEngine(t)

	var rid int64
	ch := commit(t, e, func(tx *Tx) error {
		rid = insertCar(t, tx, "Tesla", 2022)
		return nil
	})

	tc := ch.Tables["obj_Car"]
	if tc == nil || len(tc.Inserted) != 1 || tc.Inserted[0] != rid {
		t.Errorf("diff inserted = %+v, want [%d]", tc, rid)
	}
}

func TestTx_InsertThenDeleteVanishes(t *testing.T) {
	e := openTestEngine(t)

	ch := commit(t, e, func(tx *Tx) error {
		rid := insertCar(t, tx, "Tesla", 2022)
		return tx.DeleteRow(context.Background(), "obj_Car", rid)
	})

	if ch.Touched("obj_Car") {
		t.Errorf("row inserted and deleted in one transaction should not appear in the diff: %+v", ch.Tables["obj_Car"])
	}
}

func TestTx_ModifyFoldsIntoInsert(t *testing.T) {
	e := openTestEngine(t)

	ch := commit(t, e, func(tx *Tx) error {
		rid := insertCar(t, tx, "Tesla", 2022)
		return tx.Update(context.Background(), "obj_Car", rid, []string{"year"}, []any{int64(2023)}, []string{"year"})
	})

	tc := ch.Tables["obj_Car"]
	if len(tc.Inserted) != 1 {
		t.Fatalf("inserted = %v, want one row", tc.Inserted)
	}
	if len(tc.Modified) != 0 {
		t.Errorf("modifications of a row inserted in the same transaction should fold into the insert: %v", tc.Modified)
	}
}

func TestTx_UpdateRecordsProperties(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	var rid int64
	commit(t, e, func(tx *Tx) error {
		rid = insertCar(t, tx, "Tesla", 2022)
		return nil
	})

	ch := commit(t, e, func(tx *Tx) error {
		if err := tx.Update(ctx, "obj_Car", rid, []string{"year"}, []any{int64(2023)}, []string{"year"}); err != nil {
			return err
		}
		// Recording the same property twice must not duplicate it.
		return tx.Update(ctx, "obj_Car", rid, []string{"year"}, []any{int64(2024)}, []string{"year"})
	})

	props := ch.Tables["obj_Car"].Modified[rid]
	if len(props) != 1 || props[0] != "year" {
		t.Errorf("modified properties = %v, want [year]", props)
	}
}

func TestTx_DuplicateKey(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	commit(t, e, func(tx *Tx) error {
		insertCar(t, tx, "Tesla", 2022)
		return nil
	})

	tx, err := e.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	_, err = tx.Insert(ctx, "obj_Car", []string{"make", "year"}, []any{"Tesla", int64(2024)})
	if !IsDuplicateKey(err) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
	var de *DuplicateKeyError
	errors.As(err, &de)
	if de.Table != "obj_Car" || de.Column != "make" {
		t.Errorf("DuplicateKeyError = %+v, want table obj_Car column make", de)
	}
}

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	tx, err := e.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	rid := insertCar(t, tx, "Tesla", 2022)
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	if e.Version() != 1 {
		t.Errorf("version advanced on rollback: %d", e.Version())
	}
	exists, err := e.RowExists(ctx, "obj_Car", rid)
	if err != nil {
		t.Fatalf("RowExists() failed: %v", err)
	}
	if exists {
		t.Error("rolled-back row is still visible")
	}
}

func TestTx_ReadsSeeUncommittedState(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	tx, err := e.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	rid := insertCar(t, tx, "Tesla", 2022)
	exists, err := e.RowExists(ctx, "obj_Car", rid)
	if err != nil {
		t.Fatalf("RowExists() failed: %v", err)
	}
	if !exists {
		t.Error("read during the owning transaction does not see its writes")
	}
}

func TestTx_LinkOrderAndDuplicates(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	var person, car1, car2 int64
	commit(t, e, func(tx *Tx) error {
		var err error
		person, err = tx.Insert(ctx, "obj_Person", []string{"name"}, []any{"ada"})
		if err != nil {
			return err
		}
		car1 = insertCar(t, tx, "a", 1)
		car2 = insertCar(t, tx, "b", 2)

		// car1, car2, car1: duplicates keep separate positions.
		for _, target := range []int64{car1, car2, car1} {
			if err := tx.LinkAppend(ctx, "lnk_Person_cars", person, target); err != nil {
				return err
			}
		}
		return nil
	})

	targets, err := e.ListTargets(ctx, "lnk_Person_cars", person)
	if err != nil {
		t.Fatalf("ListTargets() failed: %v", err)
	}
	want := []int64{car1, car2, car1}
	if !equalInt64(targets, want) {
		t.Fatalf("targets = %v, want %v", targets, want)
	}

	commit(t, e, func(tx *Tx) error {
		return tx.LinkMove(ctx, "lnk_Person_cars", person, 0, 2)
	})
	targets, _ = e.ListTargets(ctx, "lnk_Person_cars", person)
	want = []int64{car2, car1, car1}
	if !equalInt64(targets, want) {
		t.Fatalf("after move targets = %v, want %v", targets, want)
	}

	commit(t, e, func(tx *Tx) error {
		return tx.LinkRemoveAt(ctx, "lnk_Person_cars", person, 1)
	})
	targets, _ = e.ListTargets(ctx, "lnk_Person_cars", person)
	want = []int64{car2, car1}
	if !equalInt64(targets, want) {
		t.Fatalf("after remove targets = %v, want %v", targets, want)
	}

	commit(t, e, func(tx *Tx) error {
		return tx.LinkInsert(ctx, "lnk_Person_cars", person, 0, car1)
	})
	targets, _ = e.ListTargets(ctx, "lnk_Person_cars", person)
	want = []int64{car1, car2, car1}
	if !equalInt64(targets, want) {
		t.Fatalf("after insert targets = %v, want %v", targets, want)
	}
}

func TestTx_DeleteRowRemovesFromLists(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	var person, car1, car2 int64
	commit(t, e, func(tx *Tx) error {
		var err error
		person, err = tx.Insert(ctx, "obj_Person", []string{"name"}, []any{"ada"})
		if err != nil {
			return err
		}
		car1 = insertCar(t, tx, "a", 1)
		car2 = insertCar(t, tx, "b", 2)
		for _, target := range []int64{car1, car2, car1} {
			if err := tx.LinkAppend(ctx, "lnk_Person_cars", person, target); err != nil {
				return err
			}
		}
		return nil
	})

	ch := commit(t, e, func(tx *Tx) error {
		return tx.DeleteRow(ctx, "obj_Car", car1)
	})

	// Both occurrences of car1 disappear and positions compact.
	targets, err := e.ListTargets(ctx, "lnk_Person_cars", person)
	if err != nil {
		t.Fatalf("ListTargets() failed: %v", err)
	}
	if !equalInt64(targets, []int64{car2}) {
		t.Fatalf("targets after delete = %v, want [%d]", targets, car2)
	}

	// The owning object counts as modified on its list property.
	props := ch.Tables["obj_Person"].Modified[person]
	if len(props) != 1 || props[0] != "cars" {
		t.Errorf("owner modified properties = %v, want [cars]", props)
	}
}

func TestTx_DeleteRowClearsLinkColumns(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	var person, car int64
	commit(t, e, func(tx *Tx) error {
		var err error
		person, err = tx.Insert(ctx, "obj_Person", []string{"name"}, []any{"ada"})
		if err != nil {
			return err
		}
		car, err = tx.Insert(ctx, "obj_Car", []string{"make", "owner"}, []any{"a", person})
		return err
	})

	ch := commit(t, e, func(tx *Tx) error {
		return tx.DeleteRow(ctx, "obj_Person", person)
	})

	row, ok, err := e.GetRow(ctx, "obj_Car", car, []string{"owner"})
	if err != nil || !ok {
		t.Fatalf("GetRow() failed: ok=%v err=%v", ok, err)
	}
	if row[0] != nil {
		t.Errorf("dangling link column survived delete: %v", row[0])
	}
	props := ch.Tables["obj_Car"].Modified[car]
	if len(props) != 1 || props[0] != "owner" {
		t.Errorf("referencing row modified properties = %v, want [owner]", props)
	}
}

func equalInt64(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
