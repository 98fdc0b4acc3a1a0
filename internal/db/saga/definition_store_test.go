package sagadb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"helmsman/internal/saga"
	"helmsman/internal/workflow"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

func testDefinition() workflow.Definition {
	return workflow.Definition{
		Name: "order-fulfillment",
		Steps: []workflow.Step{
			{
				Name:       "reserve-inventory",
				Service:    "inventory",
				Method:     "Reserve",
				Compensate: &workflow.Compensation{Service: "inventory", Method: "Release"},
				Timeout:    workflow.Duration(2 * time.Second),
			},
			{Name: "ship-order", Service: "shipping", Method: "Ship", Timeout: workflow.Duration(5 * time.Second)},
		},
	}
}

func TestDefinitionStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS workflow_definitions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewDefinitionStore(db)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestDefinitionStore_Register(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO workflow_definitions").
		WithArgs("order-fulfillment", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewDefinitionStore(db)
	if err := store.Register(context.Background(), testDefinition()); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestDefinitionStore_RegisterDuplicate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO workflow_definitions").
		WithArgs("order-fulfillment", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewDefinitionStore(db)
	err := store.Register(context.Background(), testDefinition())
	if !errors.Is(err, saga.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestDefinitionStore_RegisterInvalid(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)
	mock.ExpectClose()

	store := NewDefinitionStore(db)
	err := store.Register(context.Background(), workflow.Definition{Name: "empty"})
	if !errors.Is(err, saga.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDefinitionStore_Get(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	steps := `[{"name":"ship-order","service":"shipping","method":"Ship","timeout":"5s"}]`
	mock.ExpectQuery("SELECT steps FROM workflow_definitions").
		WithArgs("order-fulfillment").
		WillReturnRows(sqlmock.NewRows([]string{"steps"}).AddRow([]byte(steps)))
	mock.ExpectClose()

	store := NewDefinitionStore(db)
	def, err := store.Get(context.Background(), "order-fulfillment")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(def.Steps) != 1 || def.Steps[0].Timeout.Std() != 5*time.Second {
		t.Fatalf("unexpected definition: %+v", def)
	}
}

func TestDefinitionStore_GetMissing(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT steps FROM workflow_definitions").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"steps"}))
	mock.ExpectClose()

	store := NewDefinitionStore(db)
	_, err := store.Get(context.Background(), "ghost")
	if !errors.Is(err, saga.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDefinitionStore_List(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	steps := `[{"name":"s","service":"svc","method":"M","timeout":"1s"}]`
	mock.ExpectQuery("SELECT name, steps FROM workflow_definitions").
		WillReturnRows(sqlmock.NewRows([]string{"name", "steps"}).
			AddRow("alpha", []byte(steps)).
			AddRow("bravo", []byte(steps)))
	mock.ExpectClose()

	store := NewDefinitionStore(db)
	defs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "bravo" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}
