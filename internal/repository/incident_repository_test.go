package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hr-incidents-api/internal/models"
)

func newIncidentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func incidentRows(id string, state models.IncidentState) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "worker_id", "worker_name", "subtype_name", "infotype_code", "concept_code",
		"registrant_name", "registrant_role", "state", "effective_from", "effective_to",
		"amount", "quantity", "hours", "folio", "email",
		"manager_approver", "manager_comment", "reviewer_approver", "reviewer_comment", "gps_comment",
		"rejection_comment", "rejected_by", "soft_deleted_at", "deleted_by", "delete_reason",
		"created_at", "updated_at",
	}).AddRow(
		id, "w-100", "Ana Torres", "Overtime", "2010", "1500",
		"Luis Vega", "SUPERVISOR", state, now, now,
		nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil,
		now, now,
	)
}

func TestIncidentRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	repo := NewIncidentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO incidents")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	incident := &models.Incident{
		WorkerID:       "w-100",
		WorkerName:     "Ana Torres",
		SubtypeName:    "Overtime",
		InfotypeCode:   "2010",
		ConceptCode:    "1500",
		RegistrantName: "Luis Vega",
		RegistrantRole: models.RoleSupervisor,
		State:          models.StatePendingManager,
		EffectiveFrom:  time.Now(),
		EffectiveTo:    time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), incident))
	require.NotEmpty(t, incident.ID)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, worker_id, worker_name")).
		WithArgs(incident.ID).
		WillReturnRows(incidentRows(incident.ID, models.StatePendingManager))

	found, err := repo.GetByID(context.Background(), incident.ID)
	require.NoError(t, err)
	require.Equal(t, incident.ID, found.ID)
	require.Equal(t, models.StatePendingManager, found.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidentRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	repo := NewIncidentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO incidents")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "incidents_business_key_active"})

	err := repo.Create(context.Background(), &models.Incident{
		WorkerID:    "w-100",
		SubtypeName: "Overtime",
	})
	require.ErrorIs(t, err, ErrDuplicateIncident)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	repo := NewIncidentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, worker_id, worker_name")).
		WithArgs("PENDING_MANAGER", "PENDING_REVIEWER", "w-100").
		WillReturnRows(incidentRows("inc-1", models.StatePendingManager))

	list, err := repo.List(context.Background(), models.IncidentFilter{
		States:   []models.IncidentState{models.StatePendingManager, models.StatePendingReviewer},
		WorkerID: "w-100",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "inc-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidentRepositoryApplyTransition(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	repo := NewIncidentRepository(db)
	approver := "Maria Cruz"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE incidents SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ApplyTransition(context.Background(), TransitionParams{
		ID:              "inc-1",
		FromState:       models.StatePendingManager,
		ToState:         models.StatePendingReviewer,
		ManagerApprover: &approver,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidentRepositoryApplyTransitionRace(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	// The loser of a concurrent transition matches zero rows.
	repo := NewIncidentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE incidents SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ApplyTransition(context.Background(), TransitionParams{
		ID:        "inc-1",
		FromState: models.StatePendingManager,
		ToState:   models.StateRejected,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidentRepositoryUpdateFields(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	repo := NewIncidentRepository(db)
	amount := 1250.50
	mock.ExpectExec(regexp.QuoteMeta("UPDATE incidents SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateFields(context.Background(), UpdateFieldsParams{
		ID:     "inc-1",
		Amount: &amount,
	})
	require.NoError(t, err)

	// No pointer set means nothing to do and no query issued.
	require.NoError(t, repo.UpdateFields(context.Background(), UpdateFieldsParams{ID: "inc-1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncidentRepositoryBinAndRecover(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	repo := NewIncidentRepository(db)
	reason := "captured twice"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE incidents SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MoveToBin(context.Background(), "inc-1", "admin-1", &reason))

	// Second bin attempt finds no active row.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE incidents SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.MoveToBin(context.Background(), "inc-1", "admin-1", nil), sql.ErrNoRows)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE incidents SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Recover(context.Background(), "inc-1"))

	// Recover collides with an equivalent active row.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE incidents SET")).
		WillReturnError(&pq.Error{Code: "23505"})
	require.ErrorIs(t, repo.Recover(context.Background(), "inc-1"), ErrDuplicateIncident)
	require.NoError(t, mock.ExpectationsWereMet())
}
