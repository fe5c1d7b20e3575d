package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hr-incidents-api/internal/models"
)

func TestCatalogRepositoryGetBySubtype(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	repo := NewCatalogRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "subtype_name", "infotype_code", "concept_code", "requires_approval", "roles_with_access", "created_at", "updated_at"}).
		AddRow("cat-1", "Overtime", "2010", "1500", true, pq.StringArray{"MANAGER", "REVIEWER"}, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, subtype_name, infotype_code")).
		WithArgs("Overtime").
		WillReturnRows(rows)

	entry, err := repo.GetBySubtype(context.Background(), "Overtime")
	require.NoError(t, err)
	require.True(t, entry.RequiresApproval)
	require.True(t, entry.VisibleTo(models.RoleManager))
	require.False(t, entry.VisibleTo(models.RoleSupervisor))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	repo := NewCatalogRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO catalog_entries")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.CatalogEntry{SubtypeName: "Overtime"})
	require.ErrorIs(t, err, ErrDuplicateCatalogEntry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newIncidentRepoMock(t)
	defer cleanup()

	repo := NewCatalogRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE catalog_entries SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.CatalogEntry{ID: "missing"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
