package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hr-incidents-api/internal/dto"
	"github.com/noah-isme/hr-incidents-api/internal/models"
	"github.com/noah-isme/hr-incidents-api/internal/repository"
	"github.com/noah-isme/hr-incidents-api/pkg/config"
	appErrors "github.com/noah-isme/hr-incidents-api/pkg/errors"
)

type incidentRepoStub struct {
	incidents map[string]*models.Incident
	nextID    int
}

func newIncidentRepoStub() *incidentRepoStub {
	return &incidentRepoStub{incidents: make(map[string]*models.Incident)}
}

// sameBusinessKey mirrors the partial unique index: the full field
// tuple, with absent optional fields comparing equal.
func sameBusinessKey(a, b *models.Incident) bool {
	eqFloat := func(x, y *float64) bool {
		return (x == nil) == (y == nil) && (x == nil || *x == *y)
	}
	eqInt := func(x, y *int) bool {
		return (x == nil) == (y == nil) && (x == nil || *x == *y)
	}
	eqStr := func(x, y *string) bool {
		return (x == nil) == (y == nil) && (x == nil || *x == *y)
	}
	return a.WorkerID == b.WorkerID &&
		a.SubtypeName == b.SubtypeName &&
		a.ConceptCode == b.ConceptCode &&
		a.EffectiveFrom.Equal(b.EffectiveFrom) &&
		a.EffectiveTo.Equal(b.EffectiveTo) &&
		eqFloat(a.Amount, b.Amount) &&
		eqInt(a.Quantity, b.Quantity) &&
		eqFloat(a.Hours, b.Hours) &&
		eqStr(a.Folio, b.Folio) &&
		eqStr(a.Email, b.Email) &&
		a.RegistrantName == b.RegistrantName
}

func (r *incidentRepoStub) Create(_ context.Context, incident *models.Incident) error {
	for _, existing := range r.incidents {
		if existing.SoftDeletedAt == nil && sameBusinessKey(existing, incident) {
			return repository.ErrDuplicateIncident
		}
	}
	r.nextID++
	if incident.ID == "" {
		incident.ID = fmt.Sprintf("inc-%d", r.nextID)
	}
	clone := *incident
	r.incidents[incident.ID] = &clone
	return nil
}

func (r *incidentRepoStub) GetByID(_ context.Context, id string) (*models.Incident, error) {
	incident, ok := r.incidents[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *incident
	return &clone, nil
}

func (r *incidentRepoStub) List(_ context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	var out []models.Incident
	for _, incident := range r.incidents {
		if filter.DeletedOnly && incident.SoftDeletedAt == nil {
			continue
		}
		if !filter.DeletedOnly && !filter.IncludeDeleted && incident.SoftDeletedAt != nil {
			continue
		}
		if filter.RegistrantName != "" && incident.RegistrantName != filter.RegistrantName {
			continue
		}
		if filter.WorkerID != "" && incident.WorkerID != filter.WorkerID {
			continue
		}
		out = append(out, *incident)
	}
	return out, nil
}

func (r *incidentRepoStub) ApplyTransition(_ context.Context, params repository.TransitionParams) error {
	incident, ok := r.incidents[params.ID]
	if !ok || incident.SoftDeletedAt != nil || incident.State != params.FromState {
		return sql.ErrNoRows
	}
	incident.State = params.ToState
	coalesce := func(dst **string, src *string) {
		if *dst == nil && src != nil {
			v := *src
			*dst = &v
		}
	}
	coalesce(&incident.ManagerApprover, params.ManagerApprover)
	coalesce(&incident.ManagerComment, params.ManagerComment)
	coalesce(&incident.ReviewerApprover, params.ReviewerApprover)
	coalesce(&incident.ReviewerComment, params.ReviewerComment)
	coalesce(&incident.RejectionComment, params.RejectionComment)
	coalesce(&incident.RejectedBy, params.RejectedBy)
	return nil
}

func (r *incidentRepoStub) UpdateFields(_ context.Context, params repository.UpdateFieldsParams) error {
	incident, ok := r.incidents[params.ID]
	if !ok || incident.SoftDeletedAt != nil {
		return sql.ErrNoRows
	}
	if params.WorkerName != nil {
		incident.WorkerName = *params.WorkerName
	}
	if params.Amount != nil {
		incident.Amount = params.Amount
	}
	if params.EffectiveFrom != nil {
		incident.EffectiveFrom = *params.EffectiveFrom
	}
	if params.EffectiveTo != nil {
		incident.EffectiveTo = *params.EffectiveTo
	}
	return nil
}

func (r *incidentRepoStub) MoveToBin(_ context.Context, id, deletedBy string, reason *string) error {
	incident, ok := r.incidents[id]
	if !ok || incident.SoftDeletedAt != nil {
		return sql.ErrNoRows
	}
	now := incident.CreatedAt
	incident.SoftDeletedAt = &now
	incident.DeletedBy = &deletedBy
	incident.DeleteReason = reason
	return nil
}

func (r *incidentRepoStub) Recover(_ context.Context, id string) error {
	incident, ok := r.incidents[id]
	if !ok || incident.SoftDeletedAt == nil {
		return sql.ErrNoRows
	}
	for _, other := range r.incidents {
		if other.ID != id && other.SoftDeletedAt == nil && sameBusinessKey(other, incident) {
			return repository.ErrDuplicateIncident
		}
	}
	incident.SoftDeletedAt = nil
	incident.DeletedBy = nil
	incident.DeleteReason = nil
	return nil
}

type catalogStub struct {
	entries map[string]*models.CatalogEntry
}

func (c *catalogStub) GetBySubtype(_ context.Context, name string) (*models.CatalogEntry, error) {
	entry, ok := c.entries[name]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return entry, nil
}

func (c *catalogStub) List(_ context.Context) ([]models.CatalogEntry, error) {
	var out []models.CatalogEntry
	for _, entry := range c.entries {
		out = append(out, *entry)
	}
	return out, nil
}

type notifierStub struct {
	notified []models.Incident
}

func (n *notifierStub) NotifyIncident(incident *models.Incident) {
	n.notified = append(n.notified, *incident)
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func testClaims(role models.UserRole, name string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-" + name, Role: role, FullName: name}
}

func newTestIncidentService(t *testing.T) (*IncidentService, *incidentRepoStub, *notifierStub, *auditStub) {
	t.Helper()
	repo := newIncidentRepoStub()
	catalog := &catalogStub{entries: map[string]*models.CatalogEntry{
		"Overtime": {
			ID: "cat-1", SubtypeName: "Overtime", InfotypeCode: "2010", ConceptCode: "1500",
			RequiresApproval: true,
		},
		"Meal Allowance": {
			ID: "cat-2", SubtypeName: "Meal Allowance", InfotypeCode: "0015", ConceptCode: "3001",
			RequiresApproval: false,
		},
		"Executive Bonus": {
			ID: "cat-3", SubtypeName: "Executive Bonus", InfotypeCode: "0015", ConceptCode: "4001",
			RequiresApproval: true,
			RolesWithAccess:  pq.StringArray{"MANAGER", "REVIEWER"},
		},
	}}
	notifier := &notifierStub{}
	audit := &auditStub{}
	policy := config.IncidentsConfig{EditRoles: []string{"REVIEWER"}, EditOwnOnly: true}
	svc := NewIncidentService(repo, catalog, notifier, audit, policy, nil)
	return svc, repo, notifier, audit
}

func createRequest(worker string) dto.CreateIncidentRequest {
	return dto.CreateIncidentRequest{
		WorkerID:      worker,
		WorkerName:    "Ana Torres",
		SubtypeName:   "Overtime",
		EffectiveFrom: "2026-08-01",
		EffectiveTo:   "2026-08-15",
	}
}

func TestIncidentServiceCreateInitialStates(t *testing.T) {
	svc, _, notifier, audit := newTestIncidentService(t)
	ctx := context.Background()

	// Approval-required subtype registered by a supervisor lands on the
	// manager's desk.
	incident, err := svc.Create(ctx, createRequest("w-1"), testClaims(models.RoleSupervisor, "Luis Vega"))
	require.NoError(t, err)
	require.Equal(t, models.StatePendingManager, incident.State)
	require.Equal(t, "2010", incident.InfotypeCode)
	require.Equal(t, "1500", incident.ConceptCode)
	require.Equal(t, "Luis Vega", incident.RegistrantName)

	// Field registrants skip the manager stage entirely.
	incident, err = svc.Create(ctx, createRequest("w-2"), testClaims(models.RoleFieldRegistrant, "Pedro Sosa"))
	require.NoError(t, err)
	require.Equal(t, models.StatePendingReviewer, incident.State)

	// No approval needed means the chain never starts.
	req := createRequest("w-3")
	req.SubtypeName = "Meal Allowance"
	incident, err = svc.Create(ctx, req, testClaims(models.RoleSupervisor, "Luis Vega"))
	require.NoError(t, err)
	require.Equal(t, models.StateNotApplicable, incident.State)

	require.Len(t, notifier.notified, 3)
	require.Len(t, audit.logs, 3)
}

func TestIncidentServiceCreateUnknownSubtype(t *testing.T) {
	svc, _, _, _ := newTestIncidentService(t)
	req := createRequest("w-1")
	req.SubtypeName = "Ghost"
	_, err := svc.Create(context.Background(), req, testClaims(models.RoleSupervisor, "Luis Vega"))
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestIncidentServiceCreateBadDates(t *testing.T) {
	svc, _, _, _ := newTestIncidentService(t)
	req := createRequest("w-1")
	req.EffectiveTo = "2026-07-01"
	_, err := svc.Create(context.Background(), req, testClaims(models.RoleSupervisor, "Luis Vega"))
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestIncidentServiceCreateDuplicate(t *testing.T) {
	svc, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	actor := testClaims(models.RoleSupervisor, "Luis Vega")

	_, err := svc.Create(ctx, createRequest("w-1"), actor)
	require.NoError(t, err)

	_, err = svc.Create(ctx, createRequest("w-1"), actor)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	// The duplicate key spans every business field: the same worker,
	// subtype, and period with a different amount is a distinct
	// registration.
	amount := 500.0
	req := createRequest("w-1")
	req.Amount = &amount
	_, err = svc.Create(ctx, req, actor)
	require.NoError(t, err)
}

func TestIncidentServiceFullApprovalChain(t *testing.T) {
	svc, _, notifier, _ := newTestIncidentService(t)
	ctx := context.Background()

	incident, err := svc.Create(ctx, createRequest("w-1"), testClaims(models.RoleSupervisor, "Luis Vega"))
	require.NoError(t, err)

	incident, err = svc.Approve(ctx, incident.ID, "within budget", testClaims(models.RoleManager, "Maria Cruz"))
	require.NoError(t, err)
	require.Equal(t, models.StatePendingReviewer, incident.State)
	require.NotNil(t, incident.ManagerApprover)
	require.Equal(t, "Maria Cruz", *incident.ManagerApprover)
	require.Equal(t, "within budget", *incident.ManagerComment)

	incident, err = svc.Approve(ctx, incident.ID, "", testClaims(models.RoleReviewer, "Jorge Lara"))
	require.NoError(t, err)
	require.Equal(t, models.StateApproved, incident.State)
	require.Equal(t, "Jorge Lara", *incident.ReviewerApprover)
	require.Nil(t, incident.ReviewerComment)
	// Manager attribution survives the second stage untouched.
	require.Equal(t, "Maria Cruz", *incident.ManagerApprover)

	// create + both transitions notify.
	require.Len(t, notifier.notified, 3)
}

func TestIncidentServiceTransitionAuthority(t *testing.T) {
	svc, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()

	incident, err := svc.Create(ctx, createRequest("w-1"), testClaims(models.RoleSupervisor, "Luis Vega"))
	require.NoError(t, err)

	// Reviewer cannot act on the manager stage.
	_, err = svc.Approve(ctx, incident.ID, "", testClaims(models.RoleReviewer, "Jorge Lara"))
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Neither can an administrator, despite full visibility.
	_, err = svc.Approve(ctx, incident.ID, "", testClaims(models.RoleAdministrator, "Root Admin"))
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Explicit transition to a non-adjacent state is rejected before any
	// authority check.
	_, err = svc.Transition(ctx, incident.ID, dto.TransitionRequest{RequestedState: models.StateApproved}, testClaims(models.RoleManager, "Maria Cruz"))
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestIncidentServiceReject(t *testing.T) {
	svc, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()

	incident, err := svc.Create(ctx, createRequest("w-1"), testClaims(models.RoleSupervisor, "Luis Vega"))
	require.NoError(t, err)

	// Short comments (after trimming) are refused.
	_, err = svc.Reject(ctx, incident.ID, "   too short   ", testClaims(models.RoleManager, "Maria Cruz"))
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	comment := "the overtime window overlaps an approved leave period"
	incident, err = svc.Reject(ctx, incident.ID, comment, testClaims(models.RoleManager, "Maria Cruz"))
	require.NoError(t, err)
	require.Equal(t, models.StateRejected, incident.State)
	require.Equal(t, comment+" (Rejected by: Maria Cruz)", *incident.RejectionComment)
	require.Equal(t, "Maria Cruz", *incident.RejectedBy)

	// Terminal states accept no further transitions.
	_, err = svc.Reject(ctx, incident.ID, comment, testClaims(models.RoleManager, "Maria Cruz"))
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestIncidentServiceConcurrentTransitionLoser(t *testing.T) {
	svc, repo, _, _ := newTestIncidentService(t)
	ctx := context.Background()

	incident, err := svc.Create(ctx, createRequest("w-1"), testClaims(models.RoleSupervisor, "Luis Vega"))
	require.NoError(t, err)

	// Another actor wins the race after our read.
	repo.incidents[incident.ID].State = models.StateRejected

	_, err = svc.Approve(ctx, incident.ID, "", testClaims(models.RoleManager, "Maria Cruz"))
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	require.Contains(t, appErr.Message, "REJECTED")
}

func TestIncidentServiceVisibility(t *testing.T) {
	svc, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()

	mine, err := svc.Create(ctx, createRequest("w-1"), testClaims(models.RoleSupervisor, "Luis Vega"))
	require.NoError(t, err)
	theirs, err := svc.Create(ctx, createRequest("w-2"), testClaims(models.RoleSupervisor, "Rosa Diaz"))
	require.NoError(t, err)

	// Supervisors only see their own registrations.
	list, err := svc.List(ctx, dto.IncidentQuery{}, testClaims(models.RoleSupervisor, "Luis Vega"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, mine.ID, list[0].ID)
	_, err = svc.Get(ctx, theirs.ID, testClaims(models.RoleSupervisor, "Luis Vega"))
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	// Reviewers do not see incidents still pending the manager.
	list, err = svc.List(ctx, dto.IncidentQuery{}, testClaims(models.RoleReviewer, "Jorge Lara"))
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = svc.Approve(ctx, mine.ID, "", testClaims(models.RoleManager, "Maria Cruz"))
	require.NoError(t, err)
	list, err = svc.List(ctx, dto.IncidentQuery{}, testClaims(models.RoleReviewer, "Jorge Lara"))
	require.NoError(t, err)
	require.Len(t, list, 1)

	// Administrators and GPS see everything.
	for _, role := range []models.UserRole{models.RoleAdministrator, models.RoleGPS} {
		list, err = svc.List(ctx, dto.IncidentQuery{}, testClaims(role, "Observer"))
		require.NoError(t, err)
		require.Len(t, list, 2, "%s", role)
	}
}

func TestIncidentServiceSubtypeAccessList(t *testing.T) {
	svc, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()

	req := createRequest("w-9")
	req.SubtypeName = "Executive Bonus"
	incident, err := svc.Create(ctx, req, testClaims(models.RoleManager, "Maria Cruz"))
	require.NoError(t, err)

	// The access list hides the subtype from roles outside it.
	_, err = svc.Get(ctx, incident.ID, testClaims(models.RoleGPS, "Observer"))
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	got, err := svc.Get(ctx, incident.ID, testClaims(models.RoleManager, "Maria Cruz"))
	require.NoError(t, err)
	require.Equal(t, incident.ID, got.ID)

	// Admin tier bypasses subtype access lists.
	_, err = svc.Get(ctx, incident.ID, testClaims(models.RoleAdministrator, "Root Admin"))
	require.NoError(t, err)
}

func TestIncidentServiceBinAndRecover(t *testing.T) {
	svc, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	registrant := testClaims(models.RoleSupervisor, "Luis Vega")

	incident, err := svc.Create(ctx, createRequest("w-1"), registrant)
	require.NoError(t, err)

	// Actors without read visibility cannot reach the bin.
	err = svc.MoveToBin(ctx, incident.ID, dto.BinRequest{}, testClaims(models.RoleSupervisor, "Rosa Diaz"))
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	// Read visibility is all the authority binning takes: a manager may
	// bin it, and so may the registrant.
	require.NoError(t, svc.MoveToBin(ctx, incident.ID, dto.BinRequest{Reason: "captured twice"}, testClaims(models.RoleManager, "Maria Cruz")))

	// Recycled rows accept no transitions and vanish from defaults.
	_, err = svc.Approve(ctx, incident.ID, "", testClaims(models.RoleManager, "Maria Cruz"))
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	list, err := svc.List(ctx, dto.IncidentQuery{}, testClaims(models.RoleAdministrator, "Root Admin"))
	require.NoError(t, err)
	require.Empty(t, list)

	// The bin frees the business key for a fresh registration.
	replacement, err := svc.Create(ctx, createRequest("w-1"), registrant)
	require.NoError(t, err)

	// Recovering now collides with the replacement.
	_, err = svc.Recover(ctx, incident.ID, registrant)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.MoveToBin(ctx, replacement.ID, dto.BinRequest{}, registrant))
	restored, err := svc.Recover(ctx, incident.ID, registrant)
	require.NoError(t, err)
	require.Equal(t, models.StatePendingManager, restored.State)
	require.Nil(t, restored.SoftDeletedAt)
}

func TestIncidentServiceRecoverActiveIncidentIsNoOp(t *testing.T) {
	svc, _, _, audit := newTestIncidentService(t)
	ctx := context.Background()
	registrant := testClaims(models.RoleSupervisor, "Luis Vega")

	incident, err := svc.Create(ctx, createRequest("w-1"), registrant)
	require.NoError(t, err)
	logged := len(audit.logs)

	// Recovering an incident that was never binned changes nothing and
	// returns the row as-is.
	recovered, err := svc.Recover(ctx, incident.ID, registrant)
	require.NoError(t, err)
	require.Equal(t, incident.ID, recovered.ID)
	require.Equal(t, incident.State, recovered.State)
	require.Nil(t, recovered.SoftDeletedAt)
	require.Len(t, audit.logs, logged)
}

func TestIncidentServiceEditPolicy(t *testing.T) {
	svc, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()

	incident, err := svc.Create(ctx, createRequest("w-1"), testClaims(models.RoleFieldRegistrant, "Jorge Lara"))
	require.NoError(t, err)

	amount := 420.0
	update := dto.UpdateIncidentRequest{Amount: &amount}

	// Role outside the edit policy.
	_, err = svc.Edit(ctx, incident.ID, update, testClaims(models.RoleManager, "Maria Cruz"))
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Allowed role but not the registrant while own-only is on.
	_, err = svc.Edit(ctx, incident.ID, update, testClaims(models.RoleReviewer, "Other Reviewer"))
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	edited, err := svc.Edit(ctx, incident.ID, update, testClaims(models.RoleReviewer, "Jorge Lara"))
	require.NoError(t, err)
	require.Equal(t, amount, *edited.Amount)

	// Finalized incidents are immutable.
	_, err = svc.Approve(ctx, incident.ID, "", testClaims(models.RoleReviewer, "Jorge Lara"))
	require.NoError(t, err)
	_, err = svc.Edit(ctx, incident.ID, update, testClaims(models.RoleReviewer, "Jorge Lara"))
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}
