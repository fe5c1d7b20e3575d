package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hr-incidents-api/internal/dto"
	"github.com/noah-isme/hr-incidents-api/internal/models"
	"github.com/noah-isme/hr-incidents-api/internal/repository"
	"github.com/noah-isme/hr-incidents-api/internal/workflow"
	"github.com/noah-isme/hr-incidents-api/pkg/config"
	appErrors "github.com/noah-isme/hr-incidents-api/pkg/errors"
)

const (
	incidentDateLayout = "2006-01-02"

	// Rejections must carry a substantive explanation.
	minRejectionCommentLen = 25
)

type incidentStore interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error)
	ApplyTransition(ctx context.Context, params repository.TransitionParams) error
	UpdateFields(ctx context.Context, params repository.UpdateFieldsParams) error
	MoveToBin(ctx context.Context, id, deletedBy string, reason *string) error
	Recover(ctx context.Context, id string) error
}

type catalogResolver interface {
	GetBySubtype(ctx context.Context, subtypeName string) (*models.CatalogEntry, error)
	List(ctx context.Context) ([]models.CatalogEntry, error)
}

type incidentNotifier interface {
	NotifyIncident(incident *models.Incident)
}

type transitionRecorder interface {
	RecordTransition(from, to models.IncidentState)
	RecordIncidentRegistered(state models.IncidentState)
}

// IncidentService orchestrates the incident lifecycle: registration,
// the two-stage approval chain, recycle bin, and field edits.
type IncidentService struct {
	repo     incidentStore
	catalog  catalogResolver
	notifier incidentNotifier
	audit    auditLogger
	metrics  transitionRecorder
	policy   config.IncidentsConfig
	logger   *zap.Logger
}

// NewIncidentService constructs the service.
func NewIncidentService(repo incidentStore, catalog catalogResolver, notifier incidentNotifier, audit auditLogger, policy config.IncidentsConfig, logger *zap.Logger) *IncidentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IncidentService{
		repo:     repo,
		catalog:  catalog,
		notifier: notifier,
		audit:    audit,
		policy:   policy,
		logger:   logger,
	}
}

// WithMetrics attaches a transition recorder. Counters are optional;
// the service works without one.
func (s *IncidentService) WithMetrics(recorder transitionRecorder) *IncidentService {
	s.metrics = recorder
	return s
}

// Create registers a new incident. The catalog entry stamps the payroll
// codes and decides the initial state; the database's partial unique
// index is the sole duplicate check.
func (s *IncidentService) Create(ctx context.Context, req dto.CreateIncidentRequest, actor *models.JWTClaims) (*models.Incident, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	from, to, err := parseDateRange(req.EffectiveFrom, req.EffectiveTo)
	if err != nil {
		return nil, err
	}

	entry, err := s.catalog.GetBySubtype(ctx, req.SubtypeName)
	if err != nil {
		return nil, err
	}

	incident := &models.Incident{
		WorkerID:       strings.TrimSpace(req.WorkerID),
		WorkerName:     strings.TrimSpace(req.WorkerName),
		SubtypeName:    entry.SubtypeName,
		InfotypeCode:   entry.InfotypeCode,
		ConceptCode:    entry.ConceptCode,
		RegistrantName: actor.FullName,
		RegistrantRole: actor.Role,
		State:          workflow.InitialState(entry.RequiresApproval, actor.Role),
		EffectiveFrom:  from,
		EffectiveTo:    to,
		Amount:         req.Amount,
		Quantity:       req.Quantity,
		Hours:          req.Hours,
		Folio:          trimOptional(req.Folio),
		Email:          trimOptional(req.Email),
	}
	if incident.WorkerID == "" || incident.WorkerName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "worker id and worker name are required")
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		if isDuplicate(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an equivalent active incident already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create incident")
	}

	newValues, _ := json.Marshal(incident)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionIncidentCreate,
		Resource:   "incident",
		ResourceID: &incident.ID,
		NewValues:  newValues,
	})
	s.notifier.NotifyIncident(incident)
	if s.metrics != nil {
		s.metrics.RecordIncidentRegistered(incident.State)
	}
	return incident, nil
}

// Get returns one incident, enforcing read visibility. Rows outside the
// actor's visibility are indistinguishable from missing ones.
func (s *IncidentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Incident, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	incident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Deleted() && !isAdminTier(actor.Role) {
		return nil, appErrors.ErrNotFound
	}
	visible, err := s.visibleTo(ctx, incident, actor)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, appErrors.ErrNotFound
	}
	return incident, nil
}

// List returns incidents the actor may see. Visibility is a read-side
// filter only; it never grants transition authority.
func (s *IncidentService) List(ctx context.Context, query dto.IncidentQuery, actor *models.JWTClaims) ([]models.Incident, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if query.DeletedOnly && !isAdminTier(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may browse the recycle bin")
	}
	for _, state := range query.States {
		if !workflow.ValidState(state) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown incident state: %s", state))
		}
	}

	filter := models.IncidentFilter{
		States:      query.States,
		WorkerID:    query.WorkerID,
		SubtypeName: query.SubtypeName,
		DeletedOnly: query.DeletedOnly,
		Limit:       query.Limit,
		Offset:      query.Offset,
	}
	if isRegistrantScoped(actor.Role) {
		filter.RegistrantName = actor.FullName
	}

	incidents, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list incidents")
	}

	access, err := s.catalogAccess(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]models.Incident, 0, len(incidents))
	for i := range incidents {
		if s.visibleWithAccess(&incidents[i], actor, access) {
			visible = append(visible, incidents[i])
		}
	}
	return visible, nil
}

// Transition executes an explicit state change requested by the actor.
func (s *IncidentService) Transition(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.Incident, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !workflow.ValidState(req.RequestedState) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown incident state: %s", req.RequestedState))
	}
	incident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, incident, req.RequestedState, req.Comment, actor)
}

// Approve advances the incident along its approve edge: manager stage
// to reviewer stage, reviewer stage to approved.
func (s *IncidentService) Approve(ctx context.Context, id, comment string, actor *models.JWTClaims) (*models.Incident, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	incident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	target, ok := workflow.ApproveTarget(incident.State)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("incident in state %s cannot be approved", incident.State))
	}
	return s.transition(ctx, incident, target, comment, actor)
}

// Reject finalizes the incident as rejected from either pending stage.
func (s *IncidentService) Reject(ctx context.Context, id, comment string, actor *models.JWTClaims) (*models.Incident, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	incident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, incident, models.StateRejected, comment, actor)
}

func (s *IncidentService) transition(ctx context.Context, incident *models.Incident, to models.IncidentState, comment string, actor *models.JWTClaims) (*models.Incident, error) {
	if incident.Deleted() {
		return nil, appErrors.ErrNotFound
	}
	from := incident.State
	if !workflow.CanTransition(from, to) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move incident from %s to %s", from, to))
	}
	if !workflow.Allowed(actor.Role, from, to) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not move incident from %s to %s", actor.Role, from, to))
	}

	params := repository.TransitionParams{
		ID:        incident.ID,
		FromState: from,
		ToState:   to,
	}
	trimmed := strings.TrimSpace(comment)
	switch {
	case to == models.StateRejected:
		if len(trimmed) < minRejectionCommentLen {
			return nil, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("rejection comment must be at least %d characters", minRejectionCommentLen))
		}
		// The prose suffix keeps the legacy UI readable; rejected_by is
		// the structured attribution.
		rejection := fmt.Sprintf("%s (Rejected by: %s)", trimmed, actor.FullName)
		params.RejectionComment = &rejection
		params.RejectedBy = &actor.FullName
	case workflow.IsApproveEdge(from, to):
		approver := actor.FullName
		switch from {
		case models.StatePendingManager:
			params.ManagerApprover = &approver
			if trimmed != "" {
				params.ManagerComment = &trimmed
			}
		case models.StatePendingReviewer:
			params.ReviewerApprover = &approver
			if trimmed != "" {
				params.ReviewerComment = &trimmed
			}
		}
	}

	if err := s.repo.ApplyTransition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.transitionConflict(ctx, incident.ID, from)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
	}

	updated, err := s.load(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	event, _ := json.Marshal(models.IncidentEvent{
		IncidentID: incident.ID,
		FromState:  from,
		ToState:    to,
		ActorRole:  actor.Role,
	})
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionIncidentTransition,
		Resource:   "incident",
		ResourceID: &incident.ID,
		NewValues:  event,
	})
	s.notifier.NotifyIncident(updated)
	if s.metrics != nil {
		s.metrics.RecordTransition(from, to)
	}
	return updated, nil
}

// transitionConflict explains a zero-row guarded update: the incident
// was either finalized by a concurrent actor or moved to the bin.
func (s *IncidentService) transitionConflict(ctx context.Context, id string, expected models.IncidentState) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload incident")
	}
	if current.Deleted() {
		return appErrors.ErrNotFound
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition,
		fmt.Sprintf("incident is no longer in state %s (now %s)", expected, current.State))
}

// Edit updates mutable business fields under the configured edit
// policy. Finalized incidents are immutable.
func (s *IncidentService) Edit(ctx context.Context, id string, req dto.UpdateIncidentRequest, actor *models.JWTClaims) (*models.Incident, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !s.editAllowed(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not edit incidents", actor.Role))
	}
	incident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Deleted() {
		return nil, appErrors.ErrNotFound
	}
	if workflow.IsTerminal(incident.State) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "finalized incidents cannot be edited")
	}
	if s.policy.EditOwnOnly && !isAdminTier(actor.Role) && incident.RegistrantName != actor.FullName {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "incidents may only be edited by their registrant")
	}

	before, _ := json.Marshal(incident)
	params := repository.UpdateFieldsParams{
		ID:         incident.ID,
		WorkerName: trimOptional(req.WorkerName),
		Amount:     req.Amount,
		Quantity:   req.Quantity,
		Hours:      req.Hours,
		Folio:      trimOptional(req.Folio),
		Email:      trimOptional(req.Email),
	}
	if req.EffectiveFrom != nil || req.EffectiveTo != nil {
		fromRaw := incident.EffectiveFrom.Format(incidentDateLayout)
		toRaw := incident.EffectiveTo.Format(incidentDateLayout)
		if req.EffectiveFrom != nil {
			fromRaw = *req.EffectiveFrom
		}
		if req.EffectiveTo != nil {
			toRaw = *req.EffectiveTo
		}
		from, to, err := parseDateRange(fromRaw, toRaw)
		if err != nil {
			return nil, err
		}
		params.EffectiveFrom = &from
		params.EffectiveTo = &to
	}

	if err := s.repo.UpdateFields(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update incident")
	}

	updated, err := s.load(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	after, _ := json.Marshal(updated)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionIncidentEdit,
		Resource:   "incident",
		ResourceID: &incident.ID,
		OldValues:  before,
		NewValues:  after,
	})
	return updated, nil
}

// MoveToBin soft-deletes an incident. The row keeps its state and drops
// out of default listings and the duplicate guard. Any actor with read
// visibility of the incident may bin it.
func (s *IncidentService) MoveToBin(ctx context.Context, id string, req dto.BinRequest, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	incident, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	visible, err := s.visibleTo(ctx, incident, actor)
	if err != nil {
		return err
	}
	if !visible {
		return appErrors.ErrNotFound
	}
	if err := s.repo.MoveToBin(ctx, id, actor.FullName, trimOptional(&req.Reason)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "incident is already in the recycle bin")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move incident to bin")
	}
	before, _ := json.Marshal(incident)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionIncidentBin,
		Resource:   "incident",
		ResourceID: &incident.ID,
		OldValues:  before,
	})
	return nil
}

// Recover restores a recycled incident in the exact state it was
// deleted in. Authority mirrors MoveToBin: read visibility is enough.
// Recovering an incident that is not binned is an idempotent no-op.
func (s *IncidentService) Recover(ctx context.Context, id string, actor *models.JWTClaims) (*models.Incident, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	incident, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	visible, err := s.visibleTo(ctx, incident, actor)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, appErrors.ErrNotFound
	}
	if !incident.Deleted() {
		return incident, nil
	}
	if err := s.repo.Recover(ctx, id); err != nil {
		switch {
		case isDuplicate(err):
			return nil, appErrors.Clone(appErrors.ErrConflict, "an equivalent active incident already exists")
		case errors.Is(err, sql.ErrNoRows):
			// Lost a race with another recover; the row is active now.
			return s.load(ctx, id)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to recover incident")
		}
	}
	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	after, _ := json.Marshal(updated)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionIncidentRecover,
		Resource:   "incident",
		ResourceID: &updated.ID,
		NewValues:  after,
	})
	return updated, nil
}

func (s *IncidentService) load(ctx context.Context, id string) (*models.Incident, error) {
	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load incident")
	}
	return incident, nil
}

func (s *IncidentService) visibleTo(ctx context.Context, incident *models.Incident, actor *models.JWTClaims) (bool, error) {
	access, err := s.catalogAccess(ctx)
	if err != nil {
		return false, err
	}
	return s.visibleWithAccess(incident, actor, access), nil
}

// catalogAccess snapshots subtype access lists for visibility checks.
func (s *IncidentService) catalogAccess(ctx context.Context) (map[string]*models.CatalogEntry, error) {
	entries, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	access := make(map[string]*models.CatalogEntry, len(entries))
	for i := range entries {
		access[entries[i].SubtypeName] = &entries[i]
	}
	return access, nil
}

func (s *IncidentService) visibleWithAccess(incident *models.Incident, actor *models.JWTClaims, access map[string]*models.CatalogEntry) bool {
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdministrator, models.RoleGPS, models.RoleManager:
		// Full read visibility.
	case models.RoleReviewer:
		// Reviewers only see incidents once the manager stage is done.
		if incident.State == models.StatePendingManager {
			return false
		}
	case models.RoleSupervisor, models.RoleFieldRegistrant:
		if incident.RegistrantName != actor.FullName {
			return false
		}
	default:
		return false
	}
	if entry, ok := access[incident.SubtypeName]; ok && !isAdminTier(actor.Role) {
		return entry.VisibleTo(actor.Role)
	}
	return true
}

func (s *IncidentService) editAllowed(role models.UserRole) bool {
	for _, allowed := range s.policy.EditRoles {
		if models.UserRole(allowed) == role {
			return true
		}
	}
	return isAdminTier(role)
}

func (s *IncidentService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "incident-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func isAdminTier(role models.UserRole) bool {
	return role == models.RoleSuperAdmin || role == models.RoleAdministrator
}

// isRegistrantScoped reports whether the role only sees its own
// registrations.
func isRegistrantScoped(role models.UserRole) bool {
	return role == models.RoleSupervisor || role == models.RoleFieldRegistrant
}

func isDuplicate(err error) bool {
	return errors.Is(err, repository.ErrDuplicateIncident) || errors.Is(err, repository.ErrDuplicateCatalogEntry)
}

func parseDateRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from, err := time.Parse(incidentDateLayout, strings.TrimSpace(fromRaw))
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "effective_from must be a YYYY-MM-DD date")
	}
	to, err := time.Parse(incidentDateLayout, strings.TrimSpace(toRaw))
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "effective_to must be a YYYY-MM-DD date")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "effective_to must not precede effective_from")
	}
	return from, to, nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
