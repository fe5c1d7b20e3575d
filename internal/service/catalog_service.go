package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/hr-incidents-api/internal/dto"
	"github.com/noah-isme/hr-incidents-api/internal/models"
	appErrors "github.com/noah-isme/hr-incidents-api/pkg/errors"
)

const catalogCachePrefix = "catalog:subtype:"

type catalogStore interface {
	List(ctx context.Context) ([]models.CatalogEntry, error)
	GetBySubtype(ctx context.Context, subtypeName string) (*models.CatalogEntry, error)
	Create(ctx context.Context, entry *models.CatalogEntry) error
	Update(ctx context.Context, entry *models.CatalogEntry) error
	Delete(ctx context.Context, id string) error
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CatalogService manages incident subtype definitions with a
// read-through cache in front of the lookup the incident hot path uses.
type CatalogService struct {
	repo   catalogStore
	cache  catalogCache
	ttl    time.Duration
	audit  auditLogger
	logger *zap.Logger
}

// NewCatalogService constructs the service.
func NewCatalogService(repo catalogStore, cache catalogCache, ttl time.Duration, audit auditLogger, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CatalogService{repo: repo, cache: cache, ttl: ttl, audit: audit, logger: logger}
}

// List returns every catalog entry.
func (s *CatalogService) List(ctx context.Context) ([]models.CatalogEntry, error) {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list catalog entries")
	}
	return entries, nil
}

// GetBySubtype resolves a subtype definition, serving from cache when
// possible. Unknown subtypes map to NOT_FOUND.
func (s *CatalogService) GetBySubtype(ctx context.Context, subtypeName string) (*models.CatalogEntry, error) {
	subtypeName = strings.TrimSpace(subtypeName)
	if subtypeName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subtype name is required")
	}

	key := catalogCachePrefix + subtypeName
	if s.cache != nil {
		var cached models.CatalogEntry
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("catalog cache read failed", zap.String("subtype", subtypeName), zap.Error(err))
		}
	}

	entry, err := s.repo.GetBySubtype(ctx, subtypeName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown incident subtype: %s", subtypeName))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catalog entry")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, entry, s.ttl); err != nil {
			s.logger.Warn("catalog cache write failed", zap.String("subtype", subtypeName), zap.Error(err))
		}
	}
	return entry, nil
}

// Create registers a new subtype.
func (s *CatalogService) Create(ctx context.Context, req dto.CreateCatalogEntryRequest, actorID string) (*models.CatalogEntry, error) {
	if err := validateRoleList(req.RolesWithAccess); err != nil {
		return nil, err
	}
	entry := &models.CatalogEntry{
		SubtypeName:      strings.TrimSpace(req.SubtypeName),
		InfotypeCode:     strings.TrimSpace(req.InfotypeCode),
		ConceptCode:      strings.TrimSpace(req.ConceptCode),
		RequiresApproval: req.RequiresApproval,
		RolesWithAccess:  pq.StringArray(req.RolesWithAccess),
	}
	if entry.SubtypeName == "" || entry.InfotypeCode == "" || entry.ConceptCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subtype name, infotype code and concept code are required")
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		if isDuplicate(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("subtype already exists: %s", entry.SubtypeName))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create catalog entry")
	}
	s.invalidate(ctx)
	s.emitAudit(ctx, actorID, entry, nil)
	return entry, nil
}

// Update edits a subtype definition. Changes only affect incidents
// registered afterwards; existing rows keep their stamped codes.
func (s *CatalogService) Update(ctx context.Context, subtypeName string, req dto.UpdateCatalogEntryRequest, actorID string) (*models.CatalogEntry, error) {
	if err := validateRoleList(req.RolesWithAccess); err != nil {
		return nil, err
	}
	entry, err := s.GetBySubtype(ctx, subtypeName)
	if err != nil {
		return nil, err
	}
	before, _ := json.Marshal(entry)

	if req.InfotypeCode != nil {
		entry.InfotypeCode = strings.TrimSpace(*req.InfotypeCode)
	}
	if req.ConceptCode != nil {
		entry.ConceptCode = strings.TrimSpace(*req.ConceptCode)
	}
	if req.RequiresApproval != nil {
		entry.RequiresApproval = *req.RequiresApproval
	}
	if req.RolesWithAccess != nil {
		entry.RolesWithAccess = pq.StringArray(req.RolesWithAccess)
	}

	if err := s.repo.Update(ctx, entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update catalog entry")
	}
	s.invalidate(ctx)
	s.emitAudit(ctx, actorID, entry, before)
	return entry, nil
}

// Delete removes a subtype definition.
func (s *CatalogService) Delete(ctx context.Context, subtypeName, actorID string) error {
	entry, err := s.GetBySubtype(ctx, subtypeName)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, entry.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete catalog entry")
	}
	s.invalidate(ctx)
	s.emitAudit(ctx, actorID, entry, nil)
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, catalogCachePrefix+"*"); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}

func (s *CatalogService) emitAudit(ctx context.Context, actorID string, entry *models.CatalogEntry, oldValues []byte) {
	if s.audit == nil {
		return
	}
	newValues, _ := json.Marshal(entry)
	log := &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionCatalogChange,
		Resource:   "catalog_entry",
		ResourceID: &entry.ID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "catalog-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func validateRoleList(roles []string) error {
	known := map[models.UserRole]bool{
		models.RoleSuperAdmin:      true,
		models.RoleAdministrator:   true,
		models.RoleManager:         true,
		models.RoleReviewer:        true,
		models.RoleGPS:             true,
		models.RoleSupervisor:      true,
		models.RoleFieldRegistrant: true,
	}
	for _, role := range roles {
		if !known[models.UserRole(role)] {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role in access list: %s", role))
		}
	}
	return nil
}
