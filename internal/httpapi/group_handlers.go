package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"groupcore.org/internal/access"
	"groupcore.org/internal/audit"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
)

type registerGroupTypeRequest struct {
	EntityType string `json:"entity_type"`
	Bundle     string `json:"bundle"`
	Kind       string `json:"kind"`
}

type createMembershipRequest struct {
	GroupType string `json:"group_type"`
	GroupID   string `json:"group_id"`
	UserID    string `json:"user_id"`
}

type createRoleRequest struct {
	GroupType   string   `json:"group_type"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type accessCheckRequest struct {
	Operation  string `json:"operation"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

type createAccessCheckRequest struct {
	EntityType string `json:"entity_type"`
	Bundle     string `json:"bundle"`
}

type entityRequest struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Bundle string              `json:"bundle"`
	Owner  string              `json:"owner"`
	Fields map[string][]string `json:"fields"`
}

// Group types ---------------------------------------------------------------

func (a *API) handleGroupTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"group_types": a.registry.Descriptors(),
		})
	case http.MethodPost:
		if !a.ensureAdmin(w, r) {
			return
		}
		var req registerGroupTypeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.EntityType == "" || req.Bundle == "" {
			writeError(w, r, http.StatusBadRequest, "entity_type and bundle are required")
			return
		}
		var kind grouptype.Kind
		switch req.Kind {
		case "group":
			kind = grouptype.Group
		case "group_content":
			kind = grouptype.GroupContent
		default:
			writeError(w, r, http.StatusBadRequest, "kind must be group or group_content")
			return
		}
		a.registry.Register(req.EntityType, req.Bundle, kind)
		_ = audit.LogEvent(r.Context(), "group.type.register", map[string]any{
			"entity_type": req.EntityType,
			"bundle":      req.Bundle,
			"kind":        kind.String(),
		})
		writeJSON(w, http.StatusCreated, grouptype.Descriptor{
			EntityType: req.EntityType,
			Bundle:     req.Bundle,
			Kind:       kind,
		})
	case http.MethodDelete:
		if !a.ensureAdmin(w, r) {
			return
		}
		entityType := r.URL.Query().Get("entity_type")
		bundle := r.URL.Query().Get("bundle")
		if entityType == "" || bundle == "" {
			writeError(w, r, http.StatusBadRequest, "entity_type and bundle are required")
			return
		}
		a.registry.Unregister(entityType, bundle)
		_ = audit.LogEvent(r.Context(), "group.type.unregister", map[string]any{
			"entity_type": entityType,
			"bundle":      bundle,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// handleFields lists a bundle's audience fields and the engine's computed
// fields.
func (a *API) handleFields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	entityType := r.URL.Query().Get("entity_type")
	bundle := r.URL.Query().Get("bundle")
	if entityType == "" || bundle == "" {
		writeError(w, r, http.StatusBadRequest, "entity_type and bundle are required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audience_fields": a.engine.AudienceFields(entityType, bundle),
		"computed_fields": a.engine.BundleFields(entityType, bundle),
	})
}

// Memberships ---------------------------------------------------------------

func (a *API) handleMemberships(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensureAdmin(w, r) {
			return
		}
		var req createMembershipRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		group, err := a.source.Load(r.Context(), entity.Ref{Type: req.GroupType, ID: req.GroupID})
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "group not found")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "load group failed")
			return
		}
		rec, err := a.manager.CreateMembership(r.Context(), group, req.UserID)
		if err != nil {
			handleMembershipError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "group.membership.create", map[string]any{
			"membership_id": rec.ID,
			"group":         group.Ref().String(),
			"user_id":       rec.UserID,
		})
		writeJSON(w, http.StatusCreated, rec)
	case http.MethodGet:
		q := r.URL.Query()
		if userID := q.Get("user_id"); userID != "" {
			list, err := a.manager.ListByUser(r.Context(), userID)
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "list memberships failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"memberships": list})
			return
		}
		groupType, groupID := q.Get("group_type"), q.Get("group_id")
		if groupType == "" || groupID == "" {
			writeError(w, r, http.StatusBadRequest, "user_id or group_type+group_id is required")
			return
		}
		list, err := a.manager.ListByGroup(r.Context(), groupType, groupID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "list memberships failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"memberships": list})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleMembershipScoped serves /v1/memberships/{group_type}/{group_id}/{user_id}.
func (a *API) handleMembershipScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/memberships/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	groupType, groupID, userID := parts[0], parts[1], parts[2]

	switch r.Method {
	case http.MethodGet:
		rec, err := a.manager.Membership(r.Context(), groupType, groupID, userID)
		if err != nil {
			handleMembershipError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if !a.ensureAdmin(w, r) {
			return
		}
		if err := a.manager.DeleteMembership(r.Context(), groupType, groupID, userID); err != nil {
			handleMembershipError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "group.membership.delete", map[string]any{
			"group_type": groupType,
			"group_id":   groupID,
			"user_id":    userID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// Roles ---------------------------------------------------------------------

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensureAdmin(w, r) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.manager.CreateRole(r.Context(), &membership.Role{
			GroupType:   req.GroupType,
			Name:        req.Name,
			Permissions: req.Permissions,
		})
		if err != nil {
			handleMembershipError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "group.role.create", map[string]any{
			"role_id":    role.ID,
			"group_type": role.GroupType,
			"name":       role.Name,
		})
		writeJSON(w, http.StatusCreated, role)
	case http.MethodGet:
		groupType := r.URL.Query().Get("group_type")
		if groupType == "" {
			writeError(w, r, http.StatusBadRequest, "group_type is required")
			return
		}
		list, err := a.manager.ListRoles(r.Context(), groupType)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "list roles failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": list})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRoleScoped serves /v1/roles/{id}.
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	role, err := a.manager.Role(r.Context(), id)
	if err != nil {
		handleMembershipError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// Access checks -------------------------------------------------------------

func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, err := requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req accessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Operation == "" {
		writeError(w, r, http.StatusBadRequest, "operation is required")
		return
	}
	ent, err := a.source.Load(r.Context(), entity.Ref{Type: req.EntityType, ID: req.EntityID})
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "entity not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "load entity failed")
		return
	}
	decision := a.engine.AccessCheck(r.Context(), req.Operation, ent, principal)
	writeJSON(w, http.StatusOK, map[string]any{
		"operation": req.Operation,
		"entity":    ent.Ref().String(),
		"decision":  decision.String(),
	})
}

func (a *API) handleCreateAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, err := requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createAccessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.EntityType == "" || req.Bundle == "" {
		writeError(w, r, http.StatusBadRequest, "entity_type and bundle are required")
		return
	}
	decision := a.engine.CreateAccessCheck(r.Context(), principal, req.EntityType, req.Bundle)
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_type": req.EntityType,
		"bundle":      req.Bundle,
		"decision":    decision.String(),
	})
}

// Entities ------------------------------------------------------------------

func (a *API) handleEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureAdmin(w, r) {
		return
	}
	var req entityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ent, err := a.putEntity(req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.bus.PublishInserted(r.Context(), ent); err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ent)
}

// handleEntityScoped serves /v1/entities/{type}/{id}: GET, POST (update),
// DELETE.
func (a *API) handleEntityScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/entities/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	ref := entity.Ref{Type: parts[0], ID: parts[1]}

	switch r.Method {
	case http.MethodGet:
		ent, err := a.source.Load(r.Context(), ref)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "entity not found")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "load entity failed")
			return
		}
		writeJSON(w, http.StatusOK, ent)
	case http.MethodPost:
		if !a.ensureAdmin(w, r) {
			return
		}
		var req entityRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.Type, req.ID = ref.Type, ref.ID
		ent, err := a.putEntity(req)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.bus.PublishUpdated(r.Context(), ent); err != nil {
			writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, ent)
	case http.MethodDelete:
		if !a.ensureAdmin(w, r) {
			return
		}
		ent, err := a.source.Load(r.Context(), ref)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "entity not found")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "load entity failed")
			return
		}
		if err := a.bus.PublishPreDelete(r.Context(), ent); err != nil {
			writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		if err := a.source.Delete(r.Context(), ref); err != nil && !errors.Is(err, entity.ErrNotFound) {
			writeError(w, r, http.StatusInternalServerError, "delete entity failed")
			return
		}
		if err := a.bus.PublishDeleted(r.Context(), ent); err != nil {
			writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) putEntity(req entityRequest) (entity.Entity, error) {
	if req.Type == "" || req.ID == "" || req.Bundle == "" {
		return entity.Entity{}, errors.New("type, id and bundle are required")
	}
	putter, ok := a.source.(interface{ Put(entity.Entity) })
	if !ok {
		return entity.Entity{}, errors.New("entity source is read-only")
	}
	ent := entity.Entity{
		Type:   req.Type,
		ID:     req.ID,
		Bundle: req.Bundle,
		Owner:  req.Owner,
		Fields: req.Fields,
	}
	putter.Put(ent)
	return ent, nil
}

// Orphans -------------------------------------------------------------------

func (a *API) handleOrphanStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	strategy := a.engine.Strategy()
	if strategy == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  true,
		"strategy": strategy.ID(),
		"pending":  strategy.Pending(),
	})
}

// --- helpers ---

func (a *API) ensureAdmin(w http.ResponseWriter, r *http.Request) bool {
	principal, err := requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !principal.HasPermission(access.PermAdministerGroup) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func handleMembershipError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, membership.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, membership.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "already exists")
	case errors.Is(err, membership.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
