// Package audit records security-relevant events: authorization denials,
// invitation lifecycle changes, and permission replacements. Recording is
// best-effort and never fails the calling operation.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orgware/orgware/internal/auth"
	"github.com/orgware/orgware/internal/common/database"
)

// Outcome classifies how the recorded operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailure Outcome = "failure"
)

// Event action constants.
const (
	ActionAuthzDeny          = "authz.deny"
	ActionInvitationCreate   = "invitation.create"
	ActionInvitationRedeem   = "invitation.redeem"
	ActionInvitationRevoke   = "invitation.revoke"
	ActionPermissionsReplace = "permissions.replace"
)

// Event is one audit trail entry.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Outcome   Outcome                `json:"outcome"`
	ActorID   string                 `json:"actor_id,omitempty"`
	TargetID  string                 `json:"target_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

const indexName = "orgware-audit"

const indexMapping = `{
  "mappings": {
    "properties": {
      "timestamp": {"type": "date"},
      "action":    {"type": "keyword"},
      "outcome":   {"type": "keyword"},
      "actor_id":  {"type": "keyword"},
      "target_id": {"type": "keyword"},
      "details":   {"type": "object", "enabled": true}
    }
  }
}`

// Service persists audit events to postgres and indexes them into
// Elasticsearch for search. Either sink may be nil.
type Service struct {
	db     *database.PostgresDB
	es     *database.ElasticsearchClient
	logger *zap.Logger
}

// NewService creates an audit recorder. When es is non-nil the search
// index is created on first use if missing.
func NewService(db *database.PostgresDB, es *database.ElasticsearchClient, logger *zap.Logger) *Service {
	s := &Service{
		db:     db,
		es:     es,
		logger: logger.With(zap.String("service", "audit")),
	}
	if es != nil {
		if err := es.EnsureIndex(indexName, indexMapping); err != nil {
			s.logger.Warn("audit index setup failed", zap.Error(err))
		}
	}
	return s
}

// Record stores an event. Failures are logged and swallowed; the audit
// trail must never break the operation it describes.
func (s *Service) Record(ctx context.Context, event Event) {
	if s == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if s.db != nil {
		detailsJSON, err := json.Marshal(event.Details)
		if err != nil {
			detailsJSON = []byte("{}")
		}
		_, err = s.db.Pool.Exec(ctx,
			`INSERT INTO audit_events (id, timestamp, action, outcome, actor_id, target_id, details)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			event.ID, event.Timestamp, event.Action, event.Outcome,
			event.ActorID, event.TargetID, detailsJSON,
		)
		if err != nil {
			s.logger.Warn("audit event insert failed",
				zap.String("action", event.Action), zap.Error(err))
		}
	}

	if s.es != nil {
		body, err := json.Marshal(event)
		if err == nil {
			if err := s.es.Index(indexName, event.ID, body); err != nil {
				s.logger.Warn("audit event indexing failed",
					zap.String("action", event.Action), zap.Error(err))
			}
		}
	}
}

// RecordDenial records an authorization denial. It satisfies the
// decision engine's recorder contract.
func (s *Service) RecordDenial(ctx context.Context, principalID, feature string, action auth.Action, subFeature string, reason string) {
	s.Record(ctx, Event{
		Action:  ActionAuthzDeny,
		Outcome: OutcomeDenied,
		ActorID: principalID,
		Details: map[string]interface{}{
			"feature":     feature,
			"action":      string(action),
			"sub_feature": subFeature,
			"reason":      reason,
		},
	})
}

// SearchQuery filters the audit trail.
type SearchQuery struct {
	Action  string    `json:"action,omitempty"`
	ActorID string    `json:"actor_id,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// Search queries the Elasticsearch index.
func (s *Service) Search(ctx context.Context, query SearchQuery) ([]Event, error) {
	if s.es == nil {
		return nil, fmt.Errorf("audit search requires elasticsearch")
	}

	limit := query.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var filters []map[string]interface{}
	if query.Action != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"action": query.Action}})
	}
	if query.ActorID != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"actor_id": query.ActorID}})
	}
	if query.Outcome != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"outcome": query.Outcome}})
	}
	if !query.From.IsZero() || !query.To.IsZero() {
		rangeBounds := map[string]interface{}{}
		if !query.From.IsZero() {
			rangeBounds["gte"] = query.From
		}
		if !query.To.IsZero() {
			rangeBounds["lte"] = query.To
		}
		filters = append(filters, map[string]interface{}{"range": map[string]interface{}{"timestamp": rangeBounds}})
	}

	esQuery := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{{"timestamp": map[string]interface{}{"order": "desc"}}},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
	}

	body, err := json.Marshal(esQuery)
	if err != nil {
		return nil, fmt.Errorf("marshal search query: %w", err)
	}

	raw, err := s.es.Search(indexName, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("audit search: %w", err)
	}

	var response struct {
		Hits struct {
			Hits []struct {
				Source Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	events := make([]Event, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}
