package service

import (
	"encoding/json"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/meilisearch/meilisearch-go"
	"github.com/microcosm-cc/bluemonday"
)

const activitiesIndex = "activities"

// ActivityDocument is the search projection of an activity. Descriptions are
// sanitized before indexing because comment previews may carry user HTML.
type ActivityDocument struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
}

type SearchService interface {
	IndexActivity(doc ActivityDocument) error
	SearchActivities(query string, projectIDs []uuid.UUID) ([]ActivityDocument, error)
}

type meiliSearchService struct {
	client    meilisearch.ServiceManager
	sanitizer *bluemonday.Policy
}

func NewMeiliSearchService(client meilisearch.ServiceManager) SearchService {
	s := &meiliSearchService{
		client:    client,
		sanitizer: bluemonday.StrictPolicy(),
	}
	s.initIndexes()
	return s
}

func (s *meiliSearchService) initIndexes() {
	filterableAttrs := []string{"project_id", "type"}
	filterableInterface := make([]any, len(filterableAttrs))
	for i, v := range filterableAttrs {
		filterableInterface[i] = v
	}
	_, err := s.client.Index(activitiesIndex).UpdateFilterableAttributes(&filterableInterface)
	if err != nil {
		log.Printf("Failed to update activities filterable attributes: %v", err)
	}

	sortableAttrs := []string{"created_at"}
	_, err = s.client.Index(activitiesIndex).UpdateSortableAttributes(&sortableAttrs)
	if err != nil {
		log.Printf("Failed to update activities sortable attributes: %v", err)
	}
}

func (s *meiliSearchService) cleanForIndex(text string) string {
	sanitized := s.sanitizer.Sanitize(text)
	clean := html.UnescapeString(sanitized)
	return strings.Join(strings.Fields(clean), " ")
}

func (s *meiliSearchService) IndexActivity(doc ActivityDocument) error {
	doc.Description = s.cleanForIndex(doc.Description)

	_, err := s.client.Index(activitiesIndex).AddDocuments([]ActivityDocument{doc}, strPtr("id"))
	return err
}

func (s *meiliSearchService) SearchActivities(query string, projectIDs []uuid.UUID) ([]ActivityDocument, error) {
	if len(projectIDs) == 0 {
		return []ActivityDocument{}, nil
	}

	quoted := make([]string, len(projectIDs))
	for i, id := range projectIDs {
		quoted[i] = fmt.Sprintf("%q", id.String())
	}
	filter := fmt.Sprintf("project_id IN [%s]", strings.Join(quoted, ", "))

	resp, err := s.client.Index(activitiesIndex).Search(query, &meilisearch.SearchRequest{
		Filter: filter,
		Sort:   []string{"created_at:desc"},
		Limit:  50,
	})
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(resp.Hits)
	if err != nil {
		return nil, err
	}

	var docs []ActivityDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func strPtr(s string) *string {
	return &s
}
