package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"directory-service/internal/client"
	"directory-service/internal/model"
	"directory-service/internal/util"
)

const reindexConcurrency = 8

// Indexer mirrors public profiles into Elasticsearch for directory search.
// The document store stays authoritative; the index is rebuilt on demand.
type Indexer struct {
	es *client.ESClient
}

func NewIndexer(es *client.ESClient) *Indexer {
	return &Indexer{es: es}
}

type esDocument struct {
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Roll      string   `json:"roll_number"`
	Skills    []string `json:"skills"`
	About     string   `json:"about"`
	UpdatedAt string   `json:"updated_at"`
}

func (i *Indexer) IndexStudent(ctx context.Context, student *model.Student) error {
	doc := esDocument{
		Name:      student.Name,
		Email:     student.Email,
		Roll:      student.RollNumber,
		Skills:    student.Skills,
		About:     student.About,
		UpdatedAt: student.UpdatedAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode search document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.es.Index(),
		DocumentID: student.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, i.es.Client)
	if err != nil {
		util.Error("Failed to index student",
			zap.String("student_id", student.ID),
			zap.Error(err))
		return fmt.Errorf("failed to index student: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index request failed: %s", res.Status())
	}

	util.Debug("Student indexed",
		zap.String("student_id", student.ID))

	return nil
}

// Search runs a multi_match query over name, skills and about.
func (i *Indexer) Search(ctx context.Context, query string, limit int) ([]*model.PublicProfile, error) {
	var body bytes.Buffer
	searchBody := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"name^2", "skills^2", "about", "roll_number"},
				"fuzziness": "AUTO",
			},
		},
	}
	if err := json.NewEncoder(&body).Encode(searchBody); err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := i.es.Client.Search(
		i.es.Client.Search.WithContext(ctx),
		i.es.Client.Search.WithIndex(i.es.Index()),
		i.es.Client.Search.WithBody(&body),
	)
	if err != nil {
		util.Error("Search request failed",
			zap.String("query", query),
			zap.Error(err))
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search request failed: %s: %s", res.Status(), string(raw))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string     `json:"_id"`
				Source esDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	profiles := make([]*model.PublicProfile, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		skills := hit.Source.Skills
		if skills == nil {
			skills = []string{}
		}
		profiles = append(profiles, &model.PublicProfile{
			ID:         hit.ID,
			Name:       hit.Source.Name,
			Email:      hit.Source.Email,
			RollNumber: hit.Source.Roll,
			Skills:     skills,
			About:      hit.Source.About,
		})
	}

	return profiles, nil
}

// Reindex rebuilds the index from the document store page by page,
// indexing each page with bounded concurrency.
func (i *Indexer) Reindex(ctx context.Context, repo model.StudentRepository) (int, error) {
	const pageSize = 200

	indexed := 0
	for offset := 0; ; offset += pageSize {
		students, _, err := repo.List(ctx, pageSize, offset)
		if err != nil {
			return indexed, fmt.Errorf("failed to page students for reindex: %w", err)
		}
		if len(students) == 0 {
			break
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(reindexConcurrency)
		for _, student := range students {
			student := student
			group.Go(func() error {
				return i.IndexStudent(groupCtx, student)
			})
		}
		if err := group.Wait(); err != nil {
			return indexed, err
		}
		indexed += len(students)
	}

	util.Info("Reindex complete",
		zap.Int("students_indexed", indexed))

	return indexed, nil
}
