package service

import (
	"context"
	"encoding/json"
	"strings"

	"saaskit/internal/model"

	"github.com/google/uuid"
)

const postmanSchema = "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"

// PostmanCollection is a Postman v2.1 collection
type PostmanCollection struct {
	Info     PostmanInfo       `json:"info"`
	Item     []PostmanFolder   `json:"item"`
	Variable []PostmanVariable `json:"variable"`
}

// PostmanInfo is the collection header
type PostmanInfo struct {
	PostmanID   string `json:"_postman_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      string `json:"schema"`
}

// PostmanVariable is a collection variable
type PostmanVariable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PostmanFolder groups the requests of one entity
type PostmanFolder struct {
	Name string        `json:"name"`
	Item []PostmanItem `json:"item"`
}

// PostmanItem is one request
type PostmanItem struct {
	Name    string         `json:"name"`
	Request PostmanRequest `json:"request"`
}

// PostmanRequest describes the HTTP call
type PostmanRequest struct {
	Method string          `json:"method"`
	Header []PostmanHeader `json:"header"`
	URL    PostmanURL      `json:"url"`
	Body   *PostmanBody    `json:"body,omitempty"`
}

// PostmanHeader is a request header
type PostmanHeader struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PostmanURL is a parsed request URL
type PostmanURL struct {
	Raw   string         `json:"raw"`
	Host  []string       `json:"host"`
	Path  []string       `json:"path"`
	Query []PostmanQuery `json:"query,omitempty"`
}

// PostmanQuery is a query parameter
type PostmanQuery struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Disabled bool   `json:"disabled,omitempty"`
}

// PostmanBody is a raw JSON body
type PostmanBody struct {
	Mode    string          `json:"mode"`
	Raw     string          `json:"raw"`
	Options json.RawMessage `json:"options,omitempty"`
}

// APISpecService documents the API-key surface
type APISpecService struct {
	entities *EntityService
}

// NewAPISpecService creates an API spec service
func NewAPISpecService(entities *EntityService) *APISpecService {
	return &APISpecService{entities: entities}
}

// SampleValue returns an example value of a property
func SampleValue(p *model.Property) any {
	switch p.Type {
	case model.PropertyNumber:
		return 0
	case model.PropertyBoolean:
		return false
	case model.PropertyDate:
		return "2024-01-31"
	case model.PropertyEmail:
		return "john.doe@example.com"
	case model.PropertyURL:
		return "https://example.com"
	case model.PropertySelect:
		if len(p.Options) > 0 {
			return p.Options[0].Value
		}
		return ""
	case model.PropertyMultiSelect:
		if len(p.Options) > 0 {
			return []string{p.Options[0].Value}
		}
		return []string{}
	}
	return p.Title
}

func sampleBody(entity *model.Entity) string {
	values := make(map[string]any, len(entity.Properties))
	for i := range entity.Properties {
		p := &entity.Properties[i]
		values[p.Name] = SampleValue(p)
	}
	raw, _ := json.MarshalIndent(map[string]any{"values": values}, "", "  ")
	return string(raw)
}

func postmanRequest(method string, path []string, body string, query []PostmanQuery) PostmanRequest {
	headers := []PostmanHeader{{Key: "X-Api-Key", Value: "{{apiKey}}"}}
	raw := "{{baseUrl}}/" + strings.Join(path, "/")
	if len(query) > 0 {
		parts := make([]string, 0, len(query))
		for _, q := range query {
			parts = append(parts, q.Key+"="+q.Value)
		}
		raw += "?" + strings.Join(parts, "&")
	}
	req := PostmanRequest{
		Method: method,
		Header: headers,
		URL:    PostmanURL{Raw: raw, Host: []string{"{{baseUrl}}"}, Path: path, Query: query},
	}
	if body != "" {
		req.Header = append(req.Header, PostmanHeader{Key: "Content-Type", Value: "application/json"})
		req.Body = &PostmanBody{
			Mode:    "raw",
			Raw:     body,
			Options: json.RawMessage(`{"raw":{"language":"json"}}`),
		}
	}
	return req
}

// Postman builds a collection with one folder per API-enabled entity
func (s *APISpecService) Postman(ctx context.Context, name, baseURL string) (*PostmanCollection, error) {
	entities, err := s.entities.List(ctx, true)
	if err != nil {
		return nil, err
	}

	collection := &PostmanCollection{
		Info: PostmanInfo{
			PostmanID:   uuid.NewString(),
			Name:        name + " API",
			Description: "Row endpoints authenticated with the X-Api-Key header.",
			Schema:      postmanSchema,
		},
		Item: []PostmanFolder{},
		Variable: []PostmanVariable{
			{Key: "baseUrl", Value: strings.TrimRight(baseURL, "/")},
			{Key: "apiKey", Value: ""},
		},
	}

	for i := range entities {
		entity := &entities[i]
		if !entity.HasAPI {
			continue
		}
		rows := []string{"api", "v1", "entities", entity.Slug, "rows"}
		one := append(append([]string{}, rows...), ":id")
		body := sampleBody(entity)

		collection.Item = append(collection.Item, PostmanFolder{
			Name: entity.TitlePlural,
			Item: []PostmanItem{
				{Name: "List " + entity.TitlePlural, Request: postmanRequest("GET", rows, "", []PostmanQuery{
					{Key: "page", Value: "1"},
					{Key: "per_page", Value: "10"},
					{Key: "q", Value: "", Disabled: true},
				})},
				{Name: "Get " + entity.Title, Request: postmanRequest("GET", one, "", nil)},
				{Name: "Create " + entity.Title, Request: postmanRequest("POST", rows, body, nil)},
				{Name: "Update " + entity.Title, Request: postmanRequest("PUT", one, body, nil)},
				{Name: "Delete " + entity.Title, Request: postmanRequest("DELETE", one, "", nil)},
			},
		})
	}
	return collection, nil
}
