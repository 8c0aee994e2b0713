package outbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// SchemaRegistryClient provides minimal interactions with Confluent Schema Registry.
type SchemaRegistryClient struct {
	client *resty.Client
}

type schemaIDResponse struct {
	ID int `json:"id"`
}

// NewSchemaRegistryClient constructs a client with sane defaults.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Accept", "application/vnd.schemaregistry.v1+json")
	return &SchemaRegistryClient{client: client}
}

// EnsureSchema ensures a schema subject exists and returns the schema ID.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	if id, err := c.fetchLatest(ctx, subject); err == nil {
		return id, nil
	}
	return c.register(ctx, subject, schema)
}

func (c *SchemaRegistryClient) fetchLatest(ctx context.Context, subject string) (int, error) {
	var payload schemaIDResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get("/subjects/" + url.PathEscape(subject) + "/versions/latest")
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return 0, fmt.Errorf("schema subject not found")
	}
	if resp.IsError() {
		return 0, fmt.Errorf("schema registry error: %s", resp.String())
	}
	return payload.ID, nil
}

func (c *SchemaRegistryClient) register(ctx context.Context, subject string, schema string) (int, error) {
	var payload schemaIDResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/vnd.schemaregistry.v1+json").
		SetBody(map[string]any{
			"schemaType": "JSON",
			"schema":     schema,
		}).
		SetResult(&payload).
		Post("/subjects/" + url.PathEscape(subject) + "/versions")
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("schema registry register error: %s", resp.String())
	}
	return payload.ID, nil
}
