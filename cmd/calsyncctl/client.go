package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"gopkg.in/yaml.v3"
)

// apiClient wraps the REST API for the subcommands.
type apiClient struct {
	http *resty.Client
}

func newClient(base string) *apiClient {
	return &apiClient{http: resty.New().
		SetBaseURL(base).
		SetTimeout(2 * time.Minute).
		SetHeader("Accept", "application/json")}
}

// do sends one request and decodes a JSON body into a generic value.
// Non-2xx responses become errors carrying the server's message.
func (c *apiClient) do(method, path string, query map[string]string, body interface{}) (interface{}, error) {
	req := c.http.R().SetQueryParams(query)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(resp.Body(), &e) == nil && e.Message != "" {
			return nil, fmt.Errorf("http %d: %s", resp.StatusCode(), e.Message)
		}
		return nil, fmt.Errorf("http %d", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return nil, nil
	}
	var out interface{}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// render writes v as YAML or indented JSON.
func render(out io.Writer, format string, v interface{}) error {
	if v == nil {
		return nil
	}
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
