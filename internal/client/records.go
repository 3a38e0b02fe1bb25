package client

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/go-querystring/query"

	"pbembed/internal/logging"
	"pbembed/internal/pbconn"
)

// ViewOptions are the query parameters accepted when reading one record.
type ViewOptions struct {
	Expand string `url:"expand,omitempty"`
	Fields string `url:"fields,omitempty"`
}

// ListOptions are the query parameters accepted by the list endpoint. Zero
// values are omitted and the server defaults apply.
type ListOptions struct {
	Page      int    `url:"page,omitempty"`
	PerPage   int    `url:"perPage,omitempty"`
	Sort      string `url:"sort,omitempty"`
	Filter    string `url:"filter,omitempty"`
	SkipTotal bool   `url:"skipTotal,omitempty"`
	Expand    string `url:"expand,omitempty"`
	Fields    string `url:"fields,omitempty"`
}

// ListPage is the decoded envelope of a list response.
type ListPage struct {
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
	Items      []json.RawMessage `json:"items"`
}

type Collection struct {
	client *Client
	name   string
}

func (c *Client) Collection(name string) *Collection {
	return &Collection{client: c, name: strings.TrimSpace(name)}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) recordsURL(segments ...string) string {
	return c.client.conn.Endpoint(append([]string{"collections", c.name, "records"}, segments...)...)
}

func (c *Collection) GetOne(ctx context.Context, id string, opts ViewOptions) (pbconn.Result, error) {
	if strings.TrimSpace(id) == "" {
		return pbconn.Result{}, ErrEmptyID
	}
	endpoint, err := withQuery(c.recordsURL(id), opts)
	if err != nil {
		return pbconn.Result{}, err
	}
	return c.client.conn.Get(ctx, endpoint)
}

func (c *Collection) GetList(ctx context.Context, opts ListOptions) (pbconn.Result, error) {
	endpoint, err := withQuery(c.recordsURL(), opts)
	if err != nil {
		return pbconn.Result{}, err
	}
	return c.client.conn.Get(ctx, endpoint)
}

// GetListPage runs GetList and decodes the paging envelope.
func (c *Collection) GetListPage(ctx context.Context, opts ListOptions) (ListPage, error) {
	result, err := c.GetList(ctx, opts)
	if err != nil {
		return ListPage{}, err
	}
	page := ListPage{}
	if err := result.Decode(&page); err != nil {
		return ListPage{}, err
	}
	return page, nil
}

func (c *Collection) Create(ctx context.Context, body any) (pbconn.Result, error) {
	payload, err := marshalBody(body)
	if err != nil {
		return pbconn.Result{}, err
	}
	return c.client.conn.Post(ctx, c.recordsURL(), payload)
}

func (c *Collection) Update(ctx context.Context, id string, body any) (pbconn.Result, error) {
	if strings.TrimSpace(id) == "" {
		return pbconn.Result{}, ErrEmptyID
	}
	payload, err := marshalBody(body)
	if err != nil {
		return pbconn.Result{}, err
	}
	return c.client.conn.Patch(ctx, c.recordsURL(id), payload)
}

func (c *Collection) Delete(ctx context.Context, id string) (pbconn.Result, error) {
	if strings.TrimSpace(id) == "" {
		return pbconn.Result{}, ErrEmptyID
	}
	result, err := c.client.conn.Delete(ctx, c.recordsURL(id))
	if err == nil && isNoContent(result) {
		c.client.logger.Debug("record deleted", logging.Field("collection", c.name), logging.Field("id", id))
	}
	return result, err
}

// withQuery appends the encoded options to endpoint. Values are
// percent-escaped, so filters may contain & ? = and quotes.
func withQuery(endpoint string, opts any) (string, error) {
	values, err := query.Values(opts)
	if err != nil {
		return "", err
	}
	if encoded := values.Encode(); encoded != "" {
		return endpoint + "?" + encoded, nil
	}
	return endpoint, nil
}

func marshalBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
