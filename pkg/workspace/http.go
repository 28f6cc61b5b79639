package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/astromechza/menuroom/pkg/errs"
)

// Handler serves a Store over HTTP.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Register(r *mux.Router) {
	r.Methods(http.MethodPost).Path("/workspaces").HandlerFunc(h.create)
	r.Methods(http.MethodPut).Path("/workspaces/{workspace}").HandlerFunc(h.update)
	r.Methods(http.MethodGet).Path("/workspaces/{workspace}").HandlerFunc(h.get)
}

func (h *Handler) create(writer http.ResponseWriter, request *http.Request) {
	var meta Meta
	if err := json.NewDecoder(request.Body).Decode(&meta); err != nil {
		errs.WriteHTTP(writer, errs.Invalid("body", err.Error()))
		return
	}
	w, err := h.store.CreateWorkspace(request.Context(), meta)
	if err != nil {
		h.fail(writer, "create workspace", err)
		return
	}
	writeJSON(writer, http.StatusCreated, w)
}

func (h *Handler) update(writer http.ResponseWriter, request *http.Request) {
	var u Update
	if err := json.NewDecoder(request.Body).Decode(&u); err != nil {
		errs.WriteHTTP(writer, errs.Invalid("body", err.Error()))
		return
	}
	if err := h.store.UpdateWorkspace(request.Context(), mux.Vars(request)["workspace"], u); err != nil {
		h.fail(writer, "update workspace", err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (h *Handler) get(writer http.ResponseWriter, request *http.Request) {
	w, err := h.store.GetWorkspace(request.Context(), mux.Vars(request)["workspace"])
	if err != nil {
		h.fail(writer, "get workspace", err)
		return
	}
	writeJSON(writer, http.StatusOK, w)
}

func (h *Handler) fail(writer http.ResponseWriter, op string, err error) {
	if errs.HTTPStatus(err) == http.StatusInternalServerError {
		slog.Error("workspace request failed", "op", op, "err", err)
	}
	errs.WriteHTTP(writer, err)
}

func writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

// Client is a Store backed by the HTTP API served by Handler.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workspace url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: u, http: httpClient}, nil
}

func (c *Client) do(ctx context.Context, op, method string, u *url.URL, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("failed to encode %s: %w", op, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), &body)
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Network(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errs.FromResponse(op, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Network(op, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}

func (c *Client) CreateWorkspace(ctx context.Context, meta Meta) (Workspace, error) {
	var out Workspace
	err := c.do(ctx, "create workspace", http.MethodPost, c.baseURL.JoinPath("workspaces"), meta, &out)
	return out, err
}

func (c *Client) UpdateWorkspace(ctx context.Context, id string, u Update) error {
	return c.do(ctx, "update workspace", http.MethodPut, c.baseURL.JoinPath("workspaces", id), u, nil)
}

func (c *Client) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	var out Workspace
	err := c.do(ctx, "get workspace", http.MethodGet, c.baseURL.JoinPath("workspaces", id), nil, &out)
	return out, err
}
