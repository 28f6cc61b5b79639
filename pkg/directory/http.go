package directory

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

const hostTokenHeader = "X-Host-Token"

// Handler serves a Directory over HTTP.
type Handler struct {
	dir Directory
}

func NewHandler(dir Directory) *Handler {
	return &Handler{dir: dir}
}

func (h *Handler) Register(r *mux.Router) {
	r.Methods(http.MethodPost).Path("/rooms").HandlerFunc(h.createRoom)
	r.Methods(http.MethodGet).Path("/rooms").HandlerFunc(h.listRooms)
	r.Methods(http.MethodGet).Path("/rooms/{room}").HandlerFunc(h.getRoom)
	r.Methods(http.MethodPost).Path("/rooms/{room}/join").HandlerFunc(h.joinRoom)
	r.Methods(http.MethodPost).Path("/rooms/{room}/heartbeat").HandlerFunc(h.heartbeat)
	r.Methods(http.MethodDelete).Path("/rooms/{room}").HandlerFunc(h.deleteRoom)
}

func (h *Handler) createRoom(writer http.ResponseWriter, request *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(request.Body).Decode(&req); err != nil {
		errs.WriteHTTP(writer, errs.Invalid("body", err.Error()))
		return
	}
	req.HostToken = request.Header.Get(hostTokenHeader)
	rec, err := h.dir.CreateRoom(request.Context(), req)
	if err != nil {
		h.fail(writer, "create room", err)
		return
	}
	writeJSON(writer, http.StatusCreated, rec)
}

func (h *Handler) listRooms(writer http.ResponseWriter, request *http.Request) {
	rooms, err := h.dir.ListRooms(request.Context(), request.URL.Query().Get("keyword"))
	if err != nil {
		h.fail(writer, "list rooms", err)
		return
	}
	writeJSON(writer, http.StatusOK, rooms)
}

func (h *Handler) getRoom(writer http.ResponseWriter, request *http.Request) {
	rec, err := h.dir.GetRoom(request.Context(), mux.Vars(request)["room"])
	if err != nil {
		h.fail(writer, "get room", err)
		return
	}
	writeJSON(writer, http.StatusOK, rec)
}

type joinBody struct {
	Password string `json:"password"`
	PeerID   string `json:"peerId"`
}

func (h *Handler) joinRoom(writer http.ResponseWriter, request *http.Request) {
	var body joinBody
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		errs.WriteHTTP(writer, errs.Invalid("body", err.Error()))
		return
	}
	if err := h.dir.JoinRoom(request.Context(), mux.Vars(request)["room"], body.Password, body.PeerID); err != nil {
		h.fail(writer, "join room", err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (h *Handler) heartbeat(writer http.ResponseWriter, request *http.Request) {
	if err := h.dir.SendHeartbeat(request.Context(), mux.Vars(request)["room"], request.Header.Get(hostTokenHeader)); err != nil {
		h.fail(writer, "heartbeat", err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRoom(writer http.ResponseWriter, request *http.Request) {
	if err := h.dir.DeleteRoom(request.Context(), mux.Vars(request)["room"], request.Header.Get(hostTokenHeader)); err != nil {
		h.fail(writer, "delete room", err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(writer http.ResponseWriter, op string, err error) {
	if errs.HTTPStatus(err) == http.StatusInternalServerError {
		slog.Error("directory request failed", "op", op, "err", err)
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

// Client is a Directory backed by the HTTP API served by Handler.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: u, http: httpClient}, nil
}

func (c *Client) do(ctx context.Context, op, method string, u *url.URL, token string, in, out any) error {
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
	if token != "" {
		req.Header.Set(hostTokenHeader, token)
	}
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

func (c *Client) CreateRoom(ctx context.Context, req CreateRequest) (RoomRecord, error) {
	var out RoomRecord
	token := req.HostToken
	req.HostToken = ""
	err := c.do(ctx, "create room", http.MethodPost, c.baseURL.JoinPath("rooms"), token, req, &out)
	return out, err
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (RoomRecord, error) {
	var out RoomRecord
	err := c.do(ctx, "get room", http.MethodGet, c.baseURL.JoinPath("rooms", roomID), "", nil, &out)
	return out, err
}

func (c *Client) JoinRoom(ctx context.Context, roomID, password, peerID string) error {
	return c.do(ctx, "join room", http.MethodPost, c.baseURL.JoinPath("rooms", roomID, "join"), "", joinBody{Password: password, PeerID: peerID}, nil)
}

func (c *Client) SendHeartbeat(ctx context.Context, roomID, hostToken string) error {
	return c.do(ctx, "heartbeat", http.MethodPost, c.baseURL.JoinPath("rooms", roomID, "heartbeat"), hostToken, nil, nil)
}

func (c *Client) DeleteRoom(ctx context.Context, roomID, hostToken string) error {
	return c.do(ctx, "delete room", http.MethodDelete, c.baseURL.JoinPath("rooms", roomID), hostToken, nil, nil)
}

func (c *Client) ListRooms(ctx context.Context, keyword string) ([]RoomRecord, error) {
	u := c.baseURL.JoinPath("rooms")
	if keyword != "" {
		u.RawQuery = url.Values{"keyword": []string{keyword}}.Encode()
	}
	var out []RoomRecord
	err := c.do(ctx, "list rooms", http.MethodGet, u, "", nil, &out)
	return out, err
}
