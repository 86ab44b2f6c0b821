package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"url-redirector/middlewares"
	"url-redirector/store"
	"url-redirector/utils"
)

const (
	requestLogin  = "login"
	requestUpsert = "upsert"
	requestDelete = "delete"

	cursorParam       = "cursor"
	generatedKeyLen   = 6
	generateAttempts  = 5
	maxAdminBodyBytes = 1 << 20
	publishTimeout    = 5 * time.Second
)

// adminRequest is the body of a POST to the admin page, sent either as a
// form or as JSON. Type selects the action.
type adminRequest struct {
	Type   string `json:"type"`
	Secret string `json:"secret"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// AdminHandler serves the admin page. GET lists redirects; POST performs a
// login, upsert or delete first and then lists.
func (h *Handler) AdminHandler(w http.ResponseWriter, r *http.Request) {
	req, err := parseAdminRequest(w, r)
	if err != nil {
		h.renderMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	if req != nil && req.Type == requestLogin {
		if h.loginLimiter != nil && !h.loginLimiter.Allow(middlewares.ClientIP(r)) {
			h.render(w, http.StatusTooManyRequests, "login", loginPage{
				AdminKey: h.adminKey,
				Error:    "Too many login attempts. Try again later.",
			})
			return
		}
		if !middlewares.CheckAdminSecret(req.Secret, h.adminSecret) {
			h.renderLogin(w, true)
			return
		}
		middlewares.SetAdminCookie(w, req.Secret)
	} else if ok, presented := middlewares.AdminAuth(r, h.adminSecret); !ok {
		h.renderLogin(w, presented)
		return
	}

	var actionErr string
	if req != nil {
		switch req.Type {
		case requestUpsert:
			actionErr = h.upsert(r.Context(), req.Key, req.URL)
		case requestDelete:
			actionErr = h.delete(r.Context(), req.Key)
		}
	}
	h.adminPage(w, r, actionErr)
}

func (h *Handler) renderLogin(w http.ResponseWriter, invalidSecret bool) {
	page := loginPage{AdminKey: h.adminKey}
	if invalidSecret {
		page.Error = "Secret is incorrect."
	}
	h.render(w, http.StatusUnauthorized, "login", page)
}

// upsert stores key -> url and returns a message for the page error box,
// empty on success. An empty key gets a generated one.
func (h *Handler) upsert(ctx context.Context, key, url string) string {
	if key == "" {
		generated, err := h.generateKey(ctx)
		if err != nil {
			h.logger.Printf("generating redirect key failed: %v", err)
			return err.Error()
		}
		key = generated
	}
	if msg := h.checkKey(key); msg != "" {
		return msg
	}

	if err := h.store.Put(ctx, key, url); err != nil {
		h.logger.Printf("saving redirect %q failed: %v", key, err)
		return fmt.Sprintf("Saving %q failed: %v", key, err)
	}
	middlewares.AuditLogger.Printf("redirect %q now points to %s", key, url)
	h.invalidate(key)
	return ""
}

func (h *Handler) delete(ctx context.Context, key string) string {
	if err := h.store.Delete(ctx, key); err != nil {
		h.logger.Printf("deleting redirect %q failed: %v", key, err)
		return fmt.Sprintf("Deleting %q failed: %v", key, err)
	}
	middlewares.AuditLogger.Printf("redirect %q deleted", key)
	h.invalidate(key)
	return ""
}

// checkKey rejects keys that could never be reached through /{key}.
func (h *Handler) checkKey(key string) string {
	switch {
	case strings.Contains(key, "/"):
		return "Keys must not contain '/'."
	case key == h.adminKey:
		return "That key is reserved for the admin page."
	case key == "healthz" || key == "metrics":
		return fmt.Sprintf("The key %q is reserved.", key)
	}
	return ""
}

func (h *Handler) generateKey(ctx context.Context) (string, error) {
	for i := 0; i < generateAttempts; i++ {
		key := utils.GenerateShortCode(generatedKeyLen)
		if h.checkKey(key) != "" {
			continue
		}
		_, err := h.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return key, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free key found after %d attempts", generateAttempts)
}

// invalidate drops key from the local cache and tells the other instances
// to do the same. Publishing runs on the task queue when there is one.
func (h *Handler) invalidate(key string) {
	if err := h.cache.Delete(context.Background(), key); err != nil {
		h.logger.Printf("invalidating cached redirect %q failed: %v", key, err)
	}
	if h.publisher == nil {
		return
	}

	publish := func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := h.publisher.PublishRedirectChanged(ctx, key); err != nil {
			h.logger.Printf("publishing change of %q failed: %v", key, err)
		}
	}
	if h.tasks == nil || !h.tasks.Enqueue(publish) {
		publish()
	}
}

func (h *Handler) adminPage(w http.ResponseWriter, r *http.Request, actionErr string) {
	cursor := r.URL.Query().Get(cursorParam)

	page, err := h.store.List(r.Context(), cursor, h.pageSize)
	if err != nil {
		h.logger.Printf("listing redirects failed: %v", err)
		msg := fmt.Sprintf("Listing redirects failed: %v", err)
		if actionErr != "" {
			msg = actionErr + " " + msg
		}
		h.render(w, http.StatusInternalServerError, "admin", adminPage{AdminKey: h.adminKey, Error: msg})
		return
	}

	h.render(w, http.StatusOK, "admin", adminPage{
		AdminKey: h.adminKey,
		Error:    actionErr,
		Rows:     page.Redirects,
		First:    cursor != "",
		Next:     page.Next,
	})
}

// parseAdminRequest returns nil for anything but POST.
func parseAdminRequest(w http.ResponseWriter, r *http.Request) (*adminRequest, error) {
	if r.Method != http.MethodPost {
		return nil, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodyBytes)

	var req adminRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %v", err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid request payload: %v", err)
		}
		req = adminRequest{
			Type:   r.PostForm.Get("type"),
			Secret: r.PostForm.Get("secret"),
			Key:    strings.TrimSpace(r.PostForm.Get("key")),
			URL:    strings.TrimSpace(r.PostForm.Get("url")),
		}
	}

	switch req.Type {
	case requestLogin:
		if req.Secret == "" {
			return nil, errors.New("invalid request payload: missing secret")
		}
	case requestUpsert:
		if req.URL == "" {
			return nil, errors.New("invalid request payload: missing url")
		}
	case requestDelete:
		if req.Key == "" {
			return nil, errors.New("invalid request payload: missing key")
		}
	default:
		return nil, fmt.Errorf("invalid request payload: unknown type %q", req.Type)
	}
	return &req, nil
}
