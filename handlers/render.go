package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"url-redirector/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = map[string]*template.Template{
	"message": parsePage("message.html"),
	"login":   parsePage("login.html"),
	"admin":   parsePage("admin.html"),
}

func parsePage(name string) *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
}

type messagePage struct {
	Message string
}

type loginPage struct {
	AdminKey string
	Error    string
}

type adminPage struct {
	AdminKey string
	Error    string
	Rows     []models.Redirect
	First    bool
	Next     string
}

// render executes page into a buffer first so a template failure never
// leaves a half written response.
func (h *Handler) render(w http.ResponseWriter, status int, page string, data interface{}) {
	var buf bytes.Buffer
	if err := pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Printf("rendering %s page failed: %v", page, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (h *Handler) renderMessage(w http.ResponseWriter, status int, message string) {
	h.render(w, status, "message", messagePage{Message: message})
}
