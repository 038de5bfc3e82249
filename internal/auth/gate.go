package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prospectr/prospectctl/internal/meta"
)

const (
	LoginPath  = "/login"
	LogoutPath = "/logout"
	// APIPrefix marks requests answered with JSON instead of a redirect.
	APIPrefix = "/api/"
)

// Gate guards routes with the signed session cookie and serves the login
// and logout endpoints.
type Gate struct {
	Signer   *Signer
	Password string
	// Secure marks the cookie as HTTPS only.
	Secure bool
	Logger *slog.Logger
}

// Middleware rejects requests without a valid session cookie: API paths get
// 401 JSON, everything else a redirect to the login form.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := g.authenticate(r)
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		g.log(r, slog.LevelDebug, "request rejected by auth gate",
			slog.String("path", r.URL.Path), slog.String("reason", err.Error()))
		if strings.HasPrefix(r.URL.Path, APIPrefix) {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		target := LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}

func (g *Gate) authenticate(r *http.Request) error {
	c, err := r.Cookie(meta.SessionCookieName)
	if err != nil {
		return err
	}
	return g.Signer.Verify(c.Value)
}

type loginRequest struct {
	Password string `json:"password"`
}

// Login accepts a form or JSON password and issues the session cookie.
func (g *Gate) Login(w http.ResponseWriter, r *http.Request) {
	password, err := readPassword(w, r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if g.Password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(g.Password)) != 1 {
		g.log(r, slog.LevelInfo, "login failed")
		writeDetail(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, exp, err := g.Signer.Issue()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "could not issue session")
		return
	}
	http.SetCookie(w, g.cookie(token, exp, int(g.Signer.TTL()/time.Second)))
	g.log(r, slog.LevelInfo, "login succeeded")

	if isJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"expires_at": exp.UTC()})
		return
	}
	http.Redirect(w, r, safeNext(r.FormValue("next")), http.StatusSeeOther)
}

// Logout clears the session cookie.
func (g *Gate) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, g.cookie("", time.Unix(0, 0), -1))
	if isJSON(r) || r.Header.Get("Accept") == "application/json" {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><title>Sign in</title></head>
<body>
<form method="post" action="/login">
<input type="hidden" name="next" value="{{ .Next }}">
<label>Password <input type="password" name="password" autofocus></label>
<button type="submit">Sign in</button>
</form>
</body></html>
`))

// LoginForm serves the password form.
func (g *Gate) LoginForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginPage.Execute(w, struct{ Next string }{Next: safeNext(r.URL.Query().Get("next"))})
}

func (g *Gate) cookie(value string, exp time.Time, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     meta.SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  exp,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   g.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (g *Gate) log(r *http.Request, level slog.Level, msg string, attrs ...slog.Attr) {
	if g.Logger == nil {
		return
	}
	g.Logger.LogAttrs(r.Context(), level, msg, attrs...)
}

func readPassword(w http.ResponseWriter, r *http.Request) (string, error) {
	if isJSON(r) {
		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			return "", fmt.Errorf("invalid JSON body")
		}
		return req.Password, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", errors.New("invalid form body")
	}
	return r.PostFormValue("password"), nil
}

func isJSON(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/json"
}

// safeNext keeps redirects on this host.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, LoginPath) {
		return "/"
	}
	return next
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
