// Package oauthenticator serves an OAuth2 authorization server whose logins are checked by an AuthenticatorBackend
package oauthenticator

import (
	"database/sql"
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/RangelReale/osin"
	mysql "github.com/felipeweb/osin-mysql"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/studieren-ohne-grenzen/ldap-bridge/bridge"
)

// oauthParams are authorize request parameters that never belong to the login credentials
var oauthParams = map[string]bool{
	"response_type":         true,
	"client_id":             true,
	"redirect_uri":          true,
	"state":                 true,
	"scope":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
}

// ClientStore manages the registered OAuth clients
type ClientStore interface {
	CreateClient(client osin.Client) error
	RemoveClient(id string) error
}

// Server is a OAuth server
type Server struct {
	osin *osin.Server

	clients       ClientStore
	authenticator AuthenticatorBackend
	logger        *zap.Logger

	// TemplatePath is the directory holding the used templates to render
	TemplatePath string

	// UsernameKey and PasswordKey name the login form fields
	UsernameKey string
	PasswordKey string

	// Metrics is served at RouteMetrics when set
	Metrics http.Handler

	// Health reports the state of the user store at RouteHealth when set
	Health func() error

	// All paths necessary to start up the endpoints
	StaticPath     string
	RouteStatic    string
	RouteLogin     string
	RouteToken     string
	RouteTokenInfo string
	RouteInfo      string
	RouteMetrics   string
	RouteHealth    string
}

// TemplateData is passed to the login template
type TemplateData struct {
	Error    string
	HasError bool

	UsernameKey string
	PasswordKey string
}

// userInfo is the user record returned to clients, shaped like the gitlab user api
type userInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Login    string `json:"login"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	State    string `json:"state"`
}

func newUserInfo(identity *bridge.Identity) userInfo {
	return userInfo{
		ID:       identity.NumericID(),
		Username: identity.Username,
		Login:    identity.Username,
		Email:    identity.Email,
		Name:     identity.Name,
		State:    "active",
	}
}

// NewServer creates a new Server storing clients and tokens in MySQL
func NewServer(conn *sql.DB, prefix string, config *osin.ServerConfig, backend AuthenticatorBackend, logger *zap.Logger) (*Server, error) {
	store := mysql.New(conn, prefix)
	if err := store.CreateSchemas(); err != nil {
		return nil, errors.Wrap(err, "could not create oauth schemas")
	}

	return NewServerWithStorage(store, store, config, backend, logger), nil
}

// NewServerWithStorage creates a new OAuth Server on the given osin storage
func NewServerWithStorage(storage osin.Storage, clients ClientStore, config *osin.ServerConfig, backend AuthenticatorBackend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		osin:           osin.NewServer(config, storage),
		clients:        clients,
		authenticator:  backend,
		logger:         logger,
		TemplatePath:   "templates",
		UsernameKey:    "username",
		PasswordKey:    "password",
		RouteStatic:    "/static/",
		RouteLogin:     "/oauth/authorize",
		RouteToken:     "/oauth/access_token",
		RouteTokenInfo: "/oauth/token_info",
		RouteInfo:      "/api/v4/user",
		RouteMetrics:   "/metrics",
		RouteHealth:    "/healthz",
	}
}

// CreateClient stores a new (id, secret) into the database
func (server *Server) CreateClient(id, secret, redirectURI string) error {
	client := &osin.DefaultClient{
		Id:          id,
		Secret:      secret,
		RedirectUri: redirectURI,
	}

	return errors.Wrapf(server.clients.CreateClient(client), "could not create client %s", id)
}

// RemoveClient removes a (id, secret)-tuple from the database again.
func (server *Server) RemoveClient(id string) error {
	return errors.Wrapf(server.clients.RemoveClient(id), "could not remove client %s", id)
}

// HandleTokenRequest is a http handler to handle to token request
func (server *Server) HandleTokenRequest(w http.ResponseWriter, r *http.Request) {
	resp := server.osin.NewResponse()
	defer resp.Close()

	if ar := server.osin.HandleAccessRequest(resp, r); ar != nil {
		ar.Authorized = true
		server.osin.FinishAccessRequest(resp, r, ar)
	}

	server.output(resp, w, r)
}

// HandleTokenInfoRequest is a http handler to handle to tokeninfo request
func (server *Server) HandleTokenInfoRequest(w http.ResponseWriter, r *http.Request) {
	resp := server.osin.NewResponse()
	defer resp.Close()

	if ir := server.osin.HandleInfoRequest(resp, r); ir != nil {
		server.osin.FinishInfoRequest(resp, r, ir)
	}

	server.output(resp, w, r)
}

// HandleUserInfoRequest is a http handler returning the identity an access token has been issued for
func (server *Server) HandleUserInfoRequest(w http.ResponseWriter, r *http.Request) {
	resp := server.osin.NewResponse()
	defer resp.Close()

	if ir := server.osin.HandleInfoRequest(resp, r); ir != nil {
		userID, _ := ir.AccessData.UserData.(string)

		identity, err := server.authenticator.RetrieveByID(r.Context(), userID)
		if err == nil && identity != nil {
			js, err := json.Marshal(newUserInfo(identity))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write(js)
			return
		}

		server.logger.Error("could not load user for access token", zap.String("id", userID), zap.Error(err))
		resp.ErrorStatusCode = http.StatusInternalServerError
		resp.SetError(osin.E_SERVER_ERROR, "")
	}

	server.output(resp, w, r)
}

// HandleAuthorizeRequest is a http handler checking the posted login form and finishing the authorize request
func (server *Server) HandleAuthorizeRequest(w http.ResponseWriter, r *http.Request) {
	resp := server.osin.NewResponse()
	defer resp.Close()

	if ar := server.osin.HandleAuthorizeRequest(resp, r); ar != nil {
		if err := r.ParseForm(); err != nil {
			server.osin.FinishAuthorizeRequest(resp, r, ar)
			server.output(resp, w, r)
			return
		}

		credentials := credentialsFromForm(r.PostForm)
		identity, err := server.authenticator.RetrieveByCredentials(r.Context(), credentials)
		if err != nil || identity == nil {
			// serve the login page again if the authentication fails
			server.logger.Info("login denied", zap.String("username", credentials[server.UsernameKey]), zap.Error(err))
			server.renderLogin(w, "Invalid Credentials.")
			return
		}

		ar.UserData = identity.ID
		ar.Authorized = true

		server.osin.FinishAuthorizeRequest(resp, r, ar)
	}

	server.output(resp, w, r)
}

// HandleHealthRequest answers 200 while the user store is reachable and 503 otherwise
func (server *Server) HandleHealthRequest(w http.ResponseWriter, r *http.Request) {
	if err := server.Health(); err != nil {
		server.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Write([]byte("ok"))
}

// HandleLoginRequest is a http handler to handle login requests
func (server *Server) HandleLoginRequest(w http.ResponseWriter, r *http.Request) {
	server.renderLogin(w, "")
}

func (server *Server) renderLogin(w http.ResponseWriter, loginError string) {
	data := TemplateData{
		Error:       loginError,
		HasError:    loginError != "",
		UsernameKey: server.UsernameKey,
		PasswordKey: server.PasswordKey,
	}

	if err := renderTemplateWithData(server.TemplatePath, w, "login.html", data); err != nil {
		server.logger.Error("could not render template", zap.Error(err))
	}
}

func (server *Server) output(resp *osin.Response, w http.ResponseWriter, r *http.Request) {
	if resp.IsError && resp.InternalError != nil {
		server.logger.Error("oauth request failed", zap.Error(resp.InternalError))
	}

	if err := osin.OutputJSON(resp, w, r); err != nil {
		server.logger.Error("could not write oauth response", zap.Error(err))
	}
}

func credentialsFromForm(form url.Values) bridge.Credentials {
	credentials := make(bridge.Credentials, len(form))
	for key, values := range form {
		if oauthParams[key] || len(values) == 0 {
			continue
		}
		credentials[key] = values[0]
	}

	return credentials
}

// renderTemplateWithData is a convenience helper for rendering templates.
func renderTemplateWithData(templatePath string, w http.ResponseWriter, id string, d interface{}) error {
	t, err := template.New(id).ParseFiles(filepath.Join(templatePath, id))
	if err != nil {
		http.Error(w, "Could not render template", http.StatusInternalServerError)
		return errors.Wrap(err, "could not parse template")
	}

	if err := t.Execute(w, d); err != nil {
		http.Error(w, "Could not render template", http.StatusInternalServerError)
		return errors.Wrap(err, "could not render template")
	}

	return nil
}

// Router returns the handler serving all endpoints
func (server *Server) Router() http.Handler {
	r := mux.NewRouter()
	if server.StaticPath != "" {
		r.PathPrefix(server.RouteStatic).Handler(http.StripPrefix(server.RouteStatic, http.FileServer(http.Dir(server.StaticPath))))
	}
	r.HandleFunc(server.RouteLogin, server.HandleLoginRequest).Methods(http.MethodGet)
	r.HandleFunc(server.RouteLogin, server.HandleAuthorizeRequest).Methods(http.MethodPost)
	r.HandleFunc(server.RouteToken, server.HandleTokenRequest).Methods(http.MethodPost)
	r.HandleFunc(server.RouteTokenInfo, server.HandleTokenInfoRequest).Methods(http.MethodGet)
	r.HandleFunc(server.RouteInfo, server.HandleUserInfoRequest).Methods(http.MethodGet)
	if server.Metrics != nil {
		r.Handle(server.RouteMetrics, server.Metrics).Methods(http.MethodGet)
	}
	if server.Health != nil {
		r.HandleFunc(server.RouteHealth, server.HandleHealthRequest).Methods(http.MethodGet)
	}

	return r
}

// ListenAndServe starts a webserver at the previously defined endpoints
func (server *Server) ListenAndServe(listen string) error {
	server.logger.Info("listening", zap.String("addr", listen))

	return http.ListenAndServe(listen, handlers.LoggingHandler(os.Stdout, server.Router()))
}
