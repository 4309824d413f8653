package mattermoststore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/mattermost/mattermost-server/model"
)

const (
	adminUsername = "admin"
	adminPassword = "admin-pass"
)

// fakeMattermost serves the few api v4 endpoints the store calls
type fakeMattermost struct {
	mu sync.Mutex

	users     map[string]*model.User
	passwords map[string]string
	sessions  map[string]string

	nextID    int
	logins    int
	pingFails int
	created   int
	updated   int
	pages     []int
}

func newFakeMattermost(t *testing.T) (*fakeMattermost, *httptest.Server) {
	t.Helper()

	fake := &fakeMattermost{
		users:     map[string]*model.User{},
		passwords: map[string]string{},
		sessions:  map[string]string{},
	}
	fake.addUser(&model.User{Username: adminUsername, Email: "admin@example.com"}, adminPassword)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v4").Subrouter()
	api.HandleFunc("/system/ping", fake.ping).Methods(http.MethodGet)
	api.HandleFunc("/users/login", fake.login).Methods(http.MethodPost)
	api.HandleFunc("/users/me", fake.me).Methods(http.MethodGet)
	api.HandleFunc("/users/username/{username}", fake.userByUsername).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", fake.userByID).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", fake.updateUser).Methods(http.MethodPut)
	api.HandleFunc("/users", fake.listUsers).Methods(http.MethodGet)
	api.HandleFunc("/users", fake.createUser).Methods(http.MethodPost)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return fake, server
}

func (f *fakeMattermost) addUser(user *model.User, password string) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	user.Id = fmt.Sprintf("user%04d", f.nextID)
	f.users[user.Id] = user
	if password != "" {
		f.passwords[user.Username] = password
	}

	return user
}

func (f *fakeMattermost) session(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	token := "token-" + userID
	f.sessions[token] = userID

	return token
}

func writeAppError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"id":"api.fake.app_error","message":%q,"status_code":%d}`, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeMattermost) ping(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pingFails > 0 {
		f.pingFails--
		writeAppError(w, http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (f *fakeMattermost) login(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAppError(w, http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.logins++
	for _, user := range f.users {
		if user.Username != body["login_id"] && user.Email != body["login_id"] {
			continue
		}

		password, ok := f.passwords[user.Username]
		if !ok || password != body["password"] {
			break
		}

		token := "token-" + user.Id
		f.sessions[token] = user.Id
		w.Header().Set(model.HEADER_TOKEN, token)
		writeJSON(w, http.StatusOK, user)
		return
	}

	writeAppError(w, http.StatusUnauthorized)
}

func (f *fakeMattermost) me(w http.ResponseWriter, r *http.Request) {
	fields := strings.Fields(r.Header.Get("Authorization"))

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(fields) != 2 {
		writeAppError(w, http.StatusUnauthorized)
		return
	}

	id, ok := f.sessions[fields[1]]
	if !ok {
		writeAppError(w, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, f.users[id])
}

func (f *fakeMattermost) userByUsername(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, user := range f.users {
		if user.Username == username {
			writeJSON(w, http.StatusOK, user)
			return
		}
	}

	writeAppError(w, http.StatusNotFound)
}

func (f *fakeMattermost) userByID(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[mux.Vars(r)["id"]]
	if !ok {
		writeAppError(w, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (f *fakeMattermost) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	f.mu.Lock()
	defer f.mu.Unlock()

	f.pages = append(f.pages, page)

	ids := make([]string, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	users := []*model.User{}
	for i := page * perPage; i < len(ids) && i < (page+1)*perPage; i++ {
		users = append(users, f.users[ids[i]])
	}

	writeJSON(w, http.StatusOK, users)
}

func (f *fakeMattermost) createUser(w http.ResponseWriter, r *http.Request) {
	var user model.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeAppError(w, http.StatusBadRequest)
		return
	}

	created := f.addUser(&user, "")

	f.mu.Lock()
	f.created++
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, created)
}

func (f *fakeMattermost) updateUser(w http.ResponseWriter, r *http.Request) {
	var user model.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeAppError(w, http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := mux.Vars(r)["id"]
	if _, ok := f.users[id]; !ok {
		writeAppError(w, http.StatusNotFound)
		return
	}

	user.Id = id
	f.users[id] = &user
	f.updated++

	writeJSON(w, http.StatusOK, &user)
}

func (f *fakeMattermost) stats() (logins, created, updated int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.logins, f.created, f.updated
}

func (f *fakeMattermost) listedPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int(nil), f.pages...)
}

func (f *fakeMattermost) failPings(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pingFails = n
}

func (f *fakeMattermost) setPassword(username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.passwords[username] = password
}

func (f *fakeMattermost) user(id string) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()

	return *f.users[id]
}
