package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
)

type Task struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Database struct {
	Tasks map[int]Task `json:"tasks"`
	Users map[int]User `json:"users"`
}

type AppState struct {
	mu   sync.Mutex
	path string
	db   Database
}

func loadState(path string) (*AppState, error) {
	state := &AppState{path: path, db: Database{Tasks: map[int]Task{}, Users: map[int]User{}}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &state.db); err != nil {
		return nil, err
	}
	return state, nil
}

// save must be called with mu held.
func (s *AppState) save() error {
	raw, err := json.Marshal(s.db)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *AppState) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		tasks := make([]Task, 0, len(s.db.Tasks))
		for _, t := range s.db.Tasks {
			tasks = append(tasks, t)
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, tasks)
	case http.MethodPost:
		var t Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.db.Tasks[t.ID] = t
		if err := s.save(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, t)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *AppState) handleTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/task/"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		t, ok := s.db.Tasks[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case http.MethodPut:
		var t Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		t.ID = id
		s.db.Tasks[id] = t
		if err := s.save(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case http.MethodDelete:
		delete(s.db.Tasks, id)
		if err := s.save(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *AppState) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var u User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.db.Users {
		if existing.Username == u.Username {
			http.Error(w, "username already exists", http.StatusConflict)
			return
		}
	}
	s.db.Users[u.ID] = u
	if err := s.save(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *AppState) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var u User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.db.Users {
		if existing.Username == u.Username && existing.Password == u.Password {
			writeJSON(w, http.StatusOK, map[string]string{"status": "logged in"})
			return
		}
	}
	http.Error(w, "invalid credentials", http.StatusUnauthorized)
}

func main() {
	state, err := loadState("database.json")
	if err != nil {
		log.Fatalf("load database: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/task", state.handleTasks)
	mux.HandleFunc("/task/", state.handleTask)
	mux.HandleFunc("/register", state.handleRegister)
	mux.HandleFunc("/login", state.handleLogin)

	log.Println("listening on :8080")
	log.Fatal(http.ListenAndServe(":8080", mux))
}
