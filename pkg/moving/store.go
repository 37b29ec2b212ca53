package moving

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("moving request not found")
	ErrUnknownField = errors.New("unknown moving request field")
)

// Request is one quote request collected from a call.
type Request struct {
	ID                  string    `json:"id"`
	CreatedAt           time.Time `json:"created_at"`
	ClientName          string    `json:"client_name"`
	MoveDate            string    `json:"move_date"`
	FromLocation        string    `json:"from_location"`
	ToLocation          string    `json:"to_location"`
	VolumeDescription   string    `json:"volume_description"`
	FromFloor           string    `json:"from_floor"`
	ToFloor             string    `json:"to_floor"`
	NeedsLift           string    `json:"needs_lift"`
	PriceEstimate       string    `json:"price_estimate"`
	RequiresOnSiteCheck bool      `json:"requires_on_site_check"`
	Status              string    `json:"status"`
	Notes               string    `json:"notes"`
}

// Store keeps in-progress requests in memory and writes each one to a
// JSON file when it completes.
type Store struct {
	mu     sync.Mutex
	active map[string]*Request

	dir string
	now func() time.Time
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("moving request dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create moving request dir: %w", err)
	}
	return &Store{
		active: make(map[string]*Request),
		dir:    dir,
		now:    time.Now,
	}, nil
}

// Create opens a new request and returns its ID.
func (s *Store) Create() *Request {
	req := &Request{
		ID:        uuid.NewString(),
		CreatedAt: s.now(),
		Status:    "in_progress",
	}
	s.mu.Lock()
	s.active[req.ID] = req
	s.mu.Unlock()
	out := *req
	return &out
}

// SetField updates one field by its JSON name. Only caller-fillable
// fields are settable.
func (s *Store) SetField(id, field, value string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.findLocked(id)
	if err != nil {
		return nil, err
	}
	switch field {
	case "client_name":
		req.ClientName = value
	case "move_date":
		req.MoveDate = value
	case "from_location":
		req.FromLocation = value
	case "to_location":
		req.ToLocation = value
	case "volume_description":
		req.VolumeDescription = value
	case "from_floor":
		req.FromFloor = value
	case "to_floor":
		req.ToFloor = value
	case "needs_lift":
		req.NeedsLift = value
	case "price_estimate":
		req.PriceEstimate = value
	case "notes":
		req.Notes = value
	case "requires_on_site_check":
		req.RequiresOnSiteCheck = strings.EqualFold(value, "true") || value == "1"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	out := *req
	return &out, nil
}

// Complete finalizes a request and writes its JSON file.
func (s *Store) Complete(id string) (*Request, error) {
	s.mu.Lock()
	req, err := s.findLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	req.Status = "completed"
	out := *req
	delete(s.active, id)
	s.mu.Unlock()

	if err := s.writeFile(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns an active or completed request.
func (s *Store) Get(id string) (*Request, error) {
	s.mu.Lock()
	req, ok := s.active[id]
	if ok {
		out := *req
		s.mu.Unlock()
		return &out, nil
	}
	s.mu.Unlock()
	return s.readFile(id)
}

// List returns all requests, active first, then completed newest
// first.
func (s *Store) List() ([]Request, error) {
	s.mu.Lock()
	out := make([]Request, 0, len(s.active))
	for _, req := range s.active {
		out = append(out, *req)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read moving request dir: %w", err)
	}
	completed := make([]Request, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "request_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		req, err := s.readFile(strings.TrimSuffix(strings.TrimPrefix(name, "request_"), ".json"))
		if err != nil {
			continue
		}
		completed = append(completed, *req)
	}
	sort.Slice(completed, func(i, j int) bool { return completed[i].CreatedAt.After(completed[j].CreatedAt) })
	return append(out, completed...), nil
}

func (s *Store) findLocked(id string) (*Request, error) {
	req, ok := s.active[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req, nil
}

func (s *Store) writeFile(req *Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal moving request: %w", err)
	}
	path := filepath.Join(s.dir, "request_"+req.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write moving request: %w", err)
	}
	return nil
}

func (s *Store) readFile(id string) (*Request, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/\\") {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, "request_"+id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse moving request: %w", err)
	}
	return &req, nil
}
