package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryConnectedAppStore struct {
	mu    sync.Mutex
	apps  map[string]ConnectedAppData
	nowFn func() time.Time
}

func NewMemoryConnectedAppStore() *MemoryConnectedAppStore {
	return &MemoryConnectedAppStore{
		apps:  make(map[string]ConnectedAppData),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryConnectedAppStore) Create(_ context.Context, app ConnectedAppData) (ConnectedAppData, error) {
	if s == nil {
		return ConnectedAppData{}, fmt.Errorf("core: connected app store is nil")
	}
	if strings.TrimSpace(app.Name) == "" {
		return ConnectedAppData{}, fmt.Errorf("core: app name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(app.ID) == "" {
		app.ID = uuid.NewString()
	}
	if _, exists := s.apps[app.ID]; exists {
		return ConnectedAppData{}, fmt.Errorf("core: connected app already exists: %s", app.ID)
	}
	now := s.nowFn()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	s.apps[app.ID] = app.Apply(AppUpdate{}, time.Time{})
	return app, nil
}

func (s *MemoryConnectedAppStore) Get(_ context.Context, appID string) (ConnectedAppData, error) {
	if s == nil {
		return ConnectedAppData{}, fmt.Errorf("core: connected app store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[strings.TrimSpace(appID)]
	if !ok {
		return ConnectedAppData{}, fmt.Errorf("%w: %s", ErrAppNotFound, appID)
	}
	return app.Apply(AppUpdate{}, time.Time{}), nil
}

func (s *MemoryConnectedAppStore) List(_ context.Context, query ConnectedAppQuery) ([]ConnectedAppData, error) {
	if s == nil {
		return nil, fmt.Errorf("core: connected app store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectedAppData, 0, len(s.apps))
	for _, app := range s.apps {
		if !MatchesAppQuery(app, query) {
			continue
		}
		out = append(out, app.Apply(AppUpdate{}, time.Time{}))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryConnectedAppStore) Update(_ context.Context, appID string, update AppUpdate) (ConnectedAppData, error) {
	if s == nil {
		return ConnectedAppData{}, fmt.Errorf("core: connected app store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	appID = strings.TrimSpace(appID)
	app, ok := s.apps[appID]
	if !ok {
		return ConnectedAppData{}, fmt.Errorf("%w: %s", ErrAppNotFound, appID)
	}
	app = app.Apply(update, s.nowFn())
	s.apps[appID] = app
	return app, nil
}

func (s *MemoryConnectedAppStore) Delete(_ context.Context, appID string) error {
	if s == nil {
		return fmt.Errorf("core: connected app store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.apps, strings.TrimSpace(appID))
	return nil
}

// MatchesAppQuery reports whether app satisfies the name and status filters.
func MatchesAppQuery(app ConnectedAppData, query ConnectedAppQuery) bool {
	if len(query.Names) > 0 && !containsString(query.Names, app.Name) {
		return false
	}
	if len(query.Statuses) > 0 {
		matched := false
		for _, status := range query.Statuses {
			if app.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

type MemoryReminderStore struct {
	mu        sync.Mutex
	reminders map[string]Reminder
	nowFn     func() time.Time
}

func NewMemoryReminderStore() *MemoryReminderStore {
	return &MemoryReminderStore{
		reminders: make(map[string]Reminder),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryReminderStore) List(_ context.Context, appID string, query ReminderQuery) (ReminderList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]Reminder, 0)
	for _, reminder := range s.reminders {
		if reminder.AppID != appID || !MatchesReminderQuery(reminder, query) {
			continue
		}
		matched = append(matched, cloneReminder(reminder))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name == matched[j].Name {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Name < matched[j].Name
	})
	total := len(matched)
	if query.Offset > 0 {
		if query.Offset >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[query.Offset:]
		}
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return ReminderList{Items: matched, Total: total}, nil
}

func (s *MemoryReminderStore) Get(_ context.Context, appID string, id string) (Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reminder, ok := s.reminders[strings.TrimSpace(id)]
	if !ok || reminder.AppID != appID {
		return Reminder{}, fmt.Errorf("%w: %s", ErrReminderNotFound, id)
	}
	return cloneReminder(reminder), nil
}

func (s *MemoryReminderStore) Create(_ context.Context, reminder Reminder) (Reminder, error) {
	if err := reminder.Validate(); err != nil {
		return Reminder{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(reminder.AppID, reminder.Name, "") {
		return Reminder{}, fmt.Errorf("%w: %s", ErrReminderNameTaken, reminder.Name)
	}
	if strings.TrimSpace(reminder.ID) == "" {
		reminder.ID = uuid.NewString()
	}
	now := s.nowFn()
	reminder.CreatedAt = now
	reminder.UpdatedAt = now
	s.reminders[reminder.ID] = cloneReminder(reminder)
	return reminder, nil
}

func (s *MemoryReminderStore) Update(_ context.Context, reminder Reminder) (Reminder, error) {
	if err := reminder.Validate(); err != nil {
		return Reminder{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reminders[reminder.ID]
	if !ok || current.AppID != reminder.AppID {
		return Reminder{}, fmt.Errorf("%w: %s", ErrReminderNotFound, reminder.ID)
	}
	if s.nameTaken(reminder.AppID, reminder.Name, reminder.ID) {
		return Reminder{}, fmt.Errorf("%w: %s", ErrReminderNameTaken, reminder.Name)
	}
	reminder.CreatedAt = current.CreatedAt
	reminder.UpdatedAt = s.nowFn()
	s.reminders[reminder.ID] = cloneReminder(reminder)
	return reminder, nil
}

func (s *MemoryReminderStore) Delete(_ context.Context, appID string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if reminder, ok := s.reminders[id]; ok && reminder.AppID == appID {
			delete(s.reminders, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryReminderStore) DeleteAll(_ context.Context, appID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, reminder := range s.reminders {
		if reminder.AppID == appID {
			delete(s.reminders, id)
		}
	}
	return nil
}

func (s *MemoryReminderStore) NameExists(_ context.Context, appID string, name string, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nameTaken(appID, name, excludeID), nil
}

func (s *MemoryReminderStore) nameTaken(appID, name, excludeID string) bool {
	name = strings.TrimSpace(name)
	for id, reminder := range s.reminders {
		if id == excludeID || reminder.AppID != appID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(reminder.Name), name) {
			return true
		}
	}
	return false
}

// MatchesReminderQuery applies the search, channel and type filters.
func MatchesReminderQuery(reminder Reminder, query ReminderQuery) bool {
	if search := strings.ToLower(strings.TrimSpace(query.Search)); search != "" {
		if !strings.Contains(strings.ToLower(reminder.Name), search) {
			return false
		}
	}
	if len(query.Channels) > 0 {
		matched := false
		for _, channel := range query.Channels {
			if reminder.Channel == channel {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(query.Types) > 0 {
		matched := false
		for _, kind := range query.Types {
			if reminder.Type == kind {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func cloneReminder(in Reminder) Reminder {
	out := in
	if in.Time != nil {
		t := *in.Time
		out.Time = &t
	}
	return out
}

type MemoryStorage struct {
	reminders ReminderStore
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{reminders: NewMemoryReminderStore()}
}

func (s *MemoryStorage) Reminders() ReminderStore {
	if s == nil {
		return nil
	}
	return s.reminders
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

var (
	_ ConnectedAppStore = (*MemoryConnectedAppStore)(nil)
	_ ReminderStore     = (*MemoryReminderStore)(nil)
	_ Storage           = (*MemoryStorage)(nil)
)
