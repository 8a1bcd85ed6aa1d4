// Package backend provides the client for the caregiving REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/logging"
)

// Client is the caregiving backend API client
type Client struct {
	baseURL    string
	token      string
	patientUID string
	httpClient *http.Client

	onUnauthorized []func()
	mu             sync.RWMutex

	log *logging.Logger
}

// Config for the backend client
type Config struct {
	BaseURL    string
	Token      string
	PatientUID string
	Timeout    time.Duration
}

// NewClient creates a backend client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		patientUID: cfg.PatientUID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logging.Component("backend"),
	}
}

// SetToken replaces the bearer token (after re-auth).
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// PatientUID returns the patient this client acts for.
func (c *Client) PatientUID() string {
	return c.patientUID
}

// OnUnauthorized registers a callback fired whenever the backend answers 401.
// All registered callbacks run; this is the process-wide session-teardown hook.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = append(c.onUnauthorized, fn)
}

// do performs one JSON request. A nil out skips decoding.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.fireUnauthorized()
		return fmt.Errorf("%s %s: %w", method, path, core.ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w", method, path,
			&core.HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)})
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) fireUnauthorized() {
	c.mu.RLock()
	callbacks := make([]func(), len(c.onUnauthorized))
	copy(callbacks, c.onUnauthorized)
	c.mu.RUnlock()

	c.log.Warn("backend returned 401, firing unauthorized handlers")
	for _, fn := range callbacks {
		fn()
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// --- Medications ---

func (c *Client) ListMedications(ctx context.Context) ([]Medication, error) {
	var meds []Medication
	err := c.do(ctx, http.MethodGet, "/medications/", nil, &meds)
	return meds, err
}

func (c *Client) PendingMedications(ctx context.Context) ([]Medication, error) {
	var meds []Medication
	err := c.do(ctx, http.MethodGet, "/medications/pending", nil, &meds)
	return meds, err
}

func (c *Client) AddMedication(ctx context.Context, med Medication) (*Medication, error) {
	var created Medication
	if err := c.do(ctx, http.MethodPost, "/medications/", med, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateMedication(ctx context.Context, id string, med Medication) (*Medication, error) {
	var updated Medication
	if err := c.do(ctx, http.MethodPut, "/medications/"+url.PathEscape(id), med, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) TakeMedication(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/medications/"+url.PathEscape(id)+"/take", nil, nil)
}

func (c *Client) DeleteMedication(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/medications/"+url.PathEscape(id), nil, nil)
}

// --- Journal ---

func (c *Client) ListJournal(ctx context.Context) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := c.do(ctx, http.MethodGet, "/journal/", nil, &entries)
	return entries, err
}

func (c *Client) SearchJournal(ctx context.Context, query string) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := c.do(ctx, http.MethodGet, "/journal/search?q="+url.QueryEscape(query), nil, &entries)
	return entries, err
}

func (c *Client) AddJournalEntry(ctx context.Context, entry JournalEntry) (*JournalEntry, error) {
	var created JournalEntry
	if err := c.do(ctx, http.MethodPost, "/journal/", entry, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateJournalEntry(ctx context.Context, id string, entry JournalEntry) error {
	return c.do(ctx, http.MethodPut, "/journal/"+url.PathEscape(id), entry, nil)
}

func (c *Client) DeleteJournalEntry(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/journal/"+url.PathEscape(id), nil, nil)
}

// --- Reminders ---

func (c *Client) ListReminders(ctx context.Context) ([]Reminder, error) {
	var reminders []Reminder
	err := c.do(ctx, http.MethodGet, "/reminders/", nil, &reminders)
	return reminders, err
}

func (c *Client) ActiveReminders(ctx context.Context) ([]Reminder, error) {
	var reminders []Reminder
	err := c.do(ctx, http.MethodGet, "/reminders/active", nil, &reminders)
	return reminders, err
}

func (c *Client) AddReminder(ctx context.Context, reminder Reminder) (*Reminder, error) {
	var created Reminder
	if err := c.do(ctx, http.MethodPost, "/reminders/", reminder, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateReminder(ctx context.Context, id string, reminder Reminder) error {
	return c.do(ctx, http.MethodPut, "/reminders/"+url.PathEscape(id), reminder, nil)
}

func (c *Client) DeleteReminder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/reminders/"+url.PathEscape(id), nil, nil)
}

func (c *Client) CompleteReminder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/reminders/"+url.PathEscape(id)+"/complete", nil, nil)
}

// --- Relatives ---

func (c *Client) ListRelatives(ctx context.Context) ([]Relative, error) {
	var relatives []Relative
	err := c.do(ctx, http.MethodGet, "/relatives/", nil, &relatives)
	return relatives, err
}

func (c *Client) AddRelative(ctx context.Context, relative Relative) (*Relative, error) {
	var created Relative
	if err := c.do(ctx, http.MethodPost, "/relatives/", relative, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateRelative(ctx context.Context, id string, relative Relative) error {
	return c.do(ctx, http.MethodPut, "/relatives/"+url.PathEscape(id), relative, nil)
}

func (c *Client) DeleteRelative(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/relatives/"+url.PathEscape(id), nil, nil)
}

// --- SOS ---

// TriggerSOS raises an emergency alert at the given severity level.
func (c *Client) TriggerSOS(ctx context.Context, level int, reason string) (*SOSEvent, error) {
	var event SOSEvent
	payload := map[string]interface{}{"level": level, "reason": reason}
	if err := c.do(ctx, http.MethodPost, "/sos/trigger", payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *Client) ActiveSOS(ctx context.Context) ([]SOSEvent, error) {
	var events []SOSEvent
	err := c.do(ctx, http.MethodGet, "/sos/active", nil, &events)
	return events, err
}

func (c *Client) ResolveSOS(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/sos/"+url.PathEscape(id)+"/resolve", nil, nil)
}

// --- Location ---

func (c *Client) PatientLocation(ctx context.Context, uid string) (*Location, error) {
	var loc Location
	if err := c.do(ctx, http.MethodGet, "/location/"+url.PathEscape(uid), nil, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// --- User ---

func (c *Client) UserProfile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, "/user/profile", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) Caregivers(ctx context.Context) ([]Caregiver, error) {
	var caregivers []Caregiver
	err := c.do(ctx, http.MethodGet, "/user/caregivers", nil, &caregivers)
	return caregivers, err
}

func (c *Client) AddCaregiver(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/user/caregivers", map[string]string{"email": email}, nil)
}

func (c *Client) RemoveCaregiver(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodDelete, "/user/caregivers/"+url.PathEscape(email), nil, nil)
}

// --- Aura ---

// AuraStatus asks the backend for the patient's module status. A shorter
// timeout applies: this call sits on the conversational grounding path.
func (c *Client) AuraStatus(ctx context.Context) (*AuraStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var status AuraStatus
	if err := c.do(ctx, http.MethodGet, "/aura/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) IdentifyPerson(ctx context.Context) (*IdentifyResult, error) {
	var result IdentifyResult
	if err := c.do(ctx, http.MethodPost, "/aura/identify_person", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) LiveContext(ctx context.Context) (*LiveContext, error) {
	var lc LiveContext
	if err := c.do(ctx, http.MethodGet, "/aura/live_context", nil, &lc); err != nil {
		return nil, err
	}
	return &lc, nil
}

// --- Orito analytics ---

func (c *Client) LogInteraction(ctx context.Context, interaction Interaction) error {
	return c.do(ctx, http.MethodPost, "/orito/interactions", interaction, nil)
}

func (c *Client) RecentInteractions(ctx context.Context) ([]Interaction, error) {
	var interactions []Interaction
	err := c.do(ctx, http.MethodGet, "/orito/interactions/recent", nil, &interactions)
	return interactions, err
}

// --- Reports ---

func (c *Client) DailyReport(ctx context.Context) (map[string]interface{}, error) {
	var report map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/reports/daily", nil, &report)
	return report, err
}

func (c *Client) WeeklyReport(ctx context.Context) (map[string]interface{}, error) {
	var report map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/reports/weekly", nil, &report)
	return report, err
}

func (c *Client) EmotionReport(ctx context.Context) (map[string]interface{}, error) {
	var report map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/reports/emotions", nil, &report)
	return report, err
}
