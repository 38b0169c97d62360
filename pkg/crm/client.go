// Package crm provides a lightweight GoHighLevel contacts API client.
// Uses raw HTTP calls (no SDK); only the three contact endpoints the lead
// pipeline needs are implemented.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// DefaultBaseURL は GoHighLevel REST API のベース URL
const DefaultBaseURL = "https://rest.gohighlevel.com"

// DefaultTimeout は CRM 呼び出し 1 回あたりのタイムアウト
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// DefaultConflictStatuses are the statuses treated as "duplicate email" on create.
var DefaultConflictStatuses = []int{http.StatusConflict, http.StatusUnprocessableEntity}

var (
	// ErrNotConfigured は API キーまたはロケーション ID が未設定の場合のエラー
	ErrNotConfigured = errors.New("crm: not configured")
	// ErrDuplicateContact は作成時に同じメールアドレスの連絡先が既に存在する場合のエラー
	ErrDuplicateContact = errors.New("crm: duplicate contact")
	// ErrContactNotFound は検索で一致する連絡先が無い場合のエラー
	ErrContactNotFound = errors.New("crm: contact not found")
)

// ConfigError lists the credentials that are missing. It matches ErrNotConfigured.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "crm: missing configuration: " + strings.Join(e.Missing, ", ")
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrNotConfigured
}

// APIError is a non-success response from the CRM.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// Contact は GoHighLevel の連絡先リソース
type Contact struct {
	ID          string            `json:"id,omitempty"`
	LocationID  string            `json:"locationId,omitempty"`
	FirstName   string            `json:"firstName,omitempty"`
	LastName    string            `json:"lastName,omitempty"`
	Email       string            `json:"email"`
	Phone       string            `json:"phone,omitempty"`
	CompanyName string            `json:"companyName,omitempty"`
	Source      string            `json:"source,omitempty"`
	Tags        []string          `json:"tags"`
	CustomField map[string]string `json:"customField,omitempty"`
}

// Client は CRM API クライアントのインターフェース
type Client interface {
	// CheckConfig は必須の認証情報が揃っているかを確認する（通信は行わない）
	CheckConfig() error
	// CreateContact は連絡先を作成する。重複時は ErrDuplicateContact をラップしたエラーを返す
	CreateContact(ctx context.Context, contact Contact) (*Contact, error)
	// SearchByEmail はメールアドレスが完全一致する連絡先を返す
	SearchByEmail(ctx context.Context, email string) (*Contact, error)
	// UpdateContact は既存の連絡先を更新する
	UpdateContact(ctx context.Context, id string, contact Contact) (*Contact, error)
}

// Config holds the client settings. Zero values fall back to defaults.
type Config struct {
	BaseURL          string
	APIKey           string
	LocationID       string
	Timeout          time.Duration
	ConflictStatuses []int
	// Transport overrides the HTTP transport, e.g. for instrumentation.
	Transport http.RoundTripper
}

// RealClient は GoHighLevel API への raw HTTP クライアント実装
type RealClient struct {
	baseURL          string
	apiKey           string
	locationID       string
	conflictStatuses []int
	httpClient       *http.Client
}

var _ Client = (*RealClient)(nil)

// NewClient は RealClient を生成する
func NewClient(cfg Config) *RealClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conflicts := cfg.ConflictStatuses
	if len(conflicts) == 0 {
		conflicts = DefaultConflictStatuses
	}
	return &RealClient{
		baseURL:          baseURL,
		apiKey:           strings.TrimSpace(cfg.APIKey),
		locationID:       strings.TrimSpace(cfg.LocationID),
		conflictStatuses: slices.Clone(conflicts),
		httpClient:       &http.Client{Timeout: timeout, Transport: cfg.Transport},
	}
}

// CheckConfig reports missing credentials without any network I/O.
func (c *RealClient) CheckConfig() error {
	var missing []string
	if c.apiKey == "" {
		missing = append(missing, "GHL_API_KEY")
	}
	if c.locationID == "" {
		missing = append(missing, "GHL_LOCATION_ID")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

type contactEnvelope struct {
	Contact *Contact `json:"contact"`
}

// CreateContact は POST /v1/contacts/ で連絡先を作成する
func (c *RealClient) CreateContact(ctx context.Context, contact Contact) (*Contact, error) {
	if err := c.CheckConfig(); err != nil {
		return nil, err
	}
	contact.ID = ""
	contact.LocationID = c.locationID

	var out contactEnvelope
	if err := c.do(ctx, "create contact", http.MethodPost, "/v1/contacts/", nil, contact, &out); err != nil {
		return nil, err
	}
	if out.Contact == nil || out.Contact.ID == "" {
		return nil, errors.New("crm create contact: empty contact in response")
	}
	return out.Contact, nil
}

// SearchByEmail は GET /v1/contacts/?locationId=&email= で連絡先を検索する。
// 結果のうち正規化したメールアドレスが完全一致するものだけを返す
func (c *RealClient) SearchByEmail(ctx context.Context, email string) (*Contact, error) {
	if err := c.CheckConfig(); err != nil {
		return nil, err
	}
	want := normalizeEmail(email)
	query := url.Values{}
	query.Set("locationId", c.locationID)
	query.Set("email", want)

	var out struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := c.do(ctx, "search contacts", http.MethodGet, "/v1/contacts/", query, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Contacts {
		if normalizeEmail(out.Contacts[i].Email) == want {
			return &out.Contacts[i], nil
		}
	}
	return nil, ErrContactNotFound
}

// UpdateContact は PUT /v1/contacts/{id} で連絡先を更新する
func (c *RealClient) UpdateContact(ctx context.Context, id string, contact Contact) (*Contact, error) {
	if err := c.CheckConfig(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.New("crm update contact: empty contact id")
	}
	contact.ID = ""
	contact.LocationID = ""

	var out contactEnvelope
	if err := c.do(ctx, "update contact", http.MethodPut, "/v1/contacts/"+url.PathEscape(id), nil, contact, &out); err != nil {
		return nil, err
	}
	if out.Contact == nil {
		// Some API versions answer 200 with an empty body.
		contact.ID = id
		return &contact, nil
	}
	return out.Contact, nil
}

func (c *RealClient) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("crm %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("crm %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("crm %s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Operation: op, StatusCode: resp.StatusCode, Body: string(raw)}
		if method == http.MethodPost && slices.Contains(c.conflictStatuses, resp.StatusCode) {
			apiErr.Err = ErrDuplicateContact
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("crm %s: decode response: %w", op, err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
