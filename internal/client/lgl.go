package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lgl-sync/internal/config"

	"github.com/shopspring/decimal"
)

// LGLClient is the gateway to the Little Green Light CRM. No operation is
// atomic across calls; a payment create failing after a constituent create
// succeeded is a valid partial state the caller records.
type LGLClient interface {
	SearchConstituent(ctx context.Context, name, email string) (*Constituent, error)
	CreateConstituent(ctx context.Context, fields ConstituentFields) (*Constituent, error)
	UpdateConstituent(ctx context.Context, constituentID string, fields ConstituentFields) error
	CreatePayment(ctx context.Context, constituentID, fundID string, amount decimal.Decimal) (string, error)
	AddGroupMembership(ctx context.Context, constituentID, groupName string) error
	IsInGroup(ctx context.Context, constituentID, groupName string) (bool, error)
	CreateRelationship(ctx context.Context, constituentID, relatedID, typeName string) (string, error)
	DeleteRelationship(ctx context.Context, constituentID, relationshipID string) error
	ListRelationships(ctx context.Context, constituentID string) ([]Relationship, error)
}

type Constituent struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Status    string `json:"status"`
}

type ConstituentFields struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Status    string `json:"status,omitempty"`
}

type Relationship struct {
	ID       string `json:"id"`
	TypeName string `json:"name"`
	// RelatedID is the constituent on the other side of the link.
	RelatedID string `json:"related_constituent_id"`
}

// relationshipList tolerates both response shapes the API is known to
// return: {"items": [...]} and a bare array.
type relationshipList struct {
	Items []Relationship
}

func (l *relationshipList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &l.Items)
	}
	var wrapped struct {
		Items []Relationship `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return err
	}
	l.Items = wrapped.Items
	return nil
}

type lglClientImpl struct {
	httpClient *http.Client
	baseApiURL string
	apiKey     string
}

func NewLGLClient(lglCfg *config.LGL) LGLClient {
	return &lglClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL: strings.TrimRight(lglCfg.BaseApiURL, "/"),
		apiKey:     lglCfg.APIKey,
	}
}

func (c *lglClientImpl) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal req payload: %w", err)
		}
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, body)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("lgl error %d: %s", resp.StatusCode, string(b))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode lgl response: %w", err)
		}
	}

	return nil
}

func (c *lglClientImpl) SearchConstituent(ctx context.Context, name, email string) (*Constituent, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if email != "" {
		q.Set("email", email)
	}

	var result struct {
		Items []Constituent `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/constituents/search?"+q.Encode(), nil, &result); err != nil {
		return nil, fmt.Errorf("search constituent: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	return &result.Items[0], nil
}

func (c *lglClientImpl) CreateConstituent(ctx context.Context, fields ConstituentFields) (*Constituent, error) {
	var created Constituent
	if err := c.do(ctx, http.MethodPost, "/constituents", fields, &created); err != nil {
		return nil, fmt.Errorf("create constituent: %w", err)
	}

	return &created, nil
}

func (c *lglClientImpl) UpdateConstituent(ctx context.Context, constituentID string, fields ConstituentFields) error {
	path := fmt.Sprintf("/constituents/%s", constituentID)
	if err := c.do(ctx, http.MethodPatch, path, fields, nil); err != nil {
		return fmt.Errorf("update constituent: %w", err)
	}

	return nil
}

func (c *lglClientImpl) CreatePayment(ctx context.Context, constituentID, fundID string, amount decimal.Decimal) (string, error) {
	payload := map[string]interface{}{
		"fund_id":   fundID,
		"amount":    amount.StringFixed(2),
		"gift_type": "Gift",
	}

	var created struct {
		ID json.Number `json:"id"`
	}
	path := fmt.Sprintf("/constituents/%s/gifts", constituentID)
	if err := c.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return "", fmt.Errorf("create payment: %w", err)
	}

	return created.ID.String(), nil
}

func (c *lglClientImpl) AddGroupMembership(ctx context.Context, constituentID, groupName string) error {
	payload := map[string]string{"group_name": groupName}
	path := fmt.Sprintf("/constituents/%s/group_memberships", constituentID)
	if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("add group membership: %w", err)
	}

	return nil
}

func (c *lglClientImpl) IsInGroup(ctx context.Context, constituentID, groupName string) (bool, error) {
	var result struct {
		Items []struct {
			GroupName string `json:"group_name"`
		} `json:"items"`
	}
	path := fmt.Sprintf("/constituents/%s/group_memberships", constituentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return false, fmt.Errorf("list group memberships: %w", err)
	}

	for _, g := range result.Items {
		if strings.EqualFold(g.GroupName, groupName) {
			return true, nil
		}
	}

	return false, nil
}

func (c *lglClientImpl) CreateRelationship(ctx context.Context, constituentID, relatedID, typeName string) (string, error) {
	payload := map[string]string{
		"related_constituent_id": relatedID,
		"name":                   typeName,
	}

	var created struct {
		ID json.Number `json:"id"`
	}
	path := fmt.Sprintf("/constituents/%s/relationships", constituentID)
	if err := c.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return "", fmt.Errorf("create relationship: %w", err)
	}

	return created.ID.String(), nil
}

func (c *lglClientImpl) DeleteRelationship(ctx context.Context, constituentID, relationshipID string) error {
	path := fmt.Sprintf("/constituents/%s/relationships/%s", constituentID, relationshipID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}

	return nil
}

func (c *lglClientImpl) ListRelationships(ctx context.Context, constituentID string) ([]Relationship, error) {
	var list relationshipList
	path := fmt.Sprintf("/constituents/%s/relationships", constituentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}

	return list.Items, nil
}
