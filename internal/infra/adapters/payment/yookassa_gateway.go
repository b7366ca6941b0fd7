package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
)

var _ adapter.PaymentProvider = (*YooKassaGateway)(nil)

const defaultYooKassaBaseURL = "https://api.yookassa.ru/v3"

// YooKassaGateway implements adapter.PaymentProvider over the YooKassa REST v3 API.
type YooKassaGateway struct {
	shopID    string
	secretKey string
	baseURL   string
	returnURL string
	client    *http.Client
}

// NewYooKassaGateway accepts empty credentials; the gateway then reports
// itself as not configured and every call fails.
func NewYooKassaGateway(shopID, secretKey, baseURL, returnURL string) (*YooKassaGateway, error) {
	if baseURL == "" {
		baseURL = defaultYooKassaBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	return &YooKassaGateway{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		returnURL: returnURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *YooKassaGateway) Name() string     { return "yookassa" }
func (g *YooKassaGateway) Configured() bool { return g.shopID != "" && g.secretKey != "" }

func (g *YooKassaGateway) CreatePayment(ctx context.Context, req adapter.CreatePaymentRequest) (*adapter.CreatePaymentResult, error) {
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = g.returnURL
	}
	body := createPaymentBody{
		Amount:            Amount{Value: req.Amount.StringFixed(2), Currency: req.Currency},
		Capture:           true,
		Confirmation:      &Confirmation{Type: "redirect", ReturnURL: returnURL},
		Description:       truncate(req.Description, 128),
		Metadata:          req.Metadata,
		SavePaymentMethod: req.SavePaymentMethod,
	}
	var out PaymentObject
	if err := g.do(ctx, http.MethodPost, "/payments", req.IdempotenceKey, body, &out); err != nil {
		return nil, err
	}
	res := &adapter.CreatePaymentResult{ProviderPaymentID: out.ID, Status: out.Status}
	if out.Confirmation != nil {
		res.ConfirmationURL = out.Confirmation.ConfirmationURL
	}
	return res, nil
}

// GetPaymentInfo returns domain.ErrNotFound for a 404.
func (g *YooKassaGateway) GetPaymentInfo(ctx context.Context, providerPaymentID string) (*model.ProviderPayment, error) {
	var out PaymentObject
	if err := g.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(providerPaymentID), "", nil, &out); err != nil {
		return nil, err
	}
	p, err := out.ToModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *YooKassaGateway) CancelPayment(ctx context.Context, providerPaymentID, idempotenceKey string) error {
	return g.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(providerPaymentID)+"/cancel", idempotenceKey, struct{}{}, nil)
}

func (g *YooKassaGateway) do(ctx context.Context, method, path, idemKey string, in, out any) error {
	if !g.Configured() {
		return domain.ErrProviderNotConfigured
	}
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotence-Key", idemKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&apiErr)
		return fmt.Errorf("yookassa %s %s: http %d %s %s", method, path, resp.StatusCode, apiErr.Code, apiErr.Description)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode yookassa response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var errEmptyPaymentID = errors.New("yookassa: payment object without id")
