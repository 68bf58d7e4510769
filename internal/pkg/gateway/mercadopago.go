package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

const defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"

// MercadoPagoGateway adapts the MercadoPago preapproval API onto the shared
// capability contract. MercadoPago reports money as major-unit decimals, so
// every inbound amount is converted to minor units and every outbound amount
// back to decimals. The provider has no first-class product/price objects;
// the adapter synthesizes deterministic placeholder identifiers and carries
// the real amount/currency/interval as typed response fields.
type MercadoPagoGateway struct {
	AccessToken   string
	WebhookSecret string
	APIBaseURL    string

	HTTPClient *http.Client
}

func NewMercadoPagoGateway(accessToken, webhookSecret, apiBaseURL string) *MercadoPagoGateway {
	base := strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	if base == "" {
		base = defaultMercadoPagoAPIBaseURL
	}
	return &MercadoPagoGateway{
		AccessToken:   accessToken,
		WebhookSecret: webhookSecret,
		APIBaseURL:    base,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (g *MercadoPagoGateway) Provider() string {
	return ProviderMercadoPago
}

// CreateProduct synthesizes a placeholder identifier; MercadoPago has no
// product object to create remotely.
func (g *MercadoPagoGateway) CreateProduct(_ context.Context, req ProductRequest) (*ProductResponse, error) {
	return &ProductResponse{
		ID:   "mp_product_" + slug.Make(req.Name),
		Name: req.Name,
	}, nil
}

func (g *MercadoPagoGateway) UpdateProduct(_ context.Context, productID string, req ProductRequest) (*ProductResponse, error) {
	return &ProductResponse{ID: productID, Name: req.Name}, nil
}

// CreatePrice synthesizes a deterministic placeholder identifier so
// downstream code can still address "a price". Amount, currency and interval
// travel as typed fields; the identifier is never parsed back.
func (g *MercadoPagoGateway) CreatePrice(_ context.Context, req PriceRequest) (*PriceResponse, error) {
	return &PriceResponse{
		ID:        fmt.Sprintf("mp_price_%s_%d_%s", slug.Make(req.ProductID), req.Amount, req.Interval),
		ProductID: req.ProductID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Interval:  req.Interval,
	}, nil
}

func (g *MercadoPagoGateway) UpdatePrice(ctx context.Context, _ string, req PriceRequest) (*PriceResponse, error) {
	return g.CreatePrice(ctx, req)
}

type mpCustomer struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

func (g *MercadoPagoGateway) GetOrCreateCustomer(ctx context.Context, req CustomerRequest) (*CustomerResponse, error) {
	q := url.Values{}
	q.Set("email", req.Email)

	var search struct {
		Results []mpCustomer `json:"results"`
	}
	if err := g.doRequest(ctx, http.MethodGet, "/v1/customers/search?"+q.Encode(), nil, &search); err != nil {
		return nil, fmt.Errorf("mercadopago: search customer: %w", err)
	}
	if len(search.Results) > 0 {
		return &CustomerResponse{ID: search.Results[0].ID, Email: search.Results[0].Email}, nil
	}

	body := map[string]interface{}{
		"email":      req.Email,
		"first_name": req.Name,
	}
	var created mpCustomer
	if err := g.doRequest(ctx, http.MethodPost, "/v1/customers", body, &created); err != nil {
		return nil, fmt.Errorf("mercadopago: create customer: %w", err)
	}
	return &CustomerResponse{ID: created.ID, Email: created.Email}, nil
}

func (g *MercadoPagoGateway) UpdateCustomer(ctx context.Context, customerID string, req CustomerRequest) (*CustomerResponse, error) {
	body := map[string]interface{}{
		"email":      req.Email,
		"first_name": req.Name,
	}
	var updated mpCustomer
	if err := g.doRequest(ctx, http.MethodPut, "/v1/customers/"+url.PathEscape(customerID), body, &updated); err != nil {
		return nil, fmt.Errorf("mercadopago: update customer %s: %w", customerID, err)
	}
	return &CustomerResponse{ID: updated.ID, Email: updated.Email}, nil
}

type mpPreapproval struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	PayerID           int64  `json:"payer_id"`
	PayerEmail        string `json:"payer_email"`
	ExternalReference string `json:"external_reference"`
	InitPoint         string `json:"init_point"`
	DateCreated       string `json:"date_created"`
	NextPaymentDate   string `json:"next_payment_date"`
	AutoRecurring     struct {
		Frequency         int     `json:"frequency"`
		FrequencyType     string  `json:"frequency_type"`
		TransactionAmount float64 `json:"transaction_amount"`
		CurrencyID        string  `json:"currency_id"`
		FreeTrial         *struct {
			Frequency     int    `json:"frequency"`
			FrequencyType string `json:"frequency_type"`
		} `json:"free_trial"`
	} `json:"auto_recurring"`
}

func (g *MercadoPagoGateway) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResponse, error) {
	autoRecurring := map[string]interface{}{
		"frequency":          1,
		"frequency_type":     mpFrequencyType(req.Interval),
		"transaction_amount": FromMinorUnits(req.Amount),
		"currency_id":        strings.ToUpper(req.Currency),
	}
	if req.TrialEnd != nil {
		days := int(time.Until(*req.TrialEnd).Hours() / 24)
		if days > 0 {
			autoRecurring["free_trial"] = map[string]interface{}{
				"frequency":      days,
				"frequency_type": "days",
			}
		}
	}

	body := map[string]interface{}{
		"reason":             req.Reason,
		"external_reference": req.ExternalReference,
		"payer_email":        req.CustomerEmail,
		"auto_recurring":     autoRecurring,
	}
	if req.PaymentMethodID != "" {
		body["card_token_id"] = req.PaymentMethodID
		body["status"] = "authorized"
	}

	var pre mpPreapproval
	if err := g.doRequest(ctx, http.MethodPost, "/preapproval", body, &pre); err != nil {
		return nil, fmt.Errorf("mercadopago: create preapproval: %w", err)
	}
	return g.toSubscriptionResponse(&pre), nil
}

func (g *MercadoPagoGateway) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResponse, error) {
	var pre mpPreapproval
	if err := g.doRequest(ctx, http.MethodGet, "/preapproval/"+url.PathEscape(subscriptionID), nil, &pre); err != nil {
		return nil, fmt.Errorf("mercadopago: get preapproval %s: %w", subscriptionID, err)
	}
	return g.toSubscriptionResponse(&pre), nil
}

func (g *MercadoPagoGateway) UpdateSubscription(ctx context.Context, subscriptionID string, upd SubscriptionUpdate) (*SubscriptionResponse, error) {
	body := map[string]interface{}{}
	if upd.Reason != "" {
		body["reason"] = upd.Reason
	}
	if upd.Amount > 0 {
		body["auto_recurring"] = map[string]interface{}{
			"transaction_amount": FromMinorUnits(upd.Amount),
			"currency_id":        strings.ToUpper(upd.Currency),
		}
	}

	var pre mpPreapproval
	if err := g.doRequest(ctx, http.MethodPut, "/preapproval/"+url.PathEscape(subscriptionID), body, &pre); err != nil {
		return nil, fmt.Errorf("mercadopago: update preapproval %s: %w", subscriptionID, err)
	}
	return g.toSubscriptionResponse(&pre), nil
}

// CancelSubscription pauses the preapproval for end-of-period semantics and
// cancels it outright for immediate termination; MercadoPago has no native
// deferred cancel.
func (g *MercadoPagoGateway) CancelSubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) (*SubscriptionResponse, error) {
	status := "cancelled"
	if cancelAtPeriodEnd {
		status = "paused"
	}

	var pre mpPreapproval
	if err := g.doRequest(ctx, http.MethodPut, "/preapproval/"+url.PathEscape(subscriptionID), map[string]interface{}{"status": status}, &pre); err != nil {
		return nil, fmt.Errorf("mercadopago: cancel preapproval %s: %w", subscriptionID, err)
	}
	resp := g.toSubscriptionResponse(&pre)
	resp.CancelAtPeriodEnd = cancelAtPeriodEnd
	return resp, nil
}

func (g *MercadoPagoGateway) ResumeSubscription(ctx context.Context, subscriptionID string) (*SubscriptionResponse, error) {
	var pre mpPreapproval
	if err := g.doRequest(ctx, http.MethodPut, "/preapproval/"+url.PathEscape(subscriptionID), map[string]interface{}{"status": "authorized"}, &pre); err != nil {
		return nil, fmt.Errorf("mercadopago: resume preapproval %s: %w", subscriptionID, err)
	}
	return g.toSubscriptionResponse(&pre), nil
}

func (g *MercadoPagoGateway) GetSubscriptionPayments(ctx context.Context, subscriptionID string) ([]PaymentRecord, error) {
	q := url.Values{}
	q.Set("preapproval_id", subscriptionID)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")

	var search struct {
		Results []struct {
			ID                json.Number `json:"id"`
			Status            string      `json:"status"`
			TransactionAmount float64     `json:"transaction_amount"`
			CurrencyID        string      `json:"currency_id"`
			DateApproved      string      `json:"date_approved"`
		} `json:"results"`
	}
	if err := g.doRequest(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, &search); err != nil {
		return nil, fmt.Errorf("mercadopago: search payments for %s: %w", subscriptionID, err)
	}

	payments := make([]PaymentRecord, 0, len(search.Results))
	for _, res := range search.Results {
		record := PaymentRecord{
			ID:       res.ID.String(),
			Amount:   ToMinorUnits(res.TransactionAmount),
			Currency: res.CurrencyID,
			Status:   mapMercadoPagoPaymentStatus(res.Status),
		}
		if t, err := time.Parse(time.RFC3339, res.DateApproved); err == nil {
			record.PaidAt = &t
		}
		payments = append(payments, record)
	}
	return payments, nil
}

// VerifyWebhookSignature checks the x-signature header (ts/v1 format) against
// an HMAC-SHA256 of "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func (g *MercadoPagoGateway) VerifyWebhookSignature(payload []byte, signature, requestID string) bool {
	secret := strings.TrimSpace(g.WebhookSecret)
	if secret == "" || strings.TrimSpace(signature) == "" {
		return false
	}

	var ts, v1 string
	for _, part := range strings.Split(signature, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	expectedSig, err := hex.DecodeString(strings.ToLower(v1))
	if err != nil {
		return false
	}

	dataID := extractMercadoPagoDataID(payload)
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hmac.Equal(mac.Sum(nil), expectedSig)
}

func (g *MercadoPagoGateway) ParseWebhookEvent(payload []byte, _ map[string]string) (*ParsedWebhookEvent, error) {
	var raw struct {
		ID          json.Number            `json:"id"`
		Type        string                 `json:"type"`
		Action      string                 `json:"action"`
		DateCreated string                 `json:"date_created"`
		Data        map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("mercadopago: parse webhook payload: %w", err)
	}

	eventType := raw.Action
	if eventType == "" {
		eventType = raw.Type
	}
	if eventType == "" {
		return nil, fmt.Errorf("mercadopago: webhook payload missing type")
	}

	timestamp := time.Now()
	if t, err := time.Parse(time.RFC3339, raw.DateCreated); err == nil {
		timestamp = t
	}

	return &ParsedWebhookEvent{
		ID:        raw.ID.String(),
		Type:      eventType,
		Data:      raw.Data,
		Timestamp: timestamp,
	}, nil
}

func (g *MercadoPagoGateway) NormalizeSubscriptionStatus(status string) SubscriptionStatus {
	return mapMercadoPagoSubscriptionStatus(status)
}

func (g *MercadoPagoGateway) NormalizePaymentStatus(status string) PaymentStatus {
	return mapMercadoPagoPaymentStatus(status)
}

// AmountToMinorUnits converts MercadoPago's major-unit decimals to cents.
func (g *MercadoPagoGateway) AmountToMinorUnits(amount float64) int64 {
	return ToMinorUnits(amount)
}

func (g *MercadoPagoGateway) toSubscriptionResponse(pre *mpPreapproval) *SubscriptionResponse {
	resp := &SubscriptionResponse{
		ID:                pre.ID,
		Status:            mapMercadoPagoSubscriptionStatus(pre.Status),
		ExternalReference: pre.ExternalReference,
		CheckoutURL:       pre.InitPoint,
	}
	if pre.PayerID > 0 {
		resp.CustomerID = fmt.Sprintf("%d", pre.PayerID)
	}
	if t, err := time.Parse(time.RFC3339, pre.DateCreated); err == nil {
		resp.CurrentPeriodStart = &t
	}
	if t, err := time.Parse(time.RFC3339, pre.NextPaymentDate); err == nil {
		resp.CurrentPeriodEnd = &t
	}
	if ar := pre.AutoRecurring.FreeTrial; ar != nil && resp.CurrentPeriodStart != nil && ar.FrequencyType == "days" {
		trialEnd := resp.CurrentPeriodStart.AddDate(0, 0, ar.Frequency)
		resp.TrialEnd = &trialEnd
	}
	return resp
}

func (g *MercadoPagoGateway) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.APIBaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return err
		}
	}
	return nil
}

func extractMercadoPagoDataID(payload []byte) string {
	var raw struct {
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ""
	}
	return raw.Data.ID.String()
}

func mpFrequencyType(interval string) string {
	if strings.ToLower(strings.TrimSpace(interval)) == "year" {
		return "years"
	}
	return "months"
}

func mapMercadoPagoSubscriptionStatus(status string) SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending":
		return SubscriptionPending
	case "authorized":
		return SubscriptionActive
	case "paused":
		return SubscriptionPastDue
	case "cancelled":
		return SubscriptionCanceled
	case "unpaid":
		return SubscriptionUnpaid
	default:
		return SubscriptionPending
	}
}

func mapMercadoPagoPaymentStatus(status string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "paid":
		return PaymentApproved
	case "authorized":
		return PaymentAuthorized
	case "in_process", "open", "draft":
		return PaymentInProcess
	case "rejected", "uncollectible":
		return PaymentRejected
	case "cancelled", "void":
		return PaymentCancelled
	case "refunded":
		return PaymentRefunded
	case "charged_back":
		return PaymentChargedBack
	default:
		return PaymentPending
	}
}
