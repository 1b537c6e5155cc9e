package booking

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// IBooking is the boundary to the external scheduling provider. The engine hands over
// normalized extracted fields and receives an appointment identifier or a failure.
type IBooking interface {
	CreateAppointment(ctx context.Context, req AppointmentRequest) (*AppointmentResult, error)
}

type AppointmentRequest struct {
	CompanyID      string `json:"company_id"`
	CallID         string `json:"call_id"`
	CustomerName   string `json:"customer_name"`
	CallbackNumber string `json:"callback_number"`
	ServiceAddress string `json:"service_address"`
	ProblemSummary string `json:"problem_summary"`
	TimePreference string `json:"time_preference"`
	AccessNotes    string `json:"access_notes,omitempty"`
	Urgency        string `json:"urgency,omitempty"`
}

type AppointmentResult struct {
	AppointmentID string `json:"appointment_id"`
	ScheduledFor  string `json:"scheduled_for,omitempty"`
}

type bookingClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logrus.Logger
}

func New(log *logrus.Logger) IBooking {
	return &bookingClient{
		baseURL: os.Getenv("BOOKING_API_URL"),
		apiKey:  os.Getenv("BOOKING_API_KEY"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

func (b *bookingClient) CreateAppointment(ctx context.Context, req AppointmentRequest) (*AppointmentResult, error) {
	payload, err := jsoniter.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode appointment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/appointments", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("booking provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b.log.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"call_id": req.CallID,
		}).Error("Booking provider rejected appointment")
		return nil, fmt.Errorf("booking provider returned status %d", resp.StatusCode)
	}

	var result AppointmentResult
	if err := jsoniter.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode appointment response: %w", err)
	}

	if result.AppointmentID == "" {
		return nil, fmt.Errorf("booking provider returned empty appointment id")
	}

	return &result, nil
}
