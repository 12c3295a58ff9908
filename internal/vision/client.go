package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/artify-labs/artify/internal/breaker"
	"github.com/artify-labs/artify/pkg/models"
	"github.com/sony/gobreaker"
)

// Sentinel errors for detection failures.
var (
	ErrDetectorUnavailable = errors.New("detector unavailable")
	ErrDetectorBadResponse = errors.New("detector bad response")
	ErrDetectorTimeout     = errors.New("detector timeout")
)

// Image is the payload sent for detection.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Detector labels the objects in an image.
type Detector interface {
	Detect(ctx context.Context, img Image) ([]models.Detection, error)
}

// HTTPDetector posts the image as multipart field "file" to a detection service.
type HTTPDetector struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPDetector creates a detector client. timeout bounds a single call.
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker.New("detection", breaker.Settings{}),
	}
}

func (d *HTTPDetector) Detect(ctx context.Context, img Image) ([]models.Detection, error) {
	dets, err := breaker.Execute(d.breaker, func() ([]models.Detection, error) {
		return d.detect(ctx, img)
	})
	if breaker.IsOpen(err) {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	return dets, err
}

func (d *HTTPDetector) detect(ctx context.Context, img Image) ([]models.Detection, error) {
	body, contentType, err := multipartBody(img)
	if err != nil {
		return nil, fmt.Errorf("building request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrDetectorUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrDetectorBadResponse, resp.StatusCode)
	}

	var detResp detectResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&detResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrDetectorBadResponse, err)
	}
	return detResp.detections()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(img Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := img.Filename
	if filename == "" {
		filename = "upload"
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDetectorTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrDetectorTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
}

// Labels extracts the object names from detections, in order.
func Labels(dets []models.Detection) []string {
	labels := make([]string, 0, len(dets))
	for _, d := range dets {
		labels = append(labels, d.Object)
	}
	return labels
}

// --- detection response types ---

// detectResponse accepts both {"detections": [...]} and the older
// {"detected_objects": [...]} shape.
type detectResponse struct {
	Detections      *[]models.Detection `json:"detections"`
	DetectedObjects *[]models.Detection `json:"detected_objects"`
}

func (r detectResponse) detections() ([]models.Detection, error) {
	switch {
	case r.Detections != nil:
		return nonNil(*r.Detections), nil
	case r.DetectedObjects != nil:
		return nonNil(*r.DetectedObjects), nil
	}
	return nil, fmt.Errorf("%w: missing detections field", ErrDetectorBadResponse)
}

func nonNil(dets []models.Detection) []models.Detection {
	if dets == nil {
		return []models.Detection{}
	}
	return dets
}

// Compile-time check that HTTPDetector implements Detector.
var _ Detector = (*HTTPDetector)(nil)
