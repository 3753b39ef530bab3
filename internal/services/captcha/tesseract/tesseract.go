// Package tesseract is an in-process captcha.Recognizer backed by libtesseract.
// It needs cgo and the tesseract headers, so it lives apart from the
// subprocess recognizer.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"atabat-scraper/internal/services/captcha"
)

// Recognizer runs libtesseract on each image. A client is created per call
// because gosseract clients are not safe for concurrent use.
type Recognizer struct {
	Languages []string
	Whitelist string
}

func New() *Recognizer {
	return &Recognizer{
		Languages: []string{"fas", "eng"},
		Whitelist: "0123456789۰۱۲۳۴۵۶۷۸۹",
	}
}

func (r *Recognizer) Recognize(ctx context.Context, imagePath string) (captcha.Result, error) {
	if err := ctx.Err(); err != nil {
		return captcha.Result{}, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.Languages...); err != nil {
		return captcha.Result{}, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return captcha.Result{}, fmt.Errorf("failed to set page mode: %w", err)
	}
	if r.Whitelist != "" {
		if err := client.SetWhitelist(r.Whitelist); err != nil {
			return captcha.Result{}, fmt.Errorf("failed to set whitelist: %w", err)
		}
	}
	if err := client.SetImage(imagePath); err != nil {
		return captcha.Result{}, fmt.Errorf("failed to load image: %w", err)
	}

	raw, err := client.Text()
	if err != nil {
		return captcha.Result{}, fmt.Errorf("tesseract failed: %w", err)
	}

	return captcha.Result{
		Text:       captcha.CleanText(raw),
		Raw:        strings.TrimSpace(raw),
		Confidence: wordConfidence(client),
	}, nil
}

// wordConfidence averages word confidences on a 0..1 scale.
func wordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)) / 100
}
