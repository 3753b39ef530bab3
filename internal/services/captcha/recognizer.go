package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"atabat-scraper/internal/digits"
)

// Result is one OCR reading.
type Result struct {
	Text       string  `json:"text"`
	Raw        string  `json:"raw,omitempty"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Recognizer reads the text of an image file.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (Result, error)
}

// plainTextConfidence is assigned when the engine reports no score.
const plainTextConfidence = 0.5

// CommandRecognizer runs an OCR program per image. Args may contain
// "{image}", which is replaced by the image path; without it the path is
// appended. The program prints either a JSON Result or plain text.
type CommandRecognizer struct {
	Command string
	Args    []string
}

func NewCommandRecognizer(command, args string) *CommandRecognizer {
	return &CommandRecognizer{Command: command, Args: strings.Fields(args)}
}

func (r *CommandRecognizer) Recognize(ctx context.Context, imagePath string) (Result, error) {
	args := make([]string, 0, len(r.Args)+1)
	replaced := false
	for _, a := range r.Args {
		if strings.Contains(a, "{image}") {
			a = strings.ReplaceAll(a, "{image}", imagePath)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, imagePath)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("ocr command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseOutput(stdout.String())
}

// ParseOutput reads an OCR program's stdout.
func ParseOutput(out string) (Result, error) {
	out = strings.TrimSpace(out)
	var res Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return Result{Text: CleanText(out), Raw: out, Confidence: plainTextConfidence}, nil
	}
	if res.Error != "" {
		return Result{}, fmt.Errorf("ocr reported: %s", res.Error)
	}
	if res.Raw == "" {
		res.Raw = res.Text
	}
	res.Text = CleanText(res.Text)
	return res, nil
}

// CleanText keeps only the digits of an OCR reading, localized digits
// converted to ASCII.
func CleanText(raw string) string {
	return digits.OnlyDigits(raw)
}
