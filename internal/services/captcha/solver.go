// Package captcha reads the portal's three-digit login CAPTCHA by running
// OCR over the raw image and several preprocessed variants.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// CodeLength is the length of every portal CAPTCHA.
const CodeLength = 3

type attempt struct {
	text       string
	confidence float64
	strategy   string
}

func (a attempt) valid() bool { return len(a.text) == CodeLength }

// Solver picks the best OCR reading across strategies.
type Solver struct {
	rec     Recognizer
	tempDir string
	log     *zap.Logger
}

func NewSolver(rec Recognizer, tempDir string, log *zap.Logger) *Solver {
	return &Solver{rec: rec, tempDir: tempDir, log: log.Named("captcha")}
}

// SolveFile returns the highest-confidence three-digit reading of the image,
// or the longest reading when none has three digits. It never fails; the
// result may be empty or wrong. strategyNames restricts the preprocessing
// strategies; none means all.
func (s *Solver) SolveFile(ctx context.Context, imagePath string, strategyNames ...string) string {
	var results []attempt

	if res, err := s.rec.Recognize(ctx, imagePath); err != nil {
		s.log.Warn("Raw OCR failed", zap.Error(err))
	} else {
		s.log.Debug("Raw OCR", zap.String("raw", res.Raw), zap.String("text", res.Text), zap.Float64("confidence", res.Confidence))
		results = append(results, attempt{text: res.Text, confidence: res.Confidence, strategy: "raw"})
	}

	for _, st := range s.selectStrategies(strategyNames) {
		if ctx.Err() != nil {
			break
		}
		a, err := s.tryStrategy(ctx, imagePath, st)
		if err != nil {
			s.log.Warn("Strategy failed", zap.String("strategy", st.Name), zap.Error(err))
			continue
		}
		s.log.Debug("Strategy result",
			zap.String("strategy", a.strategy),
			zap.String("text", a.text),
			zap.Float64("confidence", a.confidence),
			zap.Bool("valid", a.valid()),
		)
		results = append(results, a)
	}

	return s.pick(results)
}

func (s *Solver) pick(results []attempt) string {
	var valid []attempt
	for _, r := range results {
		if r.valid() {
			valid = append(valid, r)
		}
	}
	if len(valid) > 0 {
		sort.SliceStable(valid, func(i, j int) bool { return valid[i].confidence > valid[j].confidence })
		best := valid[0]
		s.log.Info("CAPTCHA solved", zap.String("text", best.text), zap.String("strategy", best.strategy), zap.Float64("confidence", best.confidence))
		return best.text
	}

	best := ""
	for _, r := range results {
		if len(r.text) > len(best) {
			best = r.text
		}
	}
	s.log.Warn("No valid three-digit result", zap.String("guess", best))
	return best
}

func (s *Solver) selectStrategies(names []string) []Strategy {
	if len(names) == 0 {
		return Strategies
	}
	var out []Strategy
	for _, n := range names {
		st, ok := strategyByName(n)
		if !ok {
			s.log.Warn("Unknown strategy", zap.String("strategy", n))
			continue
		}
		out = append(out, st)
	}
	return out
}

func (s *Solver) tryStrategy(ctx context.Context, imagePath string, st Strategy) (attempt, error) {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return attempt{}, fmt.Errorf("failed to open image: %w", err)
	}

	ext := filepath.Ext(imagePath)
	base := strings.TrimSuffix(filepath.Base(imagePath), ext)
	out := filepath.Join(s.dir(), fmt.Sprintf("%s_preprocessed_%s.png", base, st.Name))
	if err := imaging.Save(st.Apply(img), out); err != nil {
		return attempt{}, fmt.Errorf("failed to save preprocessed image: %w", err)
	}
	defer removeQuietly(out)

	res, err := s.rec.Recognize(ctx, out)
	if err != nil {
		return attempt{}, err
	}
	return attempt{text: res.Text, confidence: res.Confidence, strategy: st.Name}, nil
}

func (s *Solver) dir() string {
	if s.tempDir == "" {
		return os.TempDir()
	}
	_ = os.MkdirAll(s.tempDir, 0o755)
	return s.tempDir
}

// SolveImage writes a captured image to the temp dir and solves it.
func (s *Solver) SolveImage(ctx context.Context, png []byte) (string, error) {
	if len(png) == 0 {
		return "", errors.New("empty captcha image")
	}
	path := filepath.Join(s.dir(), fmt.Sprintf("captcha_%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return "", fmt.Errorf("failed to write captcha image: %w", err)
	}
	defer removeQuietly(path)
	return s.SolveFile(ctx, path), nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		zap.L().Debug("Failed to remove temp captcha file", zap.String("path", path), zap.Error(err))
	}
}
