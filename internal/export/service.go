package export

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/store"
)

const defaultPDFTimeout = 30 * time.Second

// Service renders printable exports.
type Service struct {
	pdfTimeout time.Duration
	lookPath   func(string) (string, error)
	now        func() time.Time
	logger     *zap.Logger
}

type Option func(*Service)

func WithPDFTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.pdfTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(opts ...Option) *Service {
	s := &Service{
		pdfTimeout: defaultPDFTimeout,
		lookPath:   exec.LookPath,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RoleSectionPDF prints the section through headless Chrome.
func (s *Service) RoleSectionPDF(ctx context.Context, section store.RoleSection) (*Result, error) {
	html, err := RenderRoleSectionHTML(TemplateData{Section: section, GeneratedAt: s.now()})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	if err := s.ensureChrome(); err != nil {
		return nil, err
	}
	started := time.Now()
	result, err := exportPDF(ctx, html, section.RoleTitle, s.pdfTimeout)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("role section pdf rendered",
		zap.String("role_section_id", section.RoleSectionID),
		zap.Int("bytes", len(result.Data)),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

// WorkbookSheet builds the XLSX progress sheet for a workbook.
func (s *Service) WorkbookSheet(wb store.Workbook) (*Result, error) {
	data, err := workbookSheet(wb)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s %d-W%02d", wb.PersonName, wb.WeekYear, wb.WeekNumber)
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(name) + ".xlsx",
		MimeType: MimeXLSX,
	}, nil
}

func (s *Service) ensureChrome() error {
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome"} {
		if _, err := s.lookPath(name); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
}
