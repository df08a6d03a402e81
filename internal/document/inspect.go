// Package document valida localmente los archivos antes de enviarlos al backend.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"sarkari-sahayak/internal/backend"
	"sarkari-sahayak/internal/domain"
)

const (
	MimePDF         = "application/pdf"
	DefaultMaxBytes = 10 << 20
)

var genericMimeTypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
	"application/unknown":      true,
}

// Inspector rechaza archivos vacios, demasiado grandes o de tipo no soportado.
type Inspector struct {
	maxBytes int64
	logger   *zap.Logger
}

func NewInspector(maxBytes int64, logger *zap.Logger) *Inspector {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{maxBytes: maxBytes, logger: logger}
}

// Inspect devuelve el documento con su tipo MIME resuelto. Los fallos son errores de
// validacion del campo "file" y nunca llegan a la red.
func (i *Inspector) Inspect(name string, data []byte, declaredMime string) (domain.Document, error) {
	if len(data) == 0 {
		return domain.Document{}, invalid("empty file")
	}
	if int64(len(data)) > i.maxBytes {
		return domain.Document{}, invalid(fmt.Sprintf("file exceeds %d bytes", i.maxBytes))
	}

	mimeType := resolveMime(declaredMime, data)
	if !Supported(mimeType) {
		return domain.Document{}, invalid("unsupported mime type: " + mimeType)
	}

	if mimeType == MimePDF {
		pages, err := pdfPageCount(data)
		if err != nil {
			i.logger.Warn("pdf precheck failed", zap.String("name", name), zap.Error(err))
			return domain.Document{}, invalid("unreadable pdf")
		}
		i.logger.Info("pdf precheck ok", zap.String("name", name), zap.Int("pages", pages))
	}

	if strings.TrimSpace(name) == "" {
		name = "document"
	}
	return domain.Document{Name: name, MimeType: mimeType, Data: data}, nil
}

// Supported acepta imagenes y PDF.
func Supported(mimeType string) bool {
	return mimeType == MimePDF || strings.HasPrefix(mimeType, "image/")
}

func resolveMime(declared string, data []byte) string {
	clean := baseMime(declared)
	detected := baseMime(mimetype.Detect(data).String())
	if genericMimeTypes[clean] || Supported(detected) {
		return detected
	}
	return clean
}

func baseMime(m string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(m, ";")[0]))
}

func pdfPageCount(data []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}

func invalid(reason string) error {
	err := backend.NewValidationError(backend.OpDocument, "file")
	err.Err = errors.New(reason)
	return err
}
